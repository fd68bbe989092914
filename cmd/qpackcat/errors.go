package main

import "errors"

var errIncompleteFrame = errors.New("qpackcat: frame did not decode to a complete header block")
