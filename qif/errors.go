package qif

import "errors"

// errBadLine is returned when a QIF line has no tab separator.
var errBadLine = errors.New("qif: header line missing tab separator")
