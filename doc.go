// Package qpack implements the core of a QPACK header compression codec
// (draft-ietf-quic-qpack-05): an encoder and a decoder that cooperate over
// a header-block stream plus two unidirectional control streams.
//
// This package owns no transport. Callers hand it byte slices per logical
// stream and drive the encoder-stream / decoder-stream exchange themselves;
// see Encoder and Decoder.
package qpack
