package qpack

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, matching the taxonomy in spec.md §7.
var (
	// ErrNeedMore indicates that the input was truncated at a resumable
	// suspension point. The caller should supply more bytes and retry.
	ErrNeedMore = errors.New("qpack: need more input")

	// ErrNoBufEnc indicates that the caller's encoder-stream buffer is too
	// small to hold the next instruction. No table state was mutated.
	ErrNoBufEnc = errors.New("qpack: encoder stream buffer too small")

	// ErrNoBufHead indicates that the caller's header-block buffer is too
	// small to hold the next representation.
	ErrNoBufHead = errors.New("qpack: header block buffer too small")

	// ErrBlocked indicates the decoder is waiting on a future dynamic
	// table insertion before it can continue parsing a header block.
	ErrBlocked = errors.New("qpack: blocked on dynamic table insertion")

	// ErrAllocFailure is returned by the encoder table's insert when an
	// entry cannot fit even after evicting everything eligible; the planner
	// treats it as a soft failure and falls back to a literal.
	ErrAllocFailure = errors.New("qpack: allocation failure")

	// ErrIntegerOverflow is raised by the VarInt codec when a value would
	// exceed 63 bits.
	ErrIntegerOverflow = errors.New("qpack: integer overflow")

	// ErrIndexError covers references to a static or dynamic table index
	// that does not exist.
	ErrIndexError = errors.New("qpack: invalid table index")

	// ErrHuffmanDecode covers a Huffman bitstream that does not end in an
	// EOS-accepting state.
	ErrHuffmanDecode = errors.New("qpack: invalid Huffman encoding")

	// ErrUnknownStream / ErrBadTss cover specific malformed-input cases on
	// the control streams; ErrCancelPinned is returned by CancelHeader.
	ErrUnknownStream = errors.New("qpack: unknown stream id")
	ErrBadTss        = errors.New("qpack: invalid table state synchronize count")
	ErrCancelPinned  = errors.New("qpack: cannot cancel a header block that used the dynamic table")
)

// ErrorLocation identifies where in the codec a ProtocolError occurred, for
// GetLastError (spec.md §6).
type ErrorLocation int

const (
	// LocationHeaderBlock marks an error from the header-block parser (C12).
	LocationHeaderBlock ErrorLocation = iota
	// LocationEncoderStream marks an error from the encoder-stream parser (C11).
	LocationEncoderStream
	// LocationDecoderStream marks an error from the decoder-stream parser (C8 inbound).
	LocationDecoderStream
)

func (l ErrorLocation) String() string {
	switch l {
	case LocationHeaderBlock:
		return "header-block"
	case LocationEncoderStream:
		return "encoder-stream"
	case LocationDecoderStream:
		return "decoder-stream"
	default:
		return "unknown"
	}
}

// CodecError records the failing location alongside the underlying error
// and the stream id so that the caller can log or cancel. Line is always 0:
// no call site records a source line. Offset is the number of header-block
// bytes not yet consumed when the error occurred, and 0 for errors from the
// encoder and decoder streams.
type CodecError struct {
	Location ErrorLocation
	Line     int
	Offset   int
	StreamID uint64
	Err      error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("qpack: %s at line %d, offset %d (stream %d): %v",
		e.Location, e.Line, e.Offset, e.StreamID, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// wrapLocated attaches location context to err using pkg/errors, matching
// the teacher's habit of wrapping before returning from a parser entry point.
func wrapLocated(loc ErrorLocation, line, offset int, streamID uint64, err error) error {
	if err == nil {
		return nil
	}
	return &CodecError{Location: loc, Line: line, Offset: offset, StreamID: streamID, Err: errors.WithStack(err)}
}
