// Package qif reads and writes the QPACK Offline Interop Format: one header
// block per paragraph, one "name\tvalue" pair per line, blocks separated by
// a blank line. It is the file format the interop test suite behind
// spec.md §8's "∀ header lists H: Decoder(Encoder(H)) == H" property uses to
// exchange fixtures between independent implementations. This is a test/
// tool concern, not part of the wire protocol (SPEC_FULL.md §2).
package qif

import (
	"bufio"
	"bytes"
	"io"

	"github.com/rmarx/goqpack"
)

// Reader reads a QIF file one header block at a time, grounded on the
// teacher's hc/qif/qif_parse.go Reader.
type Reader struct {
	r   *bufio.Reader
	eol bool
}

// NewReader wraps r as a QIF Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// readByte folds CRLF into a single line terminator the way the teacher's
// reader does: a '\n' immediately following a '\r' is swallowed.
func (qr *Reader) readByte() (byte, error) {
	b, err := qr.r.ReadByte()
	if err == nil && qr.eol && b == '\n' {
		b, err = qr.r.ReadByte()
	}
	qr.eol = b == '\r'
	return b, err
}

func (qr *Reader) readLine() ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := qr.readByte()
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			return nil, err
		}
		if b == '\r' || b == '\n' {
			return buf.Bytes(), nil
		}
		buf.WriteByte(b)
	}
}

// readHeaderField reads a single header field, skipping comment lines.
// Returns nil, nil at a blank line (end of block).
func (qr *Reader) readHeaderField() (*qpack.HeaderField, error) {
	line, err := qr.readLine()
	if err != nil {
		return nil, err
	}
	for len(line) > 0 && line[0] == '#' {
		line, err = qr.readLine()
		if err != nil {
			return nil, err
		}
	}
	if len(line) == 0 {
		return nil, nil
	}
	parts := bytes.SplitN(line, []byte{'\t'}, 2)
	if len(parts) != 2 {
		return nil, errBadLine
	}
	return &qpack.HeaderField{Name: string(parts[0]), Value: string(parts[1])}, nil
}

// ReadHeaderBlock reads one header block (a run of fields up to the next
// blank line or EOF). It returns io.EOF only when no fields were read at
// all, matching bufio.Scanner's end-of-stream convention.
func (qr *Reader) ReadHeaderBlock() ([]qpack.HeaderField, error) {
	var block []qpack.HeaderField
	for {
		hf, err := qr.readHeaderField()
		if err == io.EOF {
			if len(block) == 0 {
				return nil, io.EOF
			}
			return block, nil
		}
		if err != nil {
			return nil, err
		}
		if hf == nil {
			return block, nil
		}
		block = append(block, *hf)
	}
}

// Writer writes header blocks in QIF form.
type Writer struct {
	w       io.Writer
	started bool
}

// NewWriter wraps w as a QIF Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeaderBlock appends one header block, preceded by a blank line
// separator if a block was already written.
func (qw *Writer) WriteHeaderBlock(fields []qpack.HeaderField) error {
	if qw.started {
		if _, err := io.WriteString(qw.w, "\n"); err != nil {
			return err
		}
	}
	qw.started = true
	for _, f := range fields {
		if _, err := io.WriteString(qw.w, f.Name+"\t"+f.Value+"\n"); err != nil {
			return err
		}
	}
	return nil
}
