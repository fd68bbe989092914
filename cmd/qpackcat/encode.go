package main

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rmarx/goqpack"
	"github.com/rmarx/goqpack/qif"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var encodeFlags struct {
	capacity      int
	referenceable int
	maxBlocked    int
	acknowledge   bool
	verbose       bool
}

func newEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode [in.qif] [out.bin]",
		Short: "Encode a QIF file into framed QPACK wire bytes",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runEncode,
	}
	f := cmd.Flags()
	f.IntVar(&encodeFlags.capacity, "table-capacity", 4096, "dynamic table capacity")
	f.IntVar(&encodeFlags.referenceable, "referenceable-capacity", 4096, "initial (referenceable) dynamic table capacity")
	f.IntVar(&encodeFlags.maxBlocked, "max-blocked-streams", 0, "number of streams the decoder may block")
	f.BoolVar(&encodeFlags.acknowledge, "acknowledge", false, "acknowledge every block that references the dynamic table immediately, as if the decoder processed it inline")
	f.BoolVar(&encodeFlags.verbose, "verbose", false, "log each instruction emitted")
	return cmd
}

func runEncode(cmd *cobra.Command, args []string) error {
	in, out, err := openInOut(args)
	if err != nil {
		return err
	}
	defer in.Close()
	defer out.Close()

	logger := zap.NewNop()
	if encodeFlags.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}
	runID := uuid.New().String()
	logger = logger.With(zap.String("run", runID), zap.String("cmd", "encode"))

	enc, tsu := qpack.NewEncoder(encodeFlags.capacity, encodeFlags.referenceable, encodeFlags.maxBlocked)
	if err := writeFrame(out, controlStreamID, tsu); err != nil {
		return err
	}

	r := qif.NewReader(in)
	var streamID uint64
	for {
		block, err := r.ReadHeaderBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		streamID++
		encBuf := make([]byte, 0, 256)
		headBuf := make([]byte, 0, 256)
		enc.StartHeader(streamID, streamID)
		for _, hf := range block {
			for {
				var status qpack.Status
				encBuf, headBuf, status, err = enc.Encode(hf.Name, hf.Value, hf.Sensitive, encBuf, headBuf)
				if err != nil {
					return err
				}
				if status == qpack.StatusDone {
					break
				}
				// Grow whichever buffer was too small, preserving its
				// contents, and retry the same field.
				if status == qpack.StatusNoBufEnc {
					encBuf = growBuf(encBuf)
				} else {
					headBuf = growBuf(headBuf)
				}
			}
		}
		for {
			var status qpack.Status
			headBuf, status, err = enc.EndHeader(headBuf)
			if err != nil {
				return err
			}
			if status == qpack.StatusDone {
				break
			}
			headBuf = growBuf(headBuf)
		}

		logger.Debug("encoded block", zap.Uint64("stream", streamID), zap.Int("fields", len(block)),
			zap.Int("enc_bytes", len(encBuf)), zap.Int("head_bytes", len(headBuf)))

		if err := writeFrame(out, controlStreamID, encBuf); err != nil {
			return err
		}
		if err := writeFrame(out, streamID, headBuf); err != nil {
			return err
		}

		// Only blocks that referenced the dynamic table await an ack; their
		// prefix starts with a non-zero encoded largest reference.
		if encodeFlags.acknowledge && len(headBuf) > 0 && headBuf[0] != 0 {
			var ackBuf [16]byte
			ack := encodeSectionAck(ackBuf[:0], streamID)
			if err := enc.DecoderStreamIn(ack); err != nil {
				return err
			}
		}
	}

	cmd.Printf("ratio: %.3f\n", enc.Ratio())
	return nil
}

func openInOut(args []string) (io.ReadCloser, io.WriteCloser, error) {
	in := io.ReadCloser(os.Stdin)
	out := io.WriteCloser(os.Stdout)
	var err error
	if len(args) > 0 && args[0] != "-" {
		in, err = os.Open(args[0])
		if err != nil {
			return nil, nil, err
		}
	}
	if len(args) > 1 && args[1] != "-" {
		out, err = os.Create(args[1])
		if err != nil {
			in.Close()
			return nil, nil, err
		}
	}
	return in, out, nil
}

// encodeSectionAck writes a Section Acknowledgement decoder-stream
// instruction (spec.md §4.8), used only by -acknowledge to simulate an
// always-present decoder without spawning a second process.
func encodeSectionAck(dst []byte, streamID uint64) []byte {
	return qpack.EncodeVarInt(dst, 0x80, 7, streamID)
}
