// Command qpackcat is the QPACK offline interop tool (spec.md §8): it
// encodes a QIF file to framed wire bytes, and decodes those bytes back to
// a QIF file, so two independent implementations can be tested against
// each other's output. Grounded on the teacher's hc/qif encode/decode
// pair, restructured as a single cobra-based binary with subcommands
// instead of a raw os.Args switch (SPEC_FULL.md §2).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "qpackcat",
		Short: "Encode/decode QIF header lists through the QPACK codec",
	}
	root.AddCommand(newEncodeCmd(), newDecodeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
