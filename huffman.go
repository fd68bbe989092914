package qpack

import "sync"

// HuffmanEncodedLen returns the number of bytes the Huffman encoding of s
// would occupy, without doing the encoding. The planner (C8) and the
// string writer use this to decide whether Huffman coding is a win before
// committing to it.
func HuffmanEncodedLen(s string) int {
	bits := 0
	for i := 0; i < len(s); i++ {
		bits += int(huffmanTable[s[i]].len)
	}
	return (bits + 7) / 8
}

// HuffmanEncode appends the Huffman encoding of s to dst, MSB-first,
// padding the trailing partial byte with 1-bits (the EOS code's prefix),
// matching the teacher's HuffmanCompressor.addEntry bit accumulator
// (root `huffman.go`, see DESIGN.md).
func HuffmanEncode(dst []byte, s string) []byte {
	var acc uint64
	var nbits uint
	for i := 0; i < len(s); i++ {
		c := huffmanTable[s[i]]
		acc = (acc << c.len) | uint64(c.code)
		nbits += uint(c.len)
		for nbits >= 8 {
			nbits -= 8
			dst = append(dst, byte(acc>>nbits))
		}
	}
	if nbits > 0 {
		// Pad with 1-bits, the prefix of the EOS code.
		pad := 8 - nbits
		b := byte(acc<<pad) | (0xff >> nbits)
		dst = append(dst, b)
	}
	return dst
}

// huffmanNode is a node in the bit-level decode tree built once from
// huffmanTable. This generalizes the teacher's root `huffman.go`
// HuffmanDecompressor tree (see DESIGN.md): that tree already carried its
// cursor across calls to Add, which is exactly the resumability spec.md
// §4.2/§9 calls for; we keep the bit-level walk rather than spec.md's
// 256x16 nibble transition table because the tree compiles to the same
// states with far less hand-maintained data, while remaining just as
// resumable (cursor persists across Feed calls).
type huffmanNode struct {
	children [2]*huffmanNode
	isLeaf   bool
	symbol   int
}

var (
	huffmanRoot     *huffmanNode
	huffmanRootOnce sync.Once
)

func getHuffmanRoot() *huffmanNode {
	huffmanRootOnce.Do(func() {
		root := &huffmanNode{}
		for sym, c := range huffmanTable {
			n := root
			for b := int(c.len) - 1; b >= 0; b-- {
				bit := (c.code >> uint(b)) & 1
				if n.children[bit] == nil {
					n.children[bit] = &huffmanNode{}
				}
				n = n.children[bit]
			}
			n.isLeaf = true
			n.symbol = sym
		}
		huffmanRoot = root
	})
	return huffmanRoot
}

// HuffmanDecoder is a resumable Huffman decoder: Feed may be called
// repeatedly with successive chunks of a Huffman-coded string, and Finish
// must be called once the declared string length has been consumed to
// validate EOS padding (spec.md §4.2: "accept only if eos is set").
type HuffmanDecoder struct {
	cursor     *huffmanNode
	allOnes    bool
	sawAnyBits bool
}

// NewHuffmanDecoder creates a decoder positioned at the root of the tree.
func NewHuffmanDecoder() *HuffmanDecoder {
	return &HuffmanDecoder{cursor: getHuffmanRoot(), allOnes: true}
}

// Feed decodes as many complete symbols as input contains, appending them
// to dst, and returns the result along with any remaining partial-symbol
// state retained internally.
func (d *HuffmanDecoder) Feed(dst []byte, input []byte) ([]byte, error) {
	root := getHuffmanRoot()
	for _, by := range input {
		for i := 7; i >= 0; i-- {
			bit := (by >> uint(i)) & 1
			d.sawAnyBits = true
			d.allOnes = d.allOnes && bit == 1
			next := d.cursor.children[bit]
			if next == nil {
				return dst, ErrHuffmanDecode
			}
			d.cursor = next
			if d.cursor.isLeaf {
				if d.cursor.symbol == eosSymbol {
					return dst, ErrHuffmanDecode
				}
				dst = append(dst, byte(d.cursor.symbol))
				d.cursor = root
				d.allOnes = true
				d.sawAnyBits = false
			}
		}
	}
	return dst, nil
}

const eosSymbol = 256

// Finish validates that any pending partial bits form a valid EOS prefix
// (all 1-bits, per spec.md §4.2) and resets the decoder. It returns
// ErrHuffmanDecode if the stream ended mid-symbol on anything but padding.
func (d *HuffmanDecoder) Finish() error {
	defer func() {
		d.cursor = getHuffmanRoot()
		d.allOnes = true
		d.sawAnyBits = false
	}()
	if !d.sawAnyBits {
		return nil
	}
	if !d.allOnes {
		return ErrHuffmanDecode
	}
	return nil
}

// HuffmanDecode is a convenience one-shot wrapper around HuffmanDecoder for
// callers that already have the complete encoded string in hand.
func HuffmanDecode(dst []byte, input []byte) ([]byte, error) {
	d := NewHuffmanDecoder()
	dst, err := d.Feed(dst, input)
	if err != nil {
		return dst, err
	}
	return dst, d.Finish()
}
