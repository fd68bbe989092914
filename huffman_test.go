package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuffmanRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"www.example.com",
		"no-cache",
		"custom-key",
		"custom-value",
		"302",
		"private",
		"Mon, 21 Oct 2013 20:13:21 GMT",
		"https://www.example.com",
		"gzip",
		"a",
		"this string has spaces and Capitals 123!",
	}
	for _, s := range cases {
		enc := HuffmanEncode(nil, s)
		assert.LessOrEqual(t, len(enc), len(s)+1, "huffman should not expand much for %q", s)
		dec, err := HuffmanDecode(nil, enc)
		require.NoError(t, err, "decoding %q", s)
		assert.Equal(t, s, string(dec))
	}
}

func TestHuffmanEncodedLenMatchesOutput(t *testing.T) {
	for _, s := range []string{"", "x", "www.example.com", "accept-encoding"} {
		assert.Equal(t, HuffmanEncodedLen(s), len(HuffmanEncode(nil, s)), "len mismatch for %q", s)
	}
}

func TestHuffmanDecoderResumable(t *testing.T) {
	s := "www.example.com"
	enc := HuffmanEncode(nil, s)

	d := NewHuffmanDecoder()
	var out []byte
	for _, b := range enc {
		var err error
		out, err = d.Feed(out, []byte{b})
		require.NoError(t, err)
	}
	require.NoError(t, d.Finish())
	assert.Equal(t, s, string(out))
}

func TestHuffmanDecodeRejectsBadPadding(t *testing.T) {
	// A single zero byte cannot be a valid Huffman encoding: the shortest
	// code is 5 bits, and the remaining 3 bits of padding must be all 1s,
	// not all 0s.
	_, err := HuffmanDecode(nil, []byte{0x00})
	assert.ErrorIs(t, err, ErrHuffmanDecode)
}

func TestHuffmanDecodeRejectsEmbeddedEOS(t *testing.T) {
	// The EOS code is all 1-bits for 30 bits; an explicit EOS symbol
	// appearing before the end of the declared string length is invalid.
	eos := huffmanTable[eosSymbol]
	var buf []byte
	var acc uint64
	var nbits uint
	acc = (acc << eos.len) | uint64(eos.code)
	nbits += uint(eos.len)
	for nbits >= 8 {
		nbits -= 8
		buf = append(buf, byte(acc>>nbits))
	}
	if nbits > 0 {
		pad := 8 - nbits
		buf = append(buf, byte(acc<<pad)|(0xff>>nbits))
	}
	_, err := HuffmanDecode(nil, buf)
	assert.ErrorIs(t, err, ErrHuffmanDecode)
}
