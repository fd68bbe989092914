package qpack

// HeaderField is a single name/value pair, the unit the encoder and
// decoder exchange with their caller. Sensitive marks fields (cookies,
// authorization) that must never be put in the dynamic table or Huffman
// statistics leaked across connections, mirroring the teacher's
// hc/codec.go HeaderField (see DESIGN.md).
type HeaderField struct {
	Name      string
	Value     string
	Sensitive bool
}

// entryOverhead is the fixed per-entry bookkeeping cost RFC 9204 §3.2.1
// charges against the dynamic table's capacity, independent of the actual
// name/value byte lengths.
const entryOverhead = 32

// size returns the capacity this field would consume if inserted into the
// dynamic table.
func (f HeaderField) size() int {
	return entryOverhead + len(f.Name) + len(f.Value)
}

// dynamicEntry is one row of the dynamic table, shared by the encoder and
// decoder implementations (encodertable.go, decodertable.go). id is the
// absolute index assigned at insertion time, counting from 1.
type dynamicEntry struct {
	HeaderField
	id       int64
	refcount int

	nameHash    uint64
	namevalHash uint64
}

func (e *dynamicEntry) size() int {
	return e.HeaderField.size()
}
