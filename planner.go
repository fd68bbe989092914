package qpack

import "go.uber.org/zap"

// planner.go implements the encoder's per-field decision machine (spec.md
// §4.7, component C8): given one header field and the currently open header
// block, decide how (if at all) to touch the dynamic table and how to
// represent the field on the wire, stopping at the first matching rule in
// spec.md's decision order.
//
// Each decision is returned as a planResult rather than applied immediately:
// Encode checks both destination buffers have room for encBytes/headBytes
// before calling commit, so that a NoBufEnc/NoBufHead return never leaves
// the table, history, or ledger partially mutated (spec.md §4.7
// post-conditions, §5 "no partially mutated table").
type planResult struct {
	encBytes  []byte
	headBytes []byte
	commit    func()
}

// doubleLiteralRatioGuard is spec.md §4.7's "double-literal guardrail"
// threshold: once the running compression ratio is this bad, stop trying to
// grow the table from name-only reuse predictions and fall back to a plain
// literal instead.
const doubleLiteralRatioGuard = 0.95

// plan is the entry point for C8's decision machine.
func (e *Encoder) plan(hi *headerInfo, f HeaderField) planResult {
	if f.Sensitive {
		// Sensitive fields (cookies, authorization) never enter the dynamic
		// table and never reference it either, matching the teacher's
		// writeTableChanges skipping sensitive headers outright.
		return planResult{headBytes: emitLit(nil, f.Name, f.Value, true)}
	}

	nameHash := e.table.hashName(f.Name)
	namevalHash := e.table.hashNameValue(f.Name, f.Value)

	// 1. Static full match.
	if idx, ok := FindStaticFull(HeaderField{Name: f.Name, Value: f.Value}); ok {
		return planResult{headBytes: emitIndexedStatic(nil, idx)}
	}

	// 2. Dynamic full match.
	if pr, ok := e.planDynamicFullMatch(hi, f, namevalHash); ok {
		return pr
	}

	// 3. Static name match.
	if staticIdx, ok := FindStaticName(f.Name); ok {
		return e.planStaticNameMatch(hi, f, namevalHash, staticIdx)
	}

	// 4. Dynamic name match.
	if pr, ok := e.planDynamicNameMatch(hi, f, nameHash, namevalHash); ok {
		return pr
	}

	// 5. No match.
	return e.planNoMatch(hi, f, nameHash, namevalHash)
}

// planDynamicFullMatch implements spec.md §4.7 step 2.
func (e *Encoder) planDynamicFullMatch(hi *headerInfo, f HeaderField, namevalHash uint64) (planResult, bool) {
	var candidates []*dynamicEntry
	for _, c := range e.table.candidatesByNameValue(namevalHash) {
		if c.id >= e.table.drainIdx && c.Name == f.Name && c.Value == f.Value {
			candidates = append(candidates, c)
		}
	}

	switch len(candidates) {
	case 0:
		return planResult{}, false

	case 1:
		c := candidates[0]
		if c.id > e.table.maxAckedId && !e.riskAllowed(hi) {
			// "fall through to next step": not usable right now, and not
			// worth duplicating either — try a static/dynamic name match.
			return planResult{}, false
		}
		if e.table.duplicable(c, e.useDup) && e.table.hasRoomFor(c.size()) {
			return e.planDup(hi, c), true
		}
		return e.planIndexedDyn(hi, c), true

	default:
		c := e.pickDynamicCandidate(hi, candidates)
		return e.planIndexedDyn(hi, c), true
	}
}

// pickDynamicCandidate chooses between two (or more) exact-match candidates:
// prefer the acknowledged one if risking a new block isn't allowed, else the
// newest (spec.md §4.7 step 2, "2 candidates" case).
func (e *Encoder) pickDynamicCandidate(hi *headerInfo, candidates []*dynamicEntry) *dynamicEntry {
	risk := e.riskAllowed(hi)
	best := candidates[0]
	for _, c := range candidates[1:] {
		if risk {
			if c.id > best.id {
				best = c
			}
			continue
		}
		cAcked := c.id <= e.table.maxAckedId
		bestAcked := best.id <= e.table.maxAckedId
		switch {
		case cAcked && !bestAcked:
			best = c
		case cAcked == bestAcked && c.id > best.id:
			best = c
		}
	}
	return best
}

// planIndexedDyn references an existing dynamic entry directly: no encoder-
// stream action, an Indexed Header Field in the header block.
func (e *Encoder) planIndexedDyn(hi *headerInfo, entry *dynamicEntry) planResult {
	return planResult{
		headBytes: emitIndexedDynamic(nil, entry.id, hi.base),
		commit: func() {
			e.pin(hi, entry)
		},
	}
}

// planDup re-inserts src's name/value to refresh its table position
// (spec.md §4.7 "Dup"), then references the new entry.
func (e *Encoder) planDup(hi *headerInfo, src *dynamicEntry) planResult {
	newID := e.table.nextID()
	relIdx := e.table.insCount - src.id
	return planResult{
		encBytes:  emitDuplicate(nil, relIdx),
		headBytes: emitIndexedDynamic(nil, newID, hi.base),
		commit: func() {
			entry, err := e.table.duplicate(src)
			if err != nil {
				return
			}
			e.pin(hi, entry)
		},
	}
}

// planStaticNameMatch implements spec.md §4.7 step 3. The decision named
// there ("branch on {SeenNameval, risk, has_dyn_candidate}, 8 combinations")
// is resolved here as an explicit design decision (recorded in DESIGN.md):
// once a field's name is in the static table at zero wire cost, a dynamic
// name candidate offers no advantage, so has_dyn_candidate does not change
// the outcome; the remaining two axes (SeenNameval, risk) gate whether it's
// worth inserting a new entry (naming the static table as its name source)
// versus just writing a literal with a static name reference.
func (e *Encoder) planStaticNameMatch(hi *headerInfo, f HeaderField, namevalHash uint64, staticIdx int) planResult {
	size := f.size()
	if e.hist.seenNameval(namevalHash) && e.riskAllowed(hi) && e.table.hasRoomFor(size) {
		return e.planInsertWithNameRefStatic(hi, f, staticIdx)
	}
	return planResult{headBytes: emitLitWithNameStatic(nil, staticIdx, f.Value, f.Sensitive)}
}

// planDynamicNameMatch implements spec.md §4.7 step 4.
func (e *Encoder) planDynamicNameMatch(hi *headerInfo, f HeaderField, nameHash, namevalHash uint64) (planResult, bool) {
	risk := e.riskAllowed(hi)
	var best *dynamicEntry
	for _, c := range e.table.candidatesByName(nameHash) {
		if c.Name != f.Name || c.id < e.table.drainIdx {
			continue
		}
		if !(risk || c.id <= e.table.maxAckedId) {
			continue
		}
		if best == nil || c.id > best.id {
			best = c
		}
	}
	if best == nil {
		return planResult{}, false
	}

	size := f.size()
	if e.hist.seenNameval(namevalHash) && e.table.hasRoomFor(size) {
		return e.planInsertWithNameRefDynamic(hi, f, best), true
	}
	return planResult{
		headBytes: emitLitWithNameDynamic(nil, best.id, hi.base, f.Value, f.Sensitive),
		commit: func() {
			e.pin(hi, best)
		},
	}, true
}

// planInsertWithNameRefStatic inserts a new entry naming an existing static
// entry, referencing the new entry from the header block by post-base name
// reference (spec.md §4.7 steps 3/4's "InsNameRef*" + "LitWithNameNew").
func (e *Encoder) planInsertWithNameRefStatic(hi *headerInfo, f HeaderField, staticIdx int) planResult {
	newID := e.table.nextID()
	return planResult{
		encBytes:  emitInsertWithNameRefStatic(nil, staticIdx, f.Value),
		headBytes: emitLitWithNameDynamic(nil, newID, hi.base, f.Value, f.Sensitive),
		commit: func() {
			entry, err := e.table.insert(f)
			if err != nil {
				return
			}
			e.pin(hi, entry)
		},
	}
}

// planInsertWithNameRefDynamic is planInsertWithNameRefStatic's counterpart
// when the reused name comes from the dynamic table.
func (e *Encoder) planInsertWithNameRefDynamic(hi *headerInfo, f HeaderField, nameSrc *dynamicEntry) planResult {
	newID := e.table.nextID()
	relIdx := e.table.insCount - nameSrc.id
	return planResult{
		encBytes:  emitInsertWithNameRefDynamic(nil, relIdx, f.Value),
		headBytes: emitLitWithNameDynamic(nil, newID, hi.base, f.Value, f.Sensitive),
		commit: func() {
			entry, err := e.table.insert(f)
			if err != nil {
				return
			}
			e.pin(hi, entry)
		},
	}
}

// planNoMatch implements spec.md §4.7 step 5: neither the name nor the
// name+value pair is indexed anywhere right now.
func (e *Encoder) planNoMatch(hi *headerInfo, f HeaderField, nameHash, namevalHash uint64) planResult {
	size := f.size()
	indexable := size <= e.table.maxCapacity

	if indexable && e.hist.seenNameval(namevalHash) && e.table.hasRoomFor(size) {
		if e.riskAllowed(hi) {
			return e.planInsertLiteral(hi, f, func(newID int64) []byte {
				return emitIndexedDynamic(nil, newID, hi.base)
			})
		}
		return planResult{headBytes: emitLit(nil, f.Name, f.Value, f.Sensitive)}
	}

	if indexable && e.hist.seenName(nameHash) && e.table.hasRoomFor(size) {
		// Double-literal guardrail: writing both an encoder-stream literal
		// insert and a header-block literal is only worth it while the
		// ratio hasn't already blown out (spec.md §4.7).
		if e.ratio() > doubleLiteralRatioGuard {
			e.logger.Debug("plan: double-literal guardrail tripped, falling back to literal",
				zap.Float64("ratio", e.ratio()))
			return planResult{headBytes: emitLit(nil, f.Name, f.Value, f.Sensitive)}
		}
		return e.planInsertLiteral(hi, f, func(newID int64) []byte {
			return emitLitWithNameDynamic(nil, newID, hi.base, f.Value, f.Sensitive)
		})
	}

	return planResult{headBytes: emitLit(nil, f.Name, f.Value, f.Sensitive)}
}

// planInsertLiteral inserts f as a brand new name+value entry and lets the
// caller choose how the header block references the just-created entry
// (IndexedNew for a full match, LitWithNameNew for the name-only-reuse
// prediction path), per spec.md §4.7 step 5's two sub-cases.
func (e *Encoder) planInsertLiteral(hi *headerInfo, f HeaderField, headerRep func(newID int64) []byte) planResult {
	newID := e.table.nextID()
	return planResult{
		encBytes:  emitInsertLiteral(nil, f.Name, f.Value),
		headBytes: headerRep(newID),
		commit: func() {
			entry, err := e.table.insert(f)
			if err != nil {
				return
			}
			e.pin(hi, entry)
		},
	}
}
