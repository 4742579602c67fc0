package store

// --------------------------------------------------------------------------
// Delta Optimizer
// --------------------------------------------------------------------------

// optimizeDeltas cancels and coalesces same-key mutations within one
// commit's delta list before they reach storage:
//
//   - a Set canceled by a later Remove on the same key collapses to a no-op
//   - repeated Sets on the same key collapse to the last one
//   - Drop deltas are structural retention directives and pass untouched
//
// The relative order of surviving deltas is preserved; later stages
// (previous-version lookup, CDC ordering) depend on it.
func optimizeDeltas(deltas []Delta) []Delta {
	if len(deltas) <= 1 {
		return deltas
	}

	// surviving[i] marks whether deltas[i] makes it into the output.
	surviving := make([]bool, len(deltas))

	type keyState struct {
		lastIdx int  // index of the currently surviving Set/Remove
		sawSet  bool // a surviving Set exists for this key
	}
	states := make(map[string]*keyState, len(deltas))

	for i, d := range deltas {
		key := string(d.Key)

		switch d.Op {
		case OpSet:
			if st, ok := states[key]; ok && surviving[st.lastIdx] {
				surviving[st.lastIdx] = false
			}
			surviving[i] = true
			states[key] = &keyState{lastIdx: i, sawSet: true}

		case OpRemove:
			st, ok := states[key]
			if ok && st.sawSet {
				// The pending Set never becomes visible; the pair
				// annihilates within this commit.
				surviving[st.lastIdx] = false
				delete(states, key)
				continue
			}
			if ok && surviving[st.lastIdx] {
				surviving[st.lastIdx] = false
			}
			surviving[i] = true
			states[key] = &keyState{lastIdx: i}

		case OpDrop:
			surviving[i] = true
		}
	}

	out := make([]Delta, 0, len(deltas))
	for i, keep := range surviving {
		if keep {
			out = append(out, deltas[i])
		}
	}
	return out
}
