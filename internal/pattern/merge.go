package pattern

// Merge folds freshly detected patterns into a window's list. A pattern whose
// signature is already present replaces the old entry but keeps its id; the
// refreshed entry moves to the end so the slice stays ordered by last
// observation. The oldest entries are pruned beyond limit.
func Merge(existing, found []Pattern, limit int) (merged []Pattern, added int) {
	index := make(map[string]int, len(existing))
	for i, p := range existing {
		index[p.Signature] = i
	}

	refreshed := make(map[int]bool)
	var tail []Pattern
	for _, p := range found {
		if i, ok := index[p.Signature]; ok {
			p.ID = existing[i].ID
			refreshed[i] = true
		} else {
			added++
		}
		tail = append(tail, p)
	}

	merged = make([]Pattern, 0, len(existing)+len(tail))
	for i, p := range existing {
		if !refreshed[i] {
			merged = append(merged, p)
		}
	}
	merged = append(merged, tail...)

	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged, added
}
