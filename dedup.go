package main

// deduplicate collapses records sharing an SSID into one, keeping the
// first-seen order of SSIDs.
//
// For each SSID the first record is kept unless a later one is active (an
// active record always wins, even with weaker signal) or the current choice
// is inactive and the later one is strictly stronger. Two active records for
// the same SSID resolve to the last one seen.
func deduplicate(records []scanRecord) []scanRecord {
	index := make(map[string]int, len(records))
	out := make([]scanRecord, 0, len(records))
	for _, rec := range records {
		i, seen := index[rec.SSID]
		if !seen {
			index[rec.SSID] = len(out)
			out = append(out, rec)
			continue
		}
		if preferRecord(out[i], rec) {
			out[i] = rec
		}
	}
	return out
}

// preferRecord reports whether next should replace cur.
func preferRecord(cur, next scanRecord) bool {
	if next.Active {
		return true
	}
	return !cur.Active && next.Strength > cur.Strength
}
