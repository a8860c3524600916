package spatial

import "slices"

// Interval is an inclusive, ascending range of point ids.
type Interval struct {
	Start uint32
	End   uint32
}

// Len returns the number of ids covered by the interval.
func (iv Interval) Len() int {
	return int(iv.End-iv.Start) + 1
}

// Contains reports whether id is in [Start, End].
func (iv Interval) Contains(id uint32) bool {
	return id >= iv.Start && id <= iv.End
}

// MergeIntervals sorts the intervals by start and coalesces every pair that
// overlaps or touches. The input slice is reused.
func MergeIntervals(ivs []Interval) []Interval {
	if len(ivs) < 2 {
		return ivs
	}
	slices.SortFunc(ivs, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if uint64(iv.Start) <= uint64(last.End)+1 {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// CountIntervals returns the total number of ids covered by ivs.
func CountIntervals(ivs []Interval) int {
	n := 0
	for _, iv := range ivs {
		n += iv.Len()
	}
	return n
}
