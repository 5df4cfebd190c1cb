package il

import (
	"fmt"
	"math"
	"strings"
)

type (
	// Interval is an inclusive range of switch label values.
	Interval struct {
		Lo, Hi int64
	}

	// LabelSet is an immutable set of integer labels, kept as sorted
	// disjoint intervals. The complement of a set is again a set, so a
	// switch's default section carries the complement of the union of
	// the explicit sections.
	LabelSet struct {
		ivs []Interval
	}
)

func LabelValue(v int64) LabelSet {
	return LabelSet{ivs: []Interval{{Lo: v, Hi: v}}}
}

func LabelRange(lo, hi int64) LabelSet {
	if lo > hi {
		return LabelSet{}
	}

	return LabelSet{ivs: []Interval{{Lo: lo, Hi: hi}}}
}

func FullLabelSet() LabelSet {
	return LabelRange(math.MinInt64, math.MaxInt64)
}

func (s LabelSet) IsEmpty() bool { return len(s.ivs) == 0 }

func (s LabelSet) Intervals() []Interval { return s.ivs }

func (s LabelSet) Contains(v int64) bool {
	for _, iv := range s.ivs {
		if v >= iv.Lo && v <= iv.Hi {
			return true
		}
	}

	return false
}

func (s LabelSet) Count() int64 {
	var n int64

	for _, iv := range s.ivs {
		n += iv.Hi - iv.Lo + 1
	}

	return n
}

// Union merges two sets.
func (s LabelSet) Union(o LabelSet) LabelSet {
	ivs := make([]Interval, 0, len(s.ivs)+len(o.ivs))
	i, j := 0, 0

	for i < len(s.ivs) || j < len(o.ivs) {
		var next Interval

		if j == len(o.ivs) || i < len(s.ivs) && s.ivs[i].Lo <= o.ivs[j].Lo {
			next = s.ivs[i]
			i++
		} else {
			next = o.ivs[j]
			j++
		}

		if n := len(ivs); n > 0 && next.Lo <= saturatingInc(ivs[n-1].Hi) {
			if next.Hi > ivs[n-1].Hi {
				ivs[n-1].Hi = next.Hi
			}

			continue
		}

		ivs = append(ivs, next)
	}

	return LabelSet{ivs: ivs}
}

// Intersect keeps the labels present in both sets.
func (s LabelSet) Intersect(o LabelSet) LabelSet {
	var ivs []Interval
	i, j := 0, 0

	for i < len(s.ivs) && j < len(o.ivs) {
		lo := max64(s.ivs[i].Lo, o.ivs[j].Lo)
		hi := min64(s.ivs[i].Hi, o.ivs[j].Hi)

		if lo <= hi {
			ivs = append(ivs, Interval{Lo: lo, Hi: hi})
		}

		if s.ivs[i].Hi < o.ivs[j].Hi {
			i++
		} else {
			j++
		}
	}

	return LabelSet{ivs: ivs}
}

// Invert complements the set over the full integer range.
func (s LabelSet) Invert() LabelSet {
	var ivs []Interval

	lo := int64(math.MinInt64)

	for _, iv := range s.ivs {
		if iv.Lo > lo {
			ivs = append(ivs, Interval{Lo: lo, Hi: iv.Lo - 1})
		}

		if iv.Hi == math.MaxInt64 {
			return LabelSet{ivs: ivs}
		}

		lo = iv.Hi + 1
	}

	ivs = append(ivs, Interval{Lo: lo, Hi: math.MaxInt64})

	return LabelSet{ivs: ivs}
}

// Unbounded reports whether the set touches either end of the integer
// range, which is how a default section's complement set looks.
func (s LabelSet) Unbounded() bool {
	for _, iv := range s.ivs {
		if iv.Lo == math.MinInt64 || iv.Hi == math.MaxInt64 {
			return true
		}
	}

	return false
}

func (s LabelSet) DisjointWith(o LabelSet) bool {
	return s.Intersect(o).IsEmpty()
}

func (s LabelSet) Equals(o LabelSet) bool {
	if len(s.ivs) != len(o.ivs) {
		return false
	}

	for i, iv := range s.ivs {
		if iv != o.ivs[i] {
			return false
		}
	}

	return true
}

func (s LabelSet) String() string {
	if s.IsEmpty() {
		return "{}"
	}

	if s.Equals(FullLabelSet()) {
		return "{*}"
	}

	var b strings.Builder

	b.WriteByte('{')

	for i, iv := range s.ivs {
		if i != 0 {
			b.WriteByte(',')
		}

		switch {
		case iv.Lo == iv.Hi:
			fmt.Fprintf(&b, "%d", iv.Lo)
		case iv.Lo == math.MinInt64:
			fmt.Fprintf(&b, "..%d", iv.Hi)
		case iv.Hi == math.MaxInt64:
			fmt.Fprintf(&b, "%d..", iv.Lo)
		default:
			fmt.Fprintf(&b, "%d..%d", iv.Lo, iv.Hi)
		}
	}

	b.WriteByte('}')

	return b.String()
}

func saturatingInc(v int64) int64 {
	if v == math.MaxInt64 {
		return v
	}

	return v + 1
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}
