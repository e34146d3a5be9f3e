package stash

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// Candidate is a repeated substring of the source and the ascending offsets
// at which it starts.
type Candidate struct {
	Value   string
	Offsets []int
}

// TotalSpace is the number of source bytes the candidate covers:
// len(Value) * len(Offsets).
func (c Candidate) TotalSpace() int {
	return len(c.Value) * len(c.Offsets)
}

// Dictionary holds the non-solitary repeated substrings of one source,
// grouped by length. Every entry has at least two distinct ascending offsets
// and every source offset belongs to at most one entry.
//
// A Dictionary is built once per compression and is never persisted.
type Dictionary struct {
	tiers map[int]map[string][]int // length → value → offsets
}

// BuildDictionary seeds a dictionary with every repeated length-2 substring of
// src and grows the entries one byte at a time while growth is fruitful.
func BuildDictionary(src []byte) *Dictionary {
	return buildDictionary(src, discardLogger())
}

func buildDictionary(src []byte, logger *slog.Logger) *Dictionary {
	d := &Dictionary{tiers: make(map[int]map[string][]int)}

	tier := seedTier(src)
	for length := seedLength; len(tier) > 0; length++ {
		kept, grown := growTier(src, tier, length)
		if len(kept) > 0 {
			d.tiers[length] = kept
		}
		logger.Debug("growth pass",
			slog.Int("length", length),
			slog.Int("kept", len(kept)),
			slog.Int("grown", len(grown)),
		)
		tier = grown
	}
	return d
}

// seedTier indexes every length-2 substring and drops the solitary ones.
func seedTier(src []byte) map[string][]int {
	tier := make(map[string][]int)
	for i := 0; i+seedLength <= len(src); i++ {
		key := string(src[i : i+seedLength])
		tier[key] = append(tier[key], i)
	}
	for value, offsets := range tier {
		if len(offsets) < minOccurrences {
			delete(tier, value)
		}
	}
	return tier
}

// growTier runs one growth pass over the candidates of the given length.
//
// For every candidate, offsets are grouped by the byte that follows the
// candidate. A group of two or more offsets whose extension still has two
// non-overlapping placements moves to a candidate one byte longer. kept holds
// what remains at this length (solitary leftovers dropped) and grown holds the
// new candidates of length+1.
func growTier(src []byte, tier map[string][]int, length int) (kept, grown map[string][]int) {
	kept = make(map[string][]int, len(tier))
	grown = make(map[string][]int)

	for _, value := range slices.Sorted(maps.Keys(tier)) {
		offsets := tier[value]

		var groups [256][]int
		for _, o := range offsets {
			if next := o + length; next < len(src) {
				groups[src[next]] = append(groups[src[next]], o)
			}
		}

		var promoted [256]bool
		for b := range groups {
			group := groups[b]
			if len(group) < minOccurrences || !fruitful(group, length+1) {
				continue
			}
			promoted[b] = true
			extended := value + string([]byte{byte(b)})
			grown[extended] = mergeOffsets(grown[extended], group)
		}

		remaining := make([]int, 0, len(offsets))
		for _, o := range offsets {
			if next := o + length; next < len(src) && promoted[src[next]] {
				continue
			}
			remaining = append(remaining, o)
		}
		if len(remaining) >= minOccurrences {
			kept[value] = remaining
		}
	}
	return kept, grown
}

// fruitful reports whether a substring of the given length starting at the
// ascending offsets has at least two pairwise non-overlapping placements.
func fruitful(offsets []int, length int) bool {
	count := 0
	lastEnd := -1
	for _, o := range offsets {
		if o <= lastEnd {
			continue
		}
		count++
		if count >= minOccurrences {
			return true
		}
		lastEnd = o + length - 1
	}
	return false
}

// mergeOffsets merges two ascending offset lists, dropping duplicates.
func mergeOffsets(a, b []int) []int {
	if len(a) == 0 {
		return slices.Clone(b)
	}
	merged := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next int
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			next = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			next = b[j]
			j++
		default:
			next = a[i]
			i++
			j++
		}
		merged = append(merged, next)
	}
	return merged
}

// Len returns the number of live candidates.
func (d *Dictionary) Len() int {
	n := 0
	for _, tier := range d.tiers {
		n += len(tier)
	}
	return n
}

// MaxLength returns the length of the longest candidate, or 0 if empty.
func (d *Dictionary) MaxLength() int {
	longest := 0
	for length := range d.tiers {
		longest = max(longest, length)
	}
	return longest
}

// Lookup returns the offsets of value, if it is a live candidate.
func (d *Dictionary) Lookup(value string) ([]int, bool) {
	offsets, ok := d.tiers[len(value)][value]
	if !ok {
		return nil, false
	}
	return slices.Clone(offsets), true
}

// Candidates returns every live candidate with at least minLen bytes,
// sorted by value.
func (d *Dictionary) Candidates(minLen int) []Candidate {
	var out []Candidate
	for length, tier := range d.tiers {
		if length < minLen {
			continue
		}
		for value, offsets := range tier {
			out = append(out, Candidate{Value: value, Offsets: slices.Clone(offsets)})
		}
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		return strings.Compare(a.Value, b.Value)
	})
	return out
}
