package stash

import (
	"slices"
	"strings"
	"testing"
)

func TestBuildDictionaryEmpty(t *testing.T) {
	for _, input := range []string{"", "a", "ab", "abcdef"} {
		d := BuildDictionary([]byte(input))
		if d.Len() != 0 {
			t.Fatalf("%q: expected empty dictionary, got %d entries", input, d.Len())
		}
		if d.MaxLength() != 0 {
			t.Fatalf("%q: expected max length 0, got %d", input, d.MaxLength())
		}
	}
}

func TestBuildDictionaryPeriodic(t *testing.T) {
	d := BuildDictionary([]byte("abcabcabc"))

	want := map[string][]int{
		"abc": {0, 3, 6},
		"bca": {1, 4},
		"cab": {2, 5},
	}
	if d.Len() != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), d.Len(), d.Candidates(0))
	}
	for value, offsets := range want {
		got, ok := d.Lookup(value)
		if !ok {
			t.Fatalf("missing candidate %q", value)
		}
		if !slices.Equal(got, offsets) {
			t.Fatalf("%q offsets: got %v want %v", value, got, offsets)
		}
	}
	if _, ok := d.Lookup("ab"); ok {
		t.Fatalf("fully grown candidate %q should be gone", "ab")
	}
	if d.MaxLength() != 3 {
		t.Fatalf("max length: got %d want 3", d.MaxLength())
	}
}

func TestBuildDictionaryOverlappingRunStopsGrowing(t *testing.T) {
	d := BuildDictionary([]byte("aaaa"))
	got, ok := d.Lookup("aa")
	if !ok || !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("aa: got %v (%v), want [0 1 2]", got, ok)
	}
	if _, ok := d.Lookup("aaa"); ok {
		t.Fatalf("self-overlapping extension should not be promoted")
	}
}

func TestBuildDictionaryKeepsOffsetWithoutFollower(t *testing.T) {
	d := BuildDictionary([]byte("xyzxyz"))

	if got, ok := d.Lookup("xyz"); !ok || !slices.Equal(got, []int{0, 3}) {
		t.Fatalf("xyz: got %v (%v), want [0 3]", got, ok)
	}
	// "yz" at 4 has no follower and "yz" at 1 has a unique one; both stay.
	if got, ok := d.Lookup("yz"); !ok || !slices.Equal(got, []int{1, 4}) {
		t.Fatalf("yz: got %v (%v), want [1 4]", got, ok)
	}
	if _, ok := d.Lookup("zx"); ok {
		t.Fatalf("solitary seed %q should be dropped", "zx")
	}
}

func TestDictionaryInvariants(t *testing.T) {
	inputs := []string{
		strings.Repeat("lorem ipsum dolor sit amet ", 20),
		"mississippi mississippi missouri",
		strings.Repeat("ab", 50) + strings.Repeat("ba", 50),
	}
	for _, input := range inputs {
		src := []byte(input)
		d := BuildDictionary(src)
		owner := make(map[int]string)
		for _, c := range d.Candidates(0) {
			if len(c.Offsets) < minOccurrences {
				t.Fatalf("solitary candidate %q: %v", c.Value, c.Offsets)
			}
			for i, o := range c.Offsets {
				if i > 0 && o <= c.Offsets[i-1] {
					t.Fatalf("%q offsets not strictly ascending: %v", c.Value, c.Offsets)
				}
				if got := string(src[o : o+len(c.Value)]); got != c.Value {
					t.Fatalf("%q at %d reads %q", c.Value, o, got)
				}
				if prev, ok := owner[o]; ok {
					t.Fatalf("offset %d owned by %q and %q", o, prev, c.Value)
				}
				owner[o] = c.Value
			}
		}
	}
}

func TestDictionaryCandidatesFilterAndOrder(t *testing.T) {
	d := &Dictionary{tiers: map[int]map[string][]int{
		2: {"zz": {0, 5}},
		3: {"bcd": {1, 9}, "abc": {2, 8}},
	}}
	var got []string
	for _, c := range d.Candidates(3) {
		got = append(got, c.Value)
	}
	if want := []string{"abc", "bcd"}; !slices.Equal(got, want) {
		t.Fatalf("candidates: got %v want %v", got, want)
	}
}

func TestGrowTierIsPure(t *testing.T) {
	src := []byte("abab abab")
	tier := map[string][]int{"ab": {0, 2, 5, 7}}
	before := slices.Clone(tier["ab"])

	kept, grown := growTier(src, tier, 2)
	if !slices.Equal(tier["ab"], before) {
		t.Fatalf("input tier mutated: %v", tier["ab"])
	}
	if got := grown["aba"]; !slices.Equal(got, []int{0, 5}) {
		t.Fatalf("aba: got %v want [0 5]", got)
	}
	// "ab" at 2 is followed by ' ' and at 7 by nothing.
	if got := kept["ab"]; !slices.Equal(got, []int{2, 7}) {
		t.Fatalf("kept ab: got %v want [2 7]", got)
	}
}

func TestFruitful(t *testing.T) {
	cases := []struct {
		offsets []int
		length  int
		want    bool
	}{
		{[]int{0, 3}, 3, true},
		{[]int{0, 3}, 4, false},
		{[]int{0, 1, 2}, 2, true},
		{[]int{0, 1}, 2, false},
		{[]int{5}, 1, false},
	}
	for _, tc := range cases {
		if got := fruitful(tc.offsets, tc.length); got != tc.want {
			t.Fatalf("fruitful(%v, %d): got %v want %v", tc.offsets, tc.length, got, tc.want)
		}
	}
}

func TestMergeOffsets(t *testing.T) {
	got := mergeOffsets([]int{1, 4, 9}, []int{2, 4, 10})
	if want := []int{1, 2, 4, 9, 10}; !slices.Equal(got, want) {
		t.Fatalf("merge: got %v want %v", got, want)
	}
	if got := mergeOffsets(nil, []int{3, 5}); !slices.Equal(got, []int{3, 5}) {
		t.Fatalf("merge into empty: got %v", got)
	}
}
