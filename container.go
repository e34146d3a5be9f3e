package stash

import (
	"fmt"
	"slices"
	"sort"
)

// Token is a substring accepted into the token table. IDs are dense and
// reflect acceptance order.
type Token struct {
	ID    int
	Value string
}

// NewToken returns a token, rejecting empty values.
func NewToken(id int, value string) (Token, error) {
	if value == "" {
		return Token{}, fmt.Errorf("token %d: %w", id, ErrEmptyToken)
	}
	if id < 0 {
		return Token{}, fmt.Errorf("%w: negative token id %d", ErrUnknownToken, id)
	}
	return Token{ID: id, Value: value}, nil
}

// RangeAt returns the placement of t starting at start.
func (t Token) RangeAt(start int) (Range, error) {
	if t.Value == "" {
		return Range{}, fmt.Errorf("token %d: %w", t.ID, ErrEmptyToken)
	}
	return NewRange(t.ID, start, start+len(t.Value)-1)
}

func (t Token) String() string {
	return fmt.Sprintf("{id: %d, value: %q}", t.ID, t.Value)
}

// Range is one placement of a token: the inclusive interval [Start, End] of
// the source occupied by token TokenID.
type Range struct {
	TokenID int
	Start   int
	End     int
}

// NewRange returns a range, rejecting negative or inverted intervals.
func NewRange(tokenID, start, end int) (Range, error) {
	r := Range{TokenID: tokenID, Start: start, End: end}
	if err := r.check(); err != nil {
		return Range{}, err
	}
	return r, nil
}

func (r Range) check() error {
	if r.Start < 0 || r.Start > r.End {
		return fmt.Errorf("%w: start %d, end %d", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("{token: %d, range: [%d, %d]}", r.TokenID, r.Start, r.End)
}

// Container is the compressed form of a source: the token table, the chain
// of placements ordered by start, and the raw segments around them.
// len(Segments) is always len(Chain)+1.
//
// A Container is read-only once built; concurrent decodes are safe.
type Container struct {
	SourceLen int      // Length of the original source in bytes
	Tokens    []Token  // Token table; Tokens[i].ID == i
	Chain     []Range  // Placements ordered by start, pairwise disjoint
	Segments  []string // Raw bytes before, between and after placements
}

// Stats are read-only projections of a container for reporting.
type Stats struct {
	TokenCount     int // Entries in the token table
	TokenBytes     int // Sum of token value lengths
	PlacementCount int // Committed placements
	PlacementBytes int // Source bytes covered by placements
	SegmentCount   int // Raw segments, including empty ones
	SegmentBytes   int // Source bytes kept raw
}

// Stats computes the reporting counters of c.
func (c *Container) Stats() Stats {
	var s Stats
	s.TokenCount = len(c.Tokens)
	for _, t := range c.Tokens {
		s.TokenBytes += len(t.Value)
	}
	s.PlacementCount = len(c.Chain)
	for _, r := range c.Chain {
		s.PlacementBytes += r.Len()
	}
	s.SegmentCount = len(c.Segments)
	for _, seg := range c.Segments {
		s.SegmentBytes += len(seg)
	}
	return s
}

// buildSegments cuts the bytes of src lying outside the ordered ranges into
// len(ranges)+1 segments.
func buildSegments(src []byte, ranges []Range) ([]string, error) {
	segments := make([]string, 0, len(ranges)+1)
	cursor := 0
	for _, r := range ranges {
		if r.Start < cursor || r.End >= len(src) {
			return nil, fmt.Errorf("%w: %v outside source of %d bytes at cursor %d", ErrCorrupt, r, len(src), cursor)
		}
		segments = append(segments, string(src[cursor:r.Start]))
		cursor = r.End + 1
	}
	segments = append(segments, string(src[cursor:]))
	return segments, nil
}

// Validate checks every structural invariant of c. Decoding a container that
// passes Validate cannot fail.
func (c *Container) Validate() error {
	if c.SourceLen < 0 {
		return fmt.Errorf("%w: negative source length %d", ErrCorrupt, c.SourceLen)
	}
	for i, t := range c.Tokens {
		if t.ID != i {
			return fmt.Errorf("%w: token at index %d has id %d", ErrCorrupt, i, t.ID)
		}
		if t.Value == "" {
			return fmt.Errorf("token %d: %w", i, ErrEmptyToken)
		}
	}
	if len(c.Segments) != len(c.Chain)+1 {
		return fmt.Errorf("%w: %d segments for %d placements", ErrCorrupt, len(c.Segments), len(c.Chain))
	}

	cursor := 0
	for i, r := range c.Chain {
		if err := r.check(); err != nil {
			return fmt.Errorf("placement %d: %w", i, err)
		}
		if r.TokenID < 0 || r.TokenID >= len(c.Tokens) {
			return fmt.Errorf("placement %d: %w: id %d", i, ErrUnknownToken, r.TokenID)
		}
		if want := len(c.Tokens[r.TokenID].Value); r.Len() != want {
			return fmt.Errorf("%w: placement %d spans %d bytes, token %d has %d", ErrCorrupt, i, r.Len(), r.TokenID, want)
		}
		if i > 0 && r.Start <= c.Chain[i-1].End {
			return fmt.Errorf("%w: %v and %v", ErrOverlap, c.Chain[i-1], r)
		}
		cursor += len(c.Segments[i])
		if cursor != r.Start {
			return fmt.Errorf("%w: segment %d ends at %d, placement starts at %d", ErrCorrupt, i, cursor, r.Start)
		}
		cursor = r.End + 1
	}
	cursor += len(c.Segments[len(c.Segments)-1])
	if cursor != c.SourceLen {
		return fmt.Errorf("%w: parts cover %d bytes, source has %d", ErrLengthMismatch, cursor, c.SourceLen)
	}
	return nil
}

// DecodedLen reports the length of the decoded source.
func (c *Container) DecodedLen() int {
	return c.SourceLen
}

// AppendAll appends the decoded source to dst. On error dst is returned
// unchanged.
func (c *Container) AppendAll(dst []byte) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return dst, err
	}

	out := slices.Grow(dst, c.SourceLen)
	base := len(out)
	last := len(c.Segments) - 1
	for i, seg := range c.Segments {
		out = append(out, seg...)
		if i == last {
			break
		}
		out = append(out, c.Tokens[c.Chain[i].TokenID].Value...)
	}
	if n := len(out) - base; n != c.SourceLen {
		return dst, fmt.Errorf("%w: emitted %d bytes, source has %d", ErrLengthMismatch, n, c.SourceLen)
	}
	return out, nil
}

// Decode returns the decoded source.
func (c *Container) Decode() ([]byte, error) {
	return c.AppendAll(nil)
}

// Token returns the token with the given id.
func (c *Container) Token(id int) (Token, error) {
	if id < 0 || id >= len(c.Tokens) {
		return Token{}, fmt.Errorf("%w: id %d", ErrUnknownToken, id)
	}
	return c.Tokens[id], nil
}

// TokenAt returns the token whose placement starts at start.
func (c *Container) TokenAt(start int) (Token, error) {
	i := sort.Search(len(c.Chain), func(i int) bool {
		return c.Chain[i].Start >= start
	})
	if i == len(c.Chain) || c.Chain[i].Start != start {
		return Token{}, fmt.Errorf("%w: no token placed at position %d", ErrUnknownToken, start)
	}
	return c.Token(c.Chain[i].TokenID)
}

// Placements returns the start positions of token id in ascending order.
func (c *Container) Placements(id int) []int {
	var starts []int
	for _, r := range c.Chain {
		if r.TokenID == id {
			starts = append(starts, r.Start)
		}
	}
	return starts
}

// TokenValues returns the token strings in lexicographic order.
func (c *Container) TokenValues() []string {
	values := make([]string, len(c.Tokens))
	for i, t := range c.Tokens {
		values[i] = t.Value
	}
	slices.Sort(values)
	return values
}

// Ranges returns a copy of the chain, ordered by start.
func (c *Container) Ranges() []Range {
	return slices.Clone(c.Chain)
}
