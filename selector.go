package stash

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
)

// rankCandidates returns the candidates of at least minLen bytes ordered by
// total space, largest first. Ties go to the longer value, then to the
// lexicographically smaller one, so the order is total and stable.
func rankCandidates(d *Dictionary, minLen int) []Candidate {
	ranked := d.Candidates(minLen)
	slices.SortStableFunc(ranked, func(a, b Candidate) int {
		if c := cmp.Compare(b.TotalSpace(), a.TotalSpace()); c != 0 {
			return c
		}
		if c := cmp.Compare(len(b.Value), len(a.Value)); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})
	return ranked
}

// selectTokens greedily turns ranked candidates into tokens.
//
// Each occurrence of a candidate survives if it is disjoint from the committed
// chain and from the survivors already picked for the same candidate. A
// candidate with at least minOccurrences survivors becomes the next token and
// all of its survivors are committed; otherwise nothing of it is kept.
func selectTokens(d *Dictionary, minLen int, logger *slog.Logger) ([]Token, *Chain, error) {
	chain := NewChain()
	var tokens []Token
	rejected := 0

	for _, cand := range rankCandidates(d, minLen) {
		width := len(cand.Value)
		survivors := make([]int, 0, len(cand.Offsets))
		lastEnd := -1
		for _, start := range cand.Offsets {
			end := start + width - 1
			if start <= lastEnd || chain.Overlaps(start, end) {
				continue
			}
			survivors = append(survivors, start)
			lastEnd = end
		}
		if len(survivors) < minOccurrences {
			rejected++
			continue
		}

		token, err := NewToken(len(tokens), cand.Value)
		if err != nil {
			return nil, nil, err
		}
		for _, start := range survivors {
			r, err := token.RangeAt(start)
			if err != nil {
				return nil, nil, err
			}
			if err := chain.Insert(r); err != nil {
				return nil, nil, err
			}
		}
		tokens = append(tokens, token)
	}

	logger.Debug("tokens selected",
		slog.Int("min_length", minLen),
		slog.Int("accepted", len(tokens)),
		slog.Int("rejected", rejected),
		slog.Int("placements", chain.Len()),
	)
	return tokens, chain, nil
}
