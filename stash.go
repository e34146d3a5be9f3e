package stash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	defaultMinTokenLength = 4 // defaultMinTokenLength is the shortest token worth a reference.
	minOccurrences        = 2 // minOccurrences is the number of placements a token needs to be kept.
	seedLength            = 2 // seedLength is the length of the initial dictionary tier.
)

// Config holds configuration for the encoder.
type Config struct {
	MinTokenLength int          // Shortest candidate considered for selection (0 = default 4)
	Logger         *slog.Logger // Receives debug records for growth and selection (nil = discard)
}

// Option is a functional option for configuring the encoder.
type Option func(*Config)

// WithMinTokenLength sets the minimum token length accepted by selection.
// Values below 2 are clamped to 2, the length of the seed tier.
func WithMinTokenLength(n int) Option {
	return func(c *Config) {
		c.MinTokenLength = n
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

var (
	// ErrEmptyToken indicates a token or range was built from an empty value.
	ErrEmptyToken = errors.New("empty token value")
	// ErrInvalidRange indicates a range whose start lies after its end.
	ErrInvalidRange = errors.New("invalid range")
	// ErrOverlap indicates two placements claim the same position.
	ErrOverlap = errors.New("overlapping ranges")
	// ErrUnknownToken indicates a lookup for a token id or position with no owner.
	ErrUnknownToken = errors.New("unknown token")
	// ErrLengthMismatch indicates decoded output does not match the recorded source length.
	ErrLengthMismatch = errors.New("decoded length mismatch")
	// ErrCorrupt indicates a container whose parts are structurally inconsistent.
	ErrCorrupt = errors.New("corrupt container")
)

// Encoder builds the dictionary, selects tokens and produces containers.
// An Encoder holds only immutable configuration and is safe for concurrent use.
type Encoder struct {
	config Config
}

// NewEncoder creates a new encoder with the given options.
func NewEncoder(opts ...Option) *Encoder {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Encoder{config: cfg}
}

func resolveMinTokenLength(cfg Config) int {
	switch {
	case cfg.MinTokenLength == 0:
		return defaultMinTokenLength
	case cfg.MinTokenLength < seedLength:
		return seedLength
	default:
		return cfg.MinTokenLength
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func (e *Encoder) logger() *slog.Logger {
	if e.config.Logger != nil {
		return e.config.Logger
	}
	return discardLogger()
}

// Encode compresses src into a Container. src is not retained or modified.
func (e *Encoder) Encode(src []byte) (*Container, error) {
	logger := e.logger()
	ctx := context.Background()

	dict := buildDictionary(src, logger)

	minLen := resolveMinTokenLength(e.config)
	tokens, chain, err := selectTokens(dict, minLen, logger)
	if err != nil {
		return nil, fmt.Errorf("select tokens: %w", err)
	}

	ranges := chain.Ranges()
	segments, err := buildSegments(src, ranges)
	if err != nil {
		return nil, fmt.Errorf("build segments: %w", err)
	}

	c := &Container{
		SourceLen: len(src),
		Tokens:    tokens,
		Chain:     ranges,
		Segments:  segments,
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		stats := c.Stats()
		logger.DebugContext(ctx, "container built",
			slog.Int("source_len", len(src)),
			slog.Int("candidates", dict.Len()),
			slog.Int("tokens", stats.TokenCount),
			slog.Int("placements", stats.PlacementCount),
			slog.Int("segment_bytes", stats.SegmentBytes),
		)
	}
	return c, nil
}

// Compress is shorthand for NewEncoder(opts...).Encode(src).
func Compress(src []byte, opts ...Option) (*Container, error) {
	return NewEncoder(opts...).Encode(src)
}
