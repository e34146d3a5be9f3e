package stash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

const (
	archiveMagic   = "STSH"
	archiveVersion = uint16(1)

	stageSource   = "source"
	stageTokens   = "tokens"
	stageSegments = "segments"
	stageChain    = "chain"

	stageSegmentsParamRaw   = uint8(0) // uvarint-framed segment bytes
	stageSegmentsParamFlate = uint8(1) // flate(raw segment payload)
	stageSegmentsParamZstd  = uint8(2) // zstd(raw segment payload)

	maxArchiveStages     = 64
	maxStagePayloadBytes = 1 << 30 // 1 GiB
	maxSourceLen         = uint64(1) << 40
)

// Wire format (version 1):
//
//	magic[4] = "STSH"
//	version  = uint16 little-endian
//	stageCnt = uint16 little-endian
//	repeat stageCnt times:
//	  nameLen  = uint8
//	  paramLen = uint16 little-endian
//	  dataLen  = uint32 little-endian
//	  name     = nameLen bytes
//	  params   = paramLen bytes
//	  payload  = dataLen bytes
//
// Stage payloads (all integers uvarint):
//
//	source   : sourceLen
//	tokens   : tokenCount, repeat { tokenID, valueLen, value }
//	segments : segmentCount, repeat { segmentLen, segment }   (params[0] selects raw/flate/zstd)
//	chain    : chainLen, repeat { tokenID, startDelta }       (delta from previous start)
//
// Unknown stages are skipped via dataLen framing.
type wireStageHeader struct {
	name     string
	paramLen uint16
	dataLen  uint32
}

var errTruncated = errors.New("truncated payload")

func writeBytes(w io.Writer, b []byte) (int64, error) {
	n, err := w.Write(b)
	if err != nil {
		return int64(n), err
	}
	if n != len(b) {
		return int64(n), io.ErrShortWrite
	}
	return int64(n), nil
}

func writeStage(w io.Writer, name string, params []byte, payload []byte) (int64, error) {
	if len(name) == 0 || len(name) > 255 {
		return 0, fmt.Errorf("invalid stage name length: %d", len(name))
	}
	if len(params) > int(^uint16(0)) {
		return 0, fmt.Errorf("stage params too large for %q: %d", name, len(params))
	}
	if len(payload) > maxStagePayloadBytes {
		return 0, fmt.Errorf("stage payload too large for %q: %d", name, len(payload))
	}

	header := make([]byte, 0, 7+len(name)+len(params))
	header = append(header, uint8(len(name)))
	header = binary.LittleEndian.AppendUint16(header, uint16(len(params)))
	header = binary.LittleEndian.AppendUint32(header, uint32(len(payload)))
	header = append(header, name...)
	header = append(header, params...)

	total, err := writeBytes(w, header)
	if err != nil {
		return total, err
	}
	n, err := writeBytes(w, payload)
	total += n
	return total, err
}

func readStageHeader(r io.Reader) (wireStageHeader, int64, error) {
	var fixed [7]byte
	n, err := io.ReadFull(r, fixed[:])
	total := int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}

	nameLen := fixed[0]
	if nameLen == 0 {
		return wireStageHeader{}, total, fmt.Errorf("stage name length must be > 0")
	}
	paramLen := binary.LittleEndian.Uint16(fixed[1:3])
	dataLen := binary.LittleEndian.Uint32(fixed[3:7])
	if dataLen > uint32(maxStagePayloadBytes) {
		return wireStageHeader{}, total, fmt.Errorf("stage payload too large: %d", dataLen)
	}

	nameBytes := make([]byte, int(nameLen))
	n, err = io.ReadFull(r, nameBytes)
	total += int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}

	return wireStageHeader{
		name:     string(nameBytes),
		paramLen: paramLen,
		dataLen:  dataLen,
	}, total, nil
}

// payloadReader walks a uvarint-framed stage payload.
type payloadReader struct {
	buf []byte
	off int
}

func (p *payloadReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(p.buf[p.off:])
	if n <= 0 {
		return 0, fmt.Errorf("bad uvarint at payload offset %d: %w", p.off, errTruncated)
	}
	p.off += n
	return v, nil
}

// bounded reads a uvarint that must not exceed limit.
func (p *payloadReader) bounded(limit uint64, what string) (int, error) {
	v, err := p.uvarint()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", what, err)
	}
	if v > limit {
		return 0, fmt.Errorf("%s out of range: %d", what, v)
	}
	return int(v), nil
}

// count reads an element count; every element needs at least one byte.
func (p *payloadReader) count(what string) (int, error) {
	return p.bounded(uint64(len(p.buf)-p.off), what)
}

func (p *payloadReader) bytes(n int) ([]byte, error) {
	if n > len(p.buf)-p.off {
		return nil, fmt.Errorf("need %d bytes at payload offset %d, have %d: %w", n, p.off, len(p.buf)-p.off, errTruncated)
	}
	b := p.buf[p.off : p.off+n]
	p.off += n
	return b, nil
}

func (p *payloadReader) done() error {
	if p.off != len(p.buf) {
		return fmt.Errorf("%d trailing bytes in payload", len(p.buf)-p.off)
	}
	return nil
}

func encodeSourceStage(c *Container) []byte {
	return binary.AppendUvarint(nil, uint64(c.SourceLen))
}

func encodeTokensStage(c *Container) ([]byte, error) {
	payload := binary.AppendUvarint(nil, uint64(len(c.Tokens)))
	for _, t := range c.Tokens {
		payload = binary.AppendUvarint(payload, uint64(t.ID))
		payload = binary.AppendUvarint(payload, uint64(len(t.Value)))
		payload = append(payload, t.Value...)
	}
	if len(payload) > maxStagePayloadBytes {
		return nil, fmt.Errorf("token table too large: %d", len(payload))
	}
	return payload, nil
}

func encodeSegmentsRaw(c *Container) []byte {
	payload := binary.AppendUvarint(nil, uint64(len(c.Segments)))
	for _, seg := range c.Segments {
		payload = binary.AppendUvarint(payload, uint64(len(seg)))
		payload = append(payload, seg...)
	}
	return payload
}

// encodeSegmentsStage picks the smallest of the raw, flate and zstd renditions
// of the segment payload.
func encodeSegmentsStage(c *Container) ([]byte, uint8, error) {
	raw := encodeSegmentsRaw(c)
	if len(raw) > maxStagePayloadBytes {
		return nil, 0, fmt.Errorf("segments too large: %d", len(raw))
	}

	type candidate struct {
		payload []byte
		param   uint8
	}
	candidates := []candidate{{payload: raw, param: stageSegmentsParamRaw}}

	flatePayload, err := encodeFlatePayload(raw)
	if err != nil {
		return nil, 0, err
	}
	candidates = append(candidates, candidate{payload: flatePayload, param: stageSegmentsParamFlate})

	zstdPayload, err := encodeZstdPayload(raw)
	if err != nil {
		return nil, 0, err
	}
	candidates = append(candidates, candidate{payload: zstdPayload, param: stageSegmentsParamZstd})

	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if len(candidate.payload) < len(best.payload) {
			best = candidate
		}
	}
	return best.payload, best.param, nil
}

func encodeChainStage(c *Container) ([]byte, error) {
	payload := binary.AppendUvarint(nil, uint64(len(c.Chain)))
	prev := 0
	for i, r := range c.Chain {
		if r.Start < prev {
			return nil, fmt.Errorf("chain not ordered at index %d", i)
		}
		payload = binary.AppendUvarint(payload, uint64(r.TokenID))
		payload = binary.AppendUvarint(payload, uint64(r.Start-prev))
		prev = r.Start
	}
	if len(payload) > maxStagePayloadBytes {
		return nil, fmt.Errorf("chain too large: %d", len(payload))
	}
	return payload, nil
}

func encodeFlatePayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFlatePayload(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	limited := io.LimitReader(r, maxStagePayloadBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxStagePayloadBytes {
		return nil, fmt.Errorf("flate payload expands beyond limit")
	}
	return raw, nil
}

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxStagePayloadBytes))
	})
)

func encodeZstdPayload(raw []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, nil), nil
}

func decodeZstdPayload(payload []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxStagePayloadBytes {
		return nil, fmt.Errorf("zstd payload expands beyond limit")
	}
	return raw, nil
}

func decodeSourceStage(dst *Container, payload []byte) error {
	p := payloadReader{buf: payload}
	n, err := p.bounded(maxSourceLen, "source length")
	if err != nil {
		return err
	}
	dst.SourceLen = n
	return p.done()
}

func decodeTokensStage(dst *Container, payload []byte) error {
	p := payloadReader{buf: payload}
	count, err := p.count("token count")
	if err != nil {
		return err
	}
	tokens := make([]Token, 0, count)
	for i := 0; i < count; i++ {
		id, err := p.bounded(uint64(count), "token id")
		if err != nil {
			return fmt.Errorf("token %d: %w", i, err)
		}
		n, err := p.count("token length")
		if err != nil {
			return fmt.Errorf("token %d: %w", i, err)
		}
		value, err := p.bytes(n)
		if err != nil {
			return fmt.Errorf("token %d: %w", i, err)
		}
		tokens = append(tokens, Token{ID: id, Value: string(value)})
	}
	dst.Tokens = tokens
	return p.done()
}

func decodeSegmentsStage(dst *Container, params []byte, payload []byte) error {
	if len(params) != 1 {
		return fmt.Errorf("invalid segments params: %v", params)
	}

	raw := payload
	var err error
	switch params[0] {
	case stageSegmentsParamRaw:
	case stageSegmentsParamFlate:
		raw, err = decodeFlatePayload(payload)
	case stageSegmentsParamZstd:
		raw, err = decodeZstdPayload(payload)
	default:
		return fmt.Errorf("unsupported segments encoding: %d", params[0])
	}
	if err != nil {
		return err
	}

	p := payloadReader{buf: raw}
	count, err := p.count("segment count")
	if err != nil {
		return err
	}
	segments := make([]string, 0, count)
	for i := 0; i < count; i++ {
		n, err := p.count("segment length")
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		seg, err := p.bytes(n)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		segments = append(segments, string(seg))
	}
	dst.Segments = segments
	return p.done()
}

// chainEntry is a placement as stored on the wire; ends are resolved once the
// token table is known.
type chainEntry struct {
	tokenID int
	start   int
}

func decodeChainStage(payload []byte) ([]chainEntry, error) {
	p := payloadReader{buf: payload}
	count, err := p.count("chain length")
	if err != nil {
		return nil, err
	}
	entries := make([]chainEntry, 0, count)
	start := uint64(0)
	for i := 0; i < count; i++ {
		id, err := p.bounded(maxSourceLen, "token id")
		if err != nil {
			return nil, fmt.Errorf("placement %d: %w", i, err)
		}
		delta, err := p.uvarint()
		if err != nil {
			return nil, fmt.Errorf("placement %d: %w", i, err)
		}
		start += delta
		if start > maxSourceLen {
			return nil, fmt.Errorf("placement %d: start out of range: %d", i, start)
		}
		entries = append(entries, chainEntry{tokenID: id, start: int(start)})
	}
	return entries, p.done()
}

func resolveChain(dst *Container, entries []chainEntry) error {
	chain := make([]Range, 0, len(entries))
	for i, e := range entries {
		token, err := dst.Token(e.tokenID)
		if err != nil {
			return fmt.Errorf("placement %d: %w", i, err)
		}
		r, err := token.RangeAt(e.start)
		if err != nil {
			return fmt.Errorf("placement %d: %w", i, err)
		}
		chain = append(chain, r)
	}
	dst.Chain = chain
	return nil
}

// WriteTo serializes the Container to an io.Writer.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, fmt.Errorf("invalid container: %w", err)
	}

	tokensPayload, err := encodeTokensStage(c)
	if err != nil {
		return 0, err
	}
	segmentsPayload, segmentsParam, err := encodeSegmentsStage(c)
	if err != nil {
		return 0, err
	}
	chainPayload, err := encodeChainStage(c)
	if err != nil {
		return 0, err
	}

	stages := []struct {
		name    string
		params  []byte
		payload []byte
	}{
		{name: stageSource, payload: encodeSourceStage(c)},
		{name: stageTokens, payload: tokensPayload},
		{name: stageSegments, params: []byte{segmentsParam}, payload: segmentsPayload},
		{name: stageChain, payload: chainPayload},
	}

	header := make([]byte, 0, len(archiveMagic)+4)
	header = append(header, archiveMagic...)
	header = binary.LittleEndian.AppendUint16(header, archiveVersion)
	header = binary.LittleEndian.AppendUint16(header, uint16(len(stages)))

	total, err := writeBytes(w, header)
	if err != nil {
		return total, err
	}
	for _, stage := range stages {
		n, err := writeStage(w, stage.name, stage.params, stage.payload)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom deserializes a Container from an io.Reader. The container is only
// replaced when the whole stream decodes and validates.
func (c *Container) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	var magic [4]byte
	n, err := io.ReadFull(r, magic[:])
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("read container magic at offset 0: %w", err)
	}
	if string(magic[:]) != archiveMagic {
		return total, fmt.Errorf("%w: invalid magic %q", ErrCorrupt, string(magic[:]))
	}

	var fixed [4]byte
	n, err = io.ReadFull(r, fixed[:])
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("read container header at offset 4: %w", err)
	}
	if version := binary.LittleEndian.Uint16(fixed[0:2]); version != archiveVersion {
		return total, fmt.Errorf("unsupported container version: %d", version)
	}
	stageCount := binary.LittleEndian.Uint16(fixed[2:4])
	if stageCount == 0 || stageCount > maxArchiveStages {
		return total, fmt.Errorf("%w: invalid stage count %d", ErrCorrupt, stageCount)
	}

	var (
		tmp        Container
		entries    []chainEntry
		seenStages = make(map[string]bool, stageCount)
	)
	for i := 0; i < int(stageCount); i++ {
		headerOffset := total
		header, n, err := readStageHeader(r)
		total += n
		if err != nil {
			return total, fmt.Errorf("read stage header at offset %d (stage index %d): %w", headerOffset, i, err)
		}
		if seenStages[header.name] {
			return total, fmt.Errorf("%w: duplicate stage %q at stage index %d", ErrCorrupt, header.name, i)
		}

		params := make([]byte, int(header.paramLen))
		nParams, err := io.ReadFull(r, params)
		total += int64(nParams)
		if err != nil {
			return total, fmt.Errorf("read stage %q params (stage index %d): %w", header.name, i, err)
		}

		switch header.name {
		case stageSource, stageTokens, stageSegments, stageChain:
		default:
			skipped, err := io.CopyN(io.Discard, r, int64(header.dataLen))
			total += skipped
			if err != nil {
				return total, fmt.Errorf("skip unknown stage %q (stage index %d): %w", header.name, i, err)
			}
			continue
		}

		payload := make([]byte, int(header.dataLen))
		payloadOffset := total
		nPayload, err := io.ReadFull(r, payload)
		total += int64(nPayload)
		if err != nil {
			return total, fmt.Errorf("read stage %q payload at offset %d (stage index %d): %w", header.name, payloadOffset, i, err)
		}

		switch header.name {
		case stageSource:
			err = decodeSourceStage(&tmp, payload)
		case stageTokens:
			err = decodeTokensStage(&tmp, payload)
		case stageSegments:
			err = decodeSegmentsStage(&tmp, params, payload)
		case stageChain:
			entries, err = decodeChainStage(payload)
		}
		if err != nil {
			return total, fmt.Errorf("%w: decode stage %q at offset %d (stage index %d): %w", ErrCorrupt, header.name, payloadOffset, i, err)
		}
		seenStages[header.name] = true
	}

	for _, stageName := range []string{stageSource, stageTokens, stageSegments, stageChain} {
		if !seenStages[stageName] {
			return total, fmt.Errorf("%w: missing required stage %q", ErrCorrupt, stageName)
		}
	}
	if err := resolveChain(&tmp, entries); err != nil {
		return total, fmt.Errorf("invalid container structure: %w", err)
	}
	if err := tmp.Validate(); err != nil {
		return total, fmt.Errorf("invalid container structure: %w", err)
	}

	*c = tmp
	return total, nil
}

// EncodedLen reports the number of bytes WriteTo would produce.
func (c *Container) EncodedLen() (int64, error) {
	return c.WriteTo(io.Discard)
}
