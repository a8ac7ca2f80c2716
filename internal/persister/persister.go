// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package persister is the Stream Persister (spec §4.4): it chunks a
// finished half-stream at config.MaxChunkBytes boundaries, scans every
// chunk through the Pattern Scanner, and writes the resulting
// model.ConnectionStream documents to the store. Chunk boundaries are
// always aligned to a TCP Assembler block boundary so a chunk's
// BlocksIndexes/Timestamps/Loss arrays never describe a block that was
// split mid-way.
package persister

import (
	"context"
	"time"

	"github.com/caronte-ctf/caronte/internal/assembler"
	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/scanner"
	"github.com/caronte-ctf/caronte/internal/store"
)

// Persister writes one side of a finished flow to the store.
type Persister struct {
	st            *store.Store
	maxChunkBytes int
}

// New builds a Persister that groups blocks into chunks of at most
// maxChunkBytes. Blocks are never split, so a single block longer than
// maxChunkBytes is written as one chunk larger than the limit.
func New(st *store.Store, maxChunkBytes int) *Persister {
	if maxChunkBytes <= 0 {
		maxChunkBytes = 64 * 1024
	}
	return &Persister{st: st, maxChunkBytes: maxChunkBytes}
}

// chunkSpec is one block-aligned slice of a HalfStream's payload.
type chunkSpec struct {
	start, end int // byte offsets into half.Payload
}

// writtenChunk is a chunk already persisted, kept around so matches
// discovered later in the scan can be attributed back to it.
type writtenChunk struct {
	id         model.RowID
	start, end int
}

// Result summarizes what Persist wrote for one half-stream.
type Result struct {
	Bytes        int64
	Documents    int
	MatchedRules map[model.RowID]bool
}

// Persist chunks half, scans it against db, and writes every chunk under
// connID. db may be nil, in which case chunks are written unscanned
// (scanned_version stays 0 so a later rescan picks them up).
func (p *Persister) Persist(ctx context.Context, connID model.RowID, fromClient bool, half *assembler.HalfStream, db *rules.Database) (Result, error) {
	res := Result{MatchedRules: map[model.RowID]bool{}}
	if half.Empty() {
		return res, nil
	}

	specs := splitAtBlockBoundaries(half, p.maxChunkBytes)

	var stream *scanner.Stream
	var version uint64
	if db != nil {
		s, err := scanner.NewStream(db, fromClient)
		if err != nil {
			return res, err
		}
		defer s.Close()
		stream = s
		version = db.Version
	}

	var chunks []writtenChunk
	matchesByChunk := map[model.RowID]map[int][]model.Range{}

	for idx, spec := range specs {
		cs := model.ConnectionStream{
			ConnectionID:     connID,
			FromClient:       fromClient,
			DocumentIndex:    idx,
			Payload:          half.Payload[spec.start:spec.end],
			BlocksIndexes:    shiftIndexes(half.BlocksIndexes, spec.start, spec.end),
			BlocksTimestamps: sliceTimestamps(half, spec.start, spec.end),
			BlocksLoss:       sliceLoss(half, spec.start, spec.end),
			ScannedVersion:   version,
		}

		id, err := p.insertOrFindChunk(ctx, cs)
		if err != nil {
			return res, err
		}
		chunks = append(chunks, writtenChunk{id: id, start: spec.start, end: spec.end})
		res.Bytes += int64(len(cs.Payload))
		res.Documents++

		if stream == nil {
			continue
		}

		matches, err := stream.Scan(cs.Payload, spec.start)
		if err != nil {
			return res, err
		}
		for _, m := range matches {
			res.MatchedRules[m.RuleID] = true
			owner := findChunkForOffset(chunks, m.Range.Start)

			// Kept in flow-global offsets, not chunk-relative: the Stream
			// Reader rewrites these to block-relative ranges itself, and
			// doing the offset math twice (here and there) invites drift.
			byRule := matchesByChunk[owner.id]
			if byRule == nil {
				byRule = map[int][]model.Range{}
				matchesByChunk[owner.id] = byRule
			}
			byRule[int(m.RuleID)] = append(byRule[int(m.RuleID)], m.Range)
		}
	}

	for chunkID, matches := range matchesByChunk {
		if err := p.st.UpdateConnectionStreamMatches(ctx, chunkID, matches, version); err != nil {
			return res, err
		}
	}

	return res, nil
}

// insertOrFindChunk makes InsertConnectionStream idempotent: a Conflict
// on the natural key means a previous attempt already wrote this exact
// chunk, so the existing id is reused instead of erroring.
func (p *Persister) insertOrFindChunk(ctx context.Context, cs model.ConnectionStream) (model.RowID, error) {
	id, err := p.st.InsertConnectionStream(ctx, cs)
	if err == nil {
		return id, nil
	}
	if cerrors.GetKind(err) == cerrors.KindConflict {
		if existing, ok, ferr := p.st.FindConnectionStreamByCoordinate(ctx, cs.ConnectionID, cs.FromClient, cs.DocumentIndex); ferr == nil && ok {
			return existing, nil
		}
	}
	return model.RowID(0), err
}

// findChunkForOffset returns the chunk containing offset. A match start
// can never precede the first written chunk since chunks are scanned in
// order, but if it somehow does, it is attributed to the first chunk
// rather than dropped.
func findChunkForOffset(chunks []writtenChunk, offset int) *writtenChunk {
	for i := range chunks {
		if offset >= chunks[i].start && offset < chunks[i].end {
			return &chunks[i]
		}
	}
	return &chunks[0]
}

// splitAtBlockBoundaries groups half's blocks into chunks no larger than
// maxBytes, always cutting on a block boundary. A block that alone exceeds
// maxBytes is not split and becomes one oversized chunk.
func splitAtBlockBoundaries(half *assembler.HalfStream, maxBytes int) []chunkSpec {
	if len(half.BlocksIndexes) == 0 {
		return nil
	}

	var specs []chunkSpec
	chunkStart := 0
	for i, blockStart := range half.BlocksIndexes {
		blockEnd := len(half.Payload)
		if i+1 < len(half.BlocksIndexes) {
			blockEnd = half.BlocksIndexes[i+1]
		}
		if blockEnd-chunkStart > maxBytes && blockStart > chunkStart {
			specs = append(specs, chunkSpec{start: chunkStart, end: blockStart})
			chunkStart = blockStart
		}
	}
	specs = append(specs, chunkSpec{start: chunkStart, end: len(half.Payload)})
	return specs
}

// shiftIndexes returns the subset of block-start offsets that fall in
// [start,end), rebased to be relative to start. Every chunk begins with
// an offset of 0 because splitAtBlockBoundaries only cuts on a block
// boundary.
func shiftIndexes(indexes []int, start, end int) []int {
	out := make([]int, 0, len(indexes))
	for _, idx := range indexes {
		if idx >= start && idx < end {
			out = append(out, idx-start)
		}
	}
	return out
}

func sliceTimestamps(half *assembler.HalfStream, start, end int) []time.Time {
	var out []time.Time
	for i, idx := range half.BlocksIndexes {
		if idx >= start && idx < end {
			out = append(out, half.BlocksTimestamps[i])
		}
	}
	return out
}

func sliceLoss(half *assembler.HalfStream, start, end int) []bool {
	var out []bool
	for i, idx := range half.BlocksIndexes {
		if idx >= start && idx < end {
			out = append(out, half.BlocksLoss[i])
		}
	}
	return out
}
