// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package streamreader is the Stream Reader (spec §4.7): on query, it
// merges a connection's client and server half-streams back into an
// ordered, format-decoded, metadata-parsed payload sequence.
package streamreader

import (
	"context"
	"sort"
	"time"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/format"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/protoparse"
	"github.com/caronte-ctf/caronte/internal/store"
)

const defaultLimit = 8024

// Options configures GetConnectionPayload.
type Options struct {
	Format format.Name
	Skip   int
	Limit  int
}

// Payload is one emitted, ordered unit of a merged connection stream.
type Payload struct {
	FromClient             bool                 `json:"from_client"`
	Content                string               `json:"content"`
	Index                  int                  `json:"index"`
	Timestamp              time.Time            `json:"timestamp"`
	IsRetransmitted        bool                 `json:"is_retransmitted"`
	RegexMatches           []model.Range        `json:"regex_matches,omitempty"`
	Metadata               *protoparse.Metadata `json:"metadata,omitempty"`
	IsMetadataContinuation bool                 `json:"is_metadata_continuation,omitempty"`
}

// Reader implements GetConnectionPayload over the store.
type Reader struct {
	st *store.Store
}

// New builds a Reader.
func New(st *store.Store) *Reader {
	return &Reader{st: st}
}

// block is one TCP-reassembled block, already placed at its global
// offset within its own side's full byte stream.
type block struct {
	fromClient bool
	content    []byte
	globalIdx  int
	timestamp  time.Time
	loss       bool
	matches    []model.Range // block-relative
}

// GetConnectionPayload merges the two sides of connID into an ordered
// Payload sequence, applying opts.Format, opts.Skip and opts.Limit.
func (r *Reader) GetConnectionPayload(ctx context.Context, connID model.RowID, opts Options) ([]Payload, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}

	if _, err := r.st.FindConnection(ctx, connID); err != nil {
		return nil, err
	}

	clientChunks, err := r.st.ListConnectionStreams(ctx, connID, true)
	if err != nil {
		return nil, err
	}
	serverChunks, err := r.st.ListConnectionStreams(ctx, connID, false)
	if err != nil {
		return nil, err
	}

	clientBlocks, err := buildBlocks(clientChunks, true)
	if err != nil {
		return nil, err
	}
	serverBlocks, err := buildBlocks(serverChunks, false)
	if err != nil {
		return nil, err
	}

	merged := mergeBlocks(clientBlocks, serverBlocks)

	payloads, passedSkip, cancelErr := paginate(ctx, merged, opts)
	attachMetadata(payloads)

	if cancelErr != nil {
		if !passedSkip {
			return nil, cancelErr
		}
		return payloads, cancelErr
	}
	return payloads, nil
}

// buildBlocks flattens chunks (ordered by document_index) into a
// contiguous, globally-offset block list. Match ranges in
// ConnectionStream.PatternMatches are flow-global; they are rewritten
// here to block-relative ranges clamped to [0, block_length].
func buildBlocks(chunks []model.ConnectionStream, fromClient bool) ([]block, error) {
	var blocks []block
	base := 0
	for _, cs := range chunks {
		for i, start := range cs.BlocksIndexes {
			end := len(cs.Payload)
			if i+1 < len(cs.BlocksIndexes) {
				end = cs.BlocksIndexes[i+1]
			}
			globalStart := base + start
			globalEnd := base + end

			var loss bool
			if i < len(cs.BlocksLoss) {
				loss = cs.BlocksLoss[i]
			}
			var ts time.Time
			if i < len(cs.BlocksTimestamps) {
				ts = cs.BlocksTimestamps[i]
			}

			blocks = append(blocks, block{
				fromClient: fromClient,
				content:    cs.Payload[start:end],
				globalIdx:  globalStart,
				timestamp:  ts,
				loss:       loss,
				matches:    matchesForRange(cs.PatternMatches, globalStart, globalEnd),
			})
		}
		base += len(cs.Payload)
	}
	return blocks, nil
}

// matchesForRange returns every match range overlapping [globalStart,
// globalEnd), rewritten relative to globalStart and clamped to the
// block's length.
func matchesForRange(byRule map[int][]model.Range, globalStart, globalEnd int) []model.Range {
	var out []model.Range
	for _, ranges := range byRule {
		for _, rng := range ranges {
			if rng.End <= globalStart || rng.Start >= globalEnd {
				continue
			}
			start := rng.Start - globalStart
			if start < 0 {
				start = 0
			}
			end := rng.End - globalStart
			if blockLen := globalEnd - globalStart; end > blockLen {
				end = blockLen
			}
			out = append(out, model.Range{Start: start, End: end})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// mergeBlocks walks client and server in lock-step, always emitting the
// earlier timestamp with client-before-server tie-break.
func mergeBlocks(client, server []block) []block {
	merged := make([]block, 0, len(client)+len(server))
	i, j := 0, 0
	for i < len(client) && j < len(server) {
		if !client[i].timestamp.After(server[j].timestamp) {
			merged = append(merged, client[i])
			i++
		} else {
			merged = append(merged, server[j])
			j++
		}
	}
	merged = append(merged, client[i:]...)
	merged = append(merged, server[j:]...)
	return merged
}

// paginate walks merged in order, skipping whole blocks whose end falls
// at or before opts.Skip and stopping once the running offset passes
// opts.Skip+opts.Limit. It reports whether traversal had already passed
// skip at the point a context cancellation was observed, per the
// Reader's partial-result contract.
func paginate(ctx context.Context, merged []block, opts Options) ([]Payload, bool, error) {
	var out []Payload
	globalIndex := 0
	passedSkip := false

	for _, b := range merged {
		if err := ctx.Err(); err != nil {
			return out, passedSkip, cerrors.Wrap(err, cerrors.KindTransient, "streamreader: cancelled")
		}

		blockEnd := globalIndex + len(b.content)
		if blockEnd <= opts.Skip {
			globalIndex = blockEnd
			continue
		}
		passedSkip = true

		out = append(out, Payload{
			FromClient:      b.fromClient,
			Content:         format.Render(opts.Format, b.content),
			Index:           b.globalIdx,
			Timestamp:       b.timestamp,
			IsRetransmitted: b.loss,
			RegexMatches:    b.matches,
		})

		globalIndex = blockEnd
		if globalIndex > opts.Skip+opts.Limit {
			break
		}
	}
	return out, passedSkip, nil
}

// attachMetadata groups consecutive same-side Payloads into metadata
// chunks, sniffs each run's concatenated Content via protoparse, and
// attaches the result to the first Payload of the run.
//
// Payload.Content has already been passed through the format decoder by
// this point, so the parser sees the rendered text, not the stored bytes.
// Under the default format that text keeps printable bytes, CR and LF as
// they are; under encoding formats such as hex or base64 the parser sees
// the encoded text and does not recognize an HTTP message in it.
func attachMetadata(payloads []Payload) {
	i := 0
	for i < len(payloads) {
		j := i + 1
		for j < len(payloads) && payloads[j].FromClient == payloads[i].FromClient {
			j++
		}

		var raw []byte
		for k := i; k < j; k++ {
			raw = append(raw, payloads[k].Content...)
		}
		meta := protoparse.Parse(raw)
		payloads[i].Metadata = &meta
		for k := i + 1; k < j; k++ {
			payloads[k].IsMetadataContinuation = true
		}

		i = j
	}
}
