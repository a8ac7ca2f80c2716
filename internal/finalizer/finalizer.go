// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package finalizer is the Connection Finalizer (spec §4.5): it receives
// a completed flow from the TCP Assembler, persists both half-streams
// through the Stream Persister, aggregates the result into a
// model.Connection, and inserts it idempotently, keyed by FlowKey.
package finalizer

import (
	"context"
	"sort"

	"github.com/caronte-ctf/caronte/internal/assembler"
	"github.com/caronte-ctf/caronte/internal/logging"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/persister"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/store"
)

// Finalizer implements assembler.Sink.
type Finalizer struct {
	st       *store.Store
	registry *rules.Registry
	pst      *persister.Persister
	log      *logging.Logger
}

// New builds a Finalizer. maxChunkBytes configures the Persister it
// drives internally.
func New(st *store.Store, registry *rules.Registry, maxChunkBytes int) *Finalizer {
	return &Finalizer{
		st:       st,
		registry: registry,
		pst:      persister.New(st, maxChunkBytes),
		log:      logging.Default("finalizer"),
	}
}

// FlowComplete implements assembler.Sink. Errors are logged rather than
// propagated since the Assembler has no way to retry a flow it has
// already discarded from memory; a failed finalize is only recoverable
// by replaying the PCAP session that produced it.
func (f *Finalizer) FlowComplete(ctx context.Context, flow assembler.FlowResult) {
	if _, err := f.Finalize(ctx, flow); err != nil {
		f.log.Error("finalize failed", "flow_key", flow.FlowKey, "err", err)
	}
}

// Finalize persists flow and returns its assigned connection id.
// Re-finalizing a flow with the same FlowKey (e.g. a forced flush
// followed by the same flow's natural close) is a no-op that returns the
// already-assigned id.
func (f *Finalizer) Finalize(ctx context.Context, flow assembler.FlowResult) (model.RowID, error) {
	conn := model.Connection{
		IPSrc:       flow.IPSrc,
		PortSrc:     flow.PortSrc,
		IPDst:       flow.IPDst,
		PortDst:     flow.PortDst,
		StartedAt:   flow.StartedAt,
		ClosedAt:    flow.ClosedAt,
		ServicePort: flow.ServicePort,
		FlowKey:     flow.FlowKey,
	}

	id, err := f.st.InsertConnection(ctx, conn)
	if err != nil {
		return model.RowID(0), err
	}

	db := f.registry.CurrentDatabase()

	clientResult, err := f.pst.Persist(ctx, id, true, flow.Client, db)
	if err != nil {
		return id, err
	}
	serverResult, err := f.pst.Persist(ctx, id, false, flow.Server, db)
	if err != nil {
		return id, err
	}

	conn.ID = id
	conn.ClientBytes = clientResult.Bytes
	conn.ServerBytes = serverResult.Bytes
	conn.ClientDocuments = clientResult.Documents
	conn.ServerDocuments = serverResult.Documents
	conn.ProcessedAt = flow.ClosedAt
	conn.MatchedRules = mergeMatchedRules(clientResult.MatchedRules, serverResult.MatchedRules)

	if err := f.rewriteAggregates(ctx, id, conn); err != nil {
		return id, err
	}

	return id, nil
}

// rewriteAggregates persists the byte/document counters and matched
// rule set computed after both half-streams were scanned; InsertConnection
// only has the flow's identity at the time it assigns the row.
func (f *Finalizer) rewriteAggregates(ctx context.Context, id model.RowID, conn model.Connection) error {
	existing, err := f.st.FindConnection(ctx, id)
	if err != nil {
		return err
	}
	existing.ClientBytes = conn.ClientBytes
	existing.ServerBytes = conn.ServerBytes
	existing.ClientDocuments = conn.ClientDocuments
	existing.ServerDocuments = conn.ServerDocuments
	existing.ProcessedAt = conn.ProcessedAt
	existing.MatchedRules = conn.MatchedRules
	return f.st.UpdateConnection(ctx, id, existing)
}

func mergeMatchedRules(sets ...map[model.RowID]bool) []model.RowID {
	seen := map[model.RowID]bool{}
	for _, set := range sets {
		for id := range set {
			seen[id] = true
		}
	}
	out := make([]model.RowID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
