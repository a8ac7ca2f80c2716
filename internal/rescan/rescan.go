// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rescan is the background rescan work queue (spec §4.1/§9): a
// bounded channel of (connection_id, target_version) tasks, consumed by
// a worker pool, fed whenever the Rule Registry publishes a new
// compiled database. Each side of a connection is rescanned against the
// currently published database; a side whose chunks are all already at or
// past that database's version is left untouched, so replaying a task
// against an unchanged rule set does no work.
package rescan

import (
	"context"
	"sync"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/logging"
	"github.com/caronte-ctf/caronte/internal/metrics"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/scanner"
	"github.com/caronte-ctf/caronte/internal/store"
)

// task is one unit of work: rescan connID against the database at
// targetVersion.
type task struct {
	connID        model.RowID
	targetVersion uint64
}

// Queue is the background rescan work queue.
type Queue struct {
	st       *store.Store
	registry *rules.Registry
	metrics  *metrics.Metrics
	log      *logging.Logger

	tasks chan task
	wg    sync.WaitGroup
}

// New builds a Queue with the given number of workers and task buffer
// depth. m may be nil, in which case queue depth is not reported.
func New(st *store.Store, registry *rules.Registry, m *metrics.Metrics, workers, buffer int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	q := &Queue{
		st:       st,
		registry: registry,
		metrics:  m,
		log:      logging.Default("rescan"),
		tasks:    make(chan task, buffer),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Run subscribes to the registry's database updates and enqueues a
// rescan of every known connection on each version bump. It blocks
// until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case db, ok := <-q.registry.Updates():
			if !ok {
				return
			}
			q.enqueueAll(ctx, db.Version)
		}
	}
}

func (q *Queue) enqueueAll(ctx context.Context, targetVersion uint64) {
	conns, err := q.st.ListConnections(ctx, model.Filter{})
	if err != nil {
		q.log.Error("rescan: list connections failed", "err", err)
		return
	}
	for _, conn := range conns {
		q.Enqueue(conn.ID, targetVersion)
	}
}

// Enqueue schedules connID for a rescan against targetVersion. It never
// blocks indefinitely: if the queue is full the task is dropped and
// logged, since the next version bump will re-enqueue every connection
// anyway.
func (q *Queue) Enqueue(connID model.RowID, targetVersion uint64) {
	select {
	case q.tasks <- task{connID: connID, targetVersion: targetVersion}:
		if q.metrics != nil {
			q.metrics.RescanQueueLen.Set(float64(len(q.tasks)))
		}
	default:
		q.log.Warn("rescan: queue full, dropping task", "connection_id", connID, "target_version", targetVersion)
	}
}

// Close stops accepting new tasks and waits for in-flight workers to drain.
func (q *Queue) Close() {
	close(q.tasks)
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		if q.metrics != nil {
			q.metrics.RescanQueueLen.Set(float64(len(q.tasks)))
		}
		if err := q.rescanConnection(context.Background(), t.connID, t.targetVersion); err != nil {
			q.log.Error("rescan failed", "connection_id", t.connID, "target_version", t.targetVersion, "err", err)
			if q.metrics != nil {
				q.metrics.RescanFailures.Inc()
			}
		}
	}
}

// rescanConnection rescans both sides of connID against the database
// version targetVersion currently published by the registry. If the
// registry has since moved past targetVersion, it rescans against the
// current database instead; a version bump that happens mid-flight is
// not a reason to throw away work, since the result still reflects a
// valid (if newer) rule set.
func (q *Queue) rescanConnection(ctx context.Context, connID model.RowID, targetVersion uint64) error {
	db := q.registry.CurrentDatabase()

	for _, fromClient := range []bool{true, false} {
		if err := q.rescanSide(ctx, connID, fromClient, db); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) rescanSide(ctx context.Context, connID model.RowID, fromClient bool, db *rules.Database) error {
	chunks, err := q.st.ListConnectionStreams(ctx, connID, fromClient)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	stale := false
	for _, c := range chunks {
		if c.ScannedVersion < db.Version {
			stale = true
			break
		}
	}
	if !stale {
		return nil
	}

	stream, err := scanner.NewStream(db, fromClient)
	if err != nil {
		return err
	}
	defer stream.Close()

	spans := make([]chunkSpan, 0, len(chunks))
	matchesByChunk := map[model.RowID]map[int][]model.Range{}

	base := 0
	for _, c := range chunks {
		spans = append(spans, chunkSpan{id: c.ID, start: base, end: base + len(c.Payload)})

		matches, err := stream.Scan(c.Payload, base)
		if err != nil {
			return err
		}
		for _, m := range matches {
			owner := spanFor(spans, m.Range.Start)
			byRule := matchesByChunk[owner.id]
			if byRule == nil {
				byRule = map[int][]model.Range{}
				matchesByChunk[owner.id] = byRule
			}
			byRule[int(m.RuleID)] = append(byRule[int(m.RuleID)], m.Range)
		}
		base += len(c.Payload)
	}

	for _, c := range chunks {
		if err := q.st.UpdateConnectionStreamMatches(ctx, c.ID, matchesByChunk[c.ID], db.Version); err != nil {
			return cerrors.Wrap(err, cerrors.KindTransient, "rescan: update matches")
		}
	}
	return nil
}

// chunkSpan is the flow-global byte range covered by one already-persisted
// ConnectionStream row, used to attribute a rescanned match back to it.
type chunkSpan struct {
	id         model.RowID
	start, end int
}

func spanFor(spans []chunkSpan, offset int) chunkSpan {
	for _, s := range spans {
		if offset >= s.start && offset < s.end {
			return s
		}
	}
	return spans[0]
}
