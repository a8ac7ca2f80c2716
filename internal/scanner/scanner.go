// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scanner is the Pattern Scanner (spec §4.2): it streams one
// side of a flow through a compiled rules.Database and reports every
// match as a (rule id, byte range) pair. Scanning is incremental so the
// Stream Persister can feed it one chunk at a time without re-scanning
// bytes already seen, and bounded so a pathological pattern set cannot
// block the capture pipeline indefinitely.
package scanner

import (
	"github.com/flier/gohs/hyperscan"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/rules"
)

// Match is one pattern hit, translated from hyperscan's local pattern id
// back to the owning Rule.
type Match struct {
	RuleID     model.RowID
	PatternIdx int
	Range      model.Range
}

// Stream incrementally scans one side of one flow against a fixed
// rules.Database snapshot. It is not safe for concurrent use; the
// persister owns one Stream per half-flow.
type Stream struct {
	db        *rules.Database
	direction model.Direction
	resolve   func(int) (rules.PatternOwner, bool)

	scratch *hyperscan.Scratch
	hstream hyperscan.Stream
	matches []Match
	closed  bool
}

// NewStream opens a scanning stream bound to db for traffic flowing in
// the given direction ("client" scans client->server bytes against the
// client sub-database, "server" the converse). A flow with no enabled
// pattern in that direction returns a no-op Stream whose Scan calls
// always report zero matches.
func NewStream(db *rules.Database, fromClient bool) (*Stream, error) {
	direction := model.DirectionServer
	hdb := db.ServerDatabase()
	resolve := db.ResolveServer
	if fromClient {
		direction = model.DirectionClient
		hdb = db.ClientDatabase()
		resolve = db.ResolveClient
	}

	s := &Stream{db: db, direction: direction, resolve: resolve}
	if hdb == nil {
		return s, nil
	}

	scratch, err := hyperscan.NewScratch(hdb)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.KindInternal, "scanner: allocate scratch")
	}

	hstream, err := hdb.Open(0, scratch, s.handleMatch, nil)
	if err != nil {
		scratch.Free()
		return nil, cerrors.Wrap(err, cerrors.KindInternal, "scanner: open stream")
	}

	s.scratch = scratch
	s.hstream = hstream
	return s, nil
}

// handleMatch is hyperscan's MatchHandler callback. It records matches
// into s.matches; Scan drains and returns them so the caller never holds
// a reference into hyperscan-owned memory.
func (s *Stream) handleMatch(id uint, from, to uint64, flags uint, context interface{}) error {
	owner, ok := s.resolve(int(id))
	if !ok {
		return nil
	}
	s.matches = append(s.matches, Match{
		RuleID:     owner.RuleID,
		PatternIdx: owner.PatternIdx,
		Range:      model.Range{Start: int(from), End: int(to)},
	})
	return nil
}

// Scan feeds one chunk of bytes through the stream at flowOffset (the
// chunk's absolute byte offset within the half-flow) and returns every
// match found in this chunk, with ranges already translated to absolute
// flow offsets.
func (s *Stream) Scan(chunk []byte, flowOffset int) ([]Match, error) {
	if s.closed {
		return nil, cerrors.New(cerrors.KindInvalidInput, "scanner: scan on closed stream")
	}
	if s.hstream == nil || len(chunk) == 0 {
		return nil, nil
	}

	s.matches = s.matches[:0]
	if err := s.hstream.Scan(chunk); err != nil {
		return nil, cerrors.Wrap(err, cerrors.KindInternal, "scanner: scan")
	}

	out := make([]Match, len(s.matches))
	for i, m := range s.matches {
		out[i] = m
		out[i].Range.Start += flowOffset
		out[i].Range.End += flowOffset
	}
	return out, nil
}

// Close ends the hyperscan stream and releases hyperscan resources.
// Matches that hyperscan reports while closing the stream (end-of-data
// matches) are not returned to the caller. A Stream must not be used
// after Close.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.hstream == nil {
		return nil
	}
	defer s.scratch.Free()
	if err := s.hstream.Close(); err != nil {
		return cerrors.Wrap(err, cerrors.KindInternal, "scanner: close stream")
	}
	return nil
}
