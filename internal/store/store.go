// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the opaque collection-oriented document store spec §6
// describes: filtered find/insert/update over five collections (rules,
// connections, connection_streams, pcap_sessions, settings), each keyed by
// a monotonic RowID. It is backed by SQLite (modernc.org/sqlite, pure Go,
// no cgo) the way the teacher's internal/analytics/store.go backs
// aggregate tables: one table per collection, a JSON payload column for
// the full document plus a handful of indexed scalar columns for the
// filters the API needs to push down.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the document store. The zero value is not usable; use Open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite-backed store at path.
// Use ":memory:" for an ephemeral store (tests, single-shot CLI runs).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.KindTransient, "store: open")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_port INTEGER NOT NULL DEFAULT 0,
			client_address TEXT NOT NULL DEFAULT '',
			client_port INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL DEFAULT 0,
			closed_at INTEGER NOT NULL DEFAULT 0,
			total_bytes INTEGER NOT NULL DEFAULT 0,
			marked INTEGER NOT NULL DEFAULT 0,
			hidden INTEGER NOT NULL DEFAULT 0,
			flow_key TEXT NOT NULL DEFAULT '',
			doc TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_flow_key ON connections(flow_key) WHERE flow_key != ''`,
		`CREATE INDEX IF NOT EXISTS idx_connections_service_port ON connections(service_port)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_started_at ON connections(started_at)`,
		`CREATE TABLE IF NOT EXISTS connection_streams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			connection_id INTEGER NOT NULL,
			from_client INTEGER NOT NULL,
			document_index INTEGER NOT NULL,
			doc TEXT NOT NULL,
			UNIQUE(connection_id, from_client, document_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_connection ON connection_streams(connection_id, from_client, document_index)`,
		`CREATE TABLE IF NOT EXISTS pcap_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return cerrors.Wrapf(err, cerrors.KindInternal, "store: migrate: %s", stmt)
		}
	}
	return nil
}

// translate maps a context or driver error onto the core's error kinds.
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return cerrors.Wrap(ctx.Err(), cerrors.KindTransient, "store: context")
	}
	return cerrors.Wrap(err, cerrors.KindTransient, "store: operation failed")
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", cerrors.Wrap(err, cerrors.KindInternal, "store: marshal")
	}
	return string(b), nil
}

func unmarshal(data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return cerrors.Wrap(err, cerrors.KindInternal, "store: invariant violation: corrupt document")
	}
	return nil
}

// --- rules ---------------------------------------------------------------

// InsertRule inserts a new rule and returns its assigned RowID. A
// duplicate name is a Conflict.
func (s *Store) InsertRule(ctx context.Context, rule model.Rule) (model.RowID, error) {
	doc, err := marshal(rule)
	if err != nil {
		return model.RowID(0), err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO rules(name, doc) VALUES (?, ?)`, rule.Name, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RowID(0), cerrors.Errorf(cerrors.KindConflict, "rule name %q already exists", rule.Name)
		}
		return model.RowID(0), translate(ctx, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.RowID(0), translate(ctx, err)
	}
	return model.RowID(id), nil
}

// UpdateRule overwrites the document stored for id. Returns NotFound if
// the rule does not exist.
func (s *Store) UpdateRule(ctx context.Context, id model.RowID, rule model.Rule) error {
	doc, err := marshal(rule)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET name = ?, doc = ? WHERE id = ?`, rule.Name, doc, int64(id))
	if err != nil {
		if isUniqueViolation(err) {
			return cerrors.Errorf(cerrors.KindConflict, "rule name %q already exists", rule.Name)
		}
		return translate(ctx, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return cerrors.Errorf(cerrors.KindNotFound, "rule %v not found", id)
	}
	return nil
}

func (s *Store) FindRule(ctx context.Context, id model.RowID) (model.Rule, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM rules WHERE id = ?`, int64(id)).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Rule{}, cerrors.Errorf(cerrors.KindNotFound, "rule %v not found", id)
	}
	if err != nil {
		return model.Rule{}, translate(ctx, err)
	}
	var rule model.Rule
	if err := unmarshal(doc, &rule); err != nil {
		return model.Rule{}, err
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM rules ORDER BY id ASC`)
	if err != nil {
		return nil, translate(ctx, err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, translate(ctx, err)
		}
		var rule model.Rule
		if err := unmarshal(doc, &rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, translate(ctx, rows.Err())
}

// --- connections -----------------------------------------------------------

// InsertConnection inserts a connection keyed by its idempotence FlowKey.
// Re-inserting the same FlowKey returns the existing RowID (spec §4.5
// idempotence) instead of erroring.
func (s *Store) InsertConnection(ctx context.Context, conn model.Connection) (model.RowID, error) {
	if conn.FlowKey != "" {
		if existing, ok, err := s.findConnectionByFlowKey(ctx, conn.FlowKey); err != nil {
			return model.RowID(0), err
		} else if ok {
			return existing, nil
		}
	}

	doc, err := marshal(conn)
	if err != nil {
		return model.RowID(0), err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connections(service_port, client_address, client_port, started_at, closed_at, total_bytes, marked, hidden, flow_key, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ServicePort, conn.IPSrc, conn.PortSrc,
		conn.StartedAt.UnixNano(), conn.ClosedAt.UnixNano(),
		conn.ClientBytes+conn.ServerBytes, boolToInt(conn.Marked), boolToInt(conn.Hidden),
		conn.FlowKey, doc)
	if err != nil {
		if isUniqueViolation(err) {
			if existing, ok, ferr := s.findConnectionByFlowKey(ctx, conn.FlowKey); ferr == nil && ok {
				return existing, nil
			}
			return model.RowID(0), cerrors.New(cerrors.KindConflict, "connection already finalized")
		}
		return model.RowID(0), translate(ctx, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.RowID(0), translate(ctx, err)
	}
	return model.RowID(id), nil
}

func (s *Store) findConnectionByFlowKey(ctx context.Context, key string) (model.RowID, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM connections WHERE flow_key = ?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return model.RowID(0), false, nil
	}
	if err != nil {
		return model.RowID(0), false, translate(ctx, err)
	}
	return model.RowID(id), true, nil
}

func (s *Store) FindConnection(ctx context.Context, id model.RowID) (model.Connection, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM connections WHERE id = ?`, int64(id)).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Connection{}, cerrors.Errorf(cerrors.KindNotFound, "connection %v not found", id)
	}
	if err != nil {
		return model.Connection{}, translate(ctx, err)
	}
	var conn model.Connection
	if err := unmarshal(doc, &conn); err != nil {
		return model.Connection{}, err
	}
	return conn, nil
}

// UpdateConnection overwrites the full connection document and its
// indexed scalar columns. Used by the finalizer to fill in aggregates
// (byte counts, matched rules) that are only known once both
// half-streams have been persisted.
func (s *Store) UpdateConnection(ctx context.Context, id model.RowID, conn model.Connection) error {
	doc, err := marshal(conn)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET service_port = ?, client_address = ?, client_port = ?,
			started_at = ?, closed_at = ?, total_bytes = ?, marked = ?, hidden = ?, doc = ?
		WHERE id = ?`,
		conn.ServicePort, conn.IPSrc, conn.PortSrc,
		conn.StartedAt.UnixNano(), conn.ClosedAt.UnixNano(),
		conn.ClientBytes+conn.ServerBytes, boolToInt(conn.Marked), boolToInt(conn.Hidden),
		doc, int64(id))
	if err != nil {
		return translate(ctx, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return cerrors.Errorf(cerrors.KindNotFound, "connection %v not found", id)
	}
	return nil
}

// UpdateConnectionFlags patches the marked/hidden flags of a connection.
func (s *Store) UpdateConnectionFlags(ctx context.Context, id model.RowID, marked, hidden *bool) error {
	conn, err := s.FindConnection(ctx, id)
	if err != nil {
		return err
	}
	if marked != nil {
		conn.Marked = *marked
	}
	if hidden != nil {
		conn.Hidden = *hidden
	}
	doc, err := marshal(conn)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE connections SET marked = ?, hidden = ?, doc = ? WHERE id = ?`,
		boolToInt(conn.Marked), boolToInt(conn.Hidden), doc, int64(id))
	return translate(ctx, err)
}

// ListConnections returns connections matching f, ordered ascending by id
// when f.From is set, descending when f.To is set (spec §6 pagination).
func (s *Store) ListConnections(ctx context.Context, f model.Filter) ([]model.Connection, error) {
	query := `SELECT doc FROM connections WHERE 1=1`
	var args []any

	if f.ServicePort != 0 {
		query += ` AND service_port = ?`
		args = append(args, f.ServicePort)
	}
	if f.ClientAddress != "" {
		query += ` AND client_address = ?`
		args = append(args, f.ClientAddress)
	}
	if f.ClientPort != 0 {
		query += ` AND client_port = ?`
		args = append(args, f.ClientPort)
	}
	if !f.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, f.StartedAfter.UnixNano())
	}
	if !f.StartedBefore.IsZero() {
		query += ` AND started_at <= ?`
		args = append(args, f.StartedBefore.UnixNano())
	}
	if !f.ClosedAfter.IsZero() {
		query += ` AND closed_at >= ?`
		args = append(args, f.ClosedAfter.UnixNano())
	}
	if !f.ClosedBefore.IsZero() {
		query += ` AND closed_at <= ?`
		args = append(args, f.ClosedBefore.UnixNano())
	}
	if f.MinBytes != 0 {
		query += ` AND total_bytes >= ?`
		args = append(args, f.MinBytes)
	}
	if f.MaxBytes != 0 {
		query += ` AND total_bytes <= ?`
		args = append(args, f.MaxBytes)
	}
	if f.Marked != nil {
		query += ` AND marked = ?`
		args = append(args, boolToInt(*f.Marked))
	}
	if f.Hidden != nil {
		query += ` AND hidden = ?`
		args = append(args, boolToInt(*f.Hidden))
	}
	if !f.From.IsEmpty() {
		query += ` AND id > ?`
		args = append(args, int64(f.From))
	}
	if !f.To.IsEmpty() {
		query += ` AND id < ?`
		args = append(args, int64(f.To))
	}

	order := "ASC"
	if !f.To.IsEmpty() && f.From.IsEmpty() {
		order = "DESC"
	}
	query += fmt.Sprintf(` ORDER BY id %s`, order)

	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(ctx, err)
	}
	defer rows.Close()

	var out []model.Connection
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, translate(ctx, err)
		}
		var conn model.Connection
		if err := unmarshal(doc, &conn); err != nil {
			return nil, err
		}
		if !matchesMinDuration(conn, f) {
			continue
		}
		if !matchesRules(conn, f.MatchedRules) {
			continue
		}
		out = append(out, conn)
	}
	return out, translate(ctx, rows.Err())
}

func matchesMinDuration(conn model.Connection, f model.Filter) bool {
	dur := conn.ClosedAt.Sub(conn.StartedAt)
	if f.MinDuration != 0 && dur < f.MinDuration {
		return false
	}
	if f.MaxDuration != 0 && dur > f.MaxDuration {
		return false
	}
	return true
}

func matchesRules(conn model.Connection, want []model.RowID) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[model.RowID]bool, len(conn.MatchedRules))
	for _, r := range conn.MatchedRules {
		have[r] = true
	}
	for _, w := range want {
		if have[w] {
			return true
		}
	}
	return false
}

// --- connection streams ----------------------------------------------------

// InsertConnectionStream appends a chunk; (connection_id, from_client,
// document_index) is unique, so a retried persist of the same chunk fails
// with Conflict instead of silently duplicating it.
func (s *Store) InsertConnectionStream(ctx context.Context, cs model.ConnectionStream) (model.RowID, error) {
	doc, err := marshal(cs)
	if err != nil {
		return model.RowID(0), err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_streams(connection_id, from_client, document_index, doc)
		VALUES (?, ?, ?, ?)`,
		int64(cs.ConnectionID), boolToInt(cs.FromClient), cs.DocumentIndex, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RowID(0), cerrors.New(cerrors.KindConflict, "chunk already persisted")
		}
		return model.RowID(0), translate(ctx, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.RowID(0), translate(ctx, err)
	}
	return model.RowID(id), nil
}

// FindConnectionStreamByCoordinate looks up a chunk by its natural key,
// letting the persister treat a retried persist as a no-op instead of a
// Conflict.
func (s *Store) FindConnectionStreamByCoordinate(ctx context.Context, connID model.RowID, fromClient bool, documentIndex int) (model.RowID, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM connection_streams WHERE connection_id = ? AND from_client = ? AND document_index = ?`,
		int64(connID), boolToInt(fromClient), documentIndex).Scan(&id)
	if err == sql.ErrNoRows {
		return model.RowID(0), false, nil
	}
	if err != nil {
		return model.RowID(0), false, translate(ctx, err)
	}
	return model.RowID(id), true, nil
}

// UpdateConnectionStreamMatches rewrites pattern_matches and the scanned
// version of an already-persisted chunk (spec §4.1 rescan).
func (s *Store) UpdateConnectionStreamMatches(ctx context.Context, id model.RowID, matches map[int][]model.Range, version uint64) error {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM connection_streams WHERE id = ?`, int64(id)).Scan(&doc)
	if err == sql.ErrNoRows {
		return cerrors.Errorf(cerrors.KindNotFound, "stream %v not found", id)
	}
	if err != nil {
		return translate(ctx, err)
	}
	var cs model.ConnectionStream
	if err := unmarshal(doc, &cs); err != nil {
		return err
	}
	cs.PatternMatches = matches
	cs.ScannedVersion = version
	newDoc, err := marshal(cs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE connection_streams SET doc = ? WHERE id = ?`, newDoc, int64(id))
	return translate(ctx, err)
}

// ListConnectionStreams returns the chunks of one side of a connection,
// ordered by document_index ascending.
func (s *Store) ListConnectionStreams(ctx context.Context, connID model.RowID, fromClient bool) ([]model.ConnectionStream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM connection_streams
		WHERE connection_id = ? AND from_client = ?
		ORDER BY document_index ASC`, int64(connID), boolToInt(fromClient))
	if err != nil {
		return nil, translate(ctx, err)
	}
	defer rows.Close()

	var out []model.ConnectionStream
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, translate(ctx, err)
		}
		var cs model.ConnectionStream
		if err := unmarshal(doc, &cs); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, translate(ctx, rows.Err())
}

// --- pcap sessions -----------------------------------------------------------

func (s *Store) InsertPcapSession(ctx context.Context, sess model.PcapSession) (model.RowID, error) {
	doc, err := marshal(sess)
	if err != nil {
		return model.RowID(0), err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO pcap_sessions(doc) VALUES (?)`, doc)
	if err != nil {
		return model.RowID(0), translate(ctx, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.RowID(0), translate(ctx, err)
	}
	return model.RowID(id), nil
}

func (s *Store) UpdatePcapSession(ctx context.Context, id model.RowID, sess model.PcapSession) error {
	doc, err := marshal(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pcap_sessions SET doc = ? WHERE id = ?`, doc, int64(id))
	if err != nil {
		return translate(ctx, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return cerrors.Errorf(cerrors.KindNotFound, "session %v not found", id)
	}
	return nil
}

func (s *Store) FindPcapSession(ctx context.Context, id model.RowID) (model.PcapSession, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM pcap_sessions WHERE id = ?`, int64(id)).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.PcapSession{}, cerrors.Errorf(cerrors.KindNotFound, "session %v not found", id)
	}
	if err != nil {
		return model.PcapSession{}, translate(ctx, err)
	}
	var sess model.PcapSession
	if err := unmarshal(doc, &sess); err != nil {
		return model.PcapSession{}, err
	}
	return sess, nil
}

func (s *Store) ListPcapSessions(ctx context.Context) ([]model.PcapSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM pcap_sessions ORDER BY id ASC`)
	if err != nil {
		return nil, translate(ctx, err)
	}
	defer rows.Close()

	var out []model.PcapSession
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, translate(ctx, err)
		}
		var sess model.PcapSession
		if err := unmarshal(doc, &sess); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, translate(ctx, rows.Err())
}

// PutSetting upserts the document stored under key in the settings
// collection, used to persist the bootstrap POST /setup payload.
func (s *Store) PutSetting(ctx context.Context, key string, v any) error {
	doc, err := marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings(key, doc) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET doc = excluded.doc`,
		key, doc)
	return translate(ctx, err)
}

// GetSetting loads the document stored under key into v, reporting false
// if no such setting has been written yet.
func (s *Store) GetSetting(ctx context.Context, key string, v any) (bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM settings WHERE key = ?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, translate(ctx, err)
	}
	if err := unmarshal(doc, v); err != nil {
		return false, err
	}
	return true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
