// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package model holds the persisted data types shared across the capture
// pipeline, the store, and the API surface (spec §3).
package model

import (
	"time"

	"github.com/caronte-ctf/caronte/internal/rowid"
)

// RowID is the primary key type for every persisted entity.
type RowID = rowid.RowID

// Direction restricts which side of a flow a Pattern is evaluated against.
type Direction uint8

const (
	DirectionBoth Direction = iota
	DirectionClient
	DirectionServer
)

func (d Direction) String() string {
	switch d {
	case DirectionClient:
		return "client"
	case DirectionServer:
		return "server"
	default:
		return "both"
	}
}

// PatternFlags adjusts how a Pattern's regex is compiled.
type PatternFlags struct {
	Caseless bool `json:"caseless"`
	DotAll   bool `json:"dot_all"`
	MinLen   uint `json:"min_len,omitempty"`
	MaxLen   uint `json:"max_len,omitempty"`
}

// Pattern is one byte regex within a Rule's pattern set.
type Pattern struct {
	Regex     string       `json:"regex" validate:"required,min=1"`
	Flags     PatternFlags `json:"flags"`
	Direction Direction    `json:"direction" validate:"max=2"`

	// InternalID is the pattern-id a RuleDatabase assigns this pattern
	// within one compiled database version. Zero until compiled.
	InternalID int `json:"-"`
}

// Rule is a named, versioned set of byte patterns evaluated by the scanner.
type Rule struct {
	ID       RowID     `json:"id"`
	Name     string    `json:"name" validate:"required,min=3"`
	Color    string    `json:"color" validate:"required,hexcolor"`
	Notes    string    `json:"notes,omitempty"`
	Enabled  bool      `json:"enabled"`
	Patterns []Pattern `json:"patterns" validate:"required,min=1,dive"`
	Version  uint64    `json:"version"`
}

// Range is a byte offset span, end-exclusive.
type Range struct {
	Start int `json:"from"`
	End   int `json:"to"`
}

// ConnectionStream is one chunk of one side of one flow.
type ConnectionStream struct {
	ID               RowID           `json:"id"`
	ConnectionID     RowID           `json:"connection_id"`
	FromClient       bool            `json:"from_client"`
	DocumentIndex    int             `json:"document_index"`
	Payload          []byte          `json:"payload"`
	BlocksIndexes    []int           `json:"blocks_indexes"`
	BlocksTimestamps []time.Time     `json:"blocks_timestamps"`
	BlocksLoss       []bool          `json:"blocks_loss"`
	PatternMatches   map[int][]Range `json:"pattern_matches,omitempty"`
	// ScannedVersion records the RuleDatabase version pattern_matches was
	// produced against, so a rescan can tell whether it is stale.
	ScannedVersion uint64 `json:"scanned_version"`
}

// Connection is one row per TCP flow.
type Connection struct {
	ID              RowID     `json:"id"`
	IPSrc           string    `json:"ip_src"`
	PortSrc         uint16    `json:"port_src"`
	IPDst           string    `json:"ip_dst"`
	PortDst         uint16    `json:"port_dst"`
	StartedAt       time.Time `json:"started_at"`
	ClosedAt        time.Time `json:"closed_at"`
	ClientBytes     int64     `json:"client_bytes"`
	ServerBytes     int64     `json:"server_bytes"`
	ClientDocuments int       `json:"client_documents"`
	ServerDocuments int       `json:"server_documents"`
	ProcessedAt     time.Time `json:"processed_at"`
	MatchedRules    []RowID   `json:"matched_rules"`
	ServicePort     uint16    `json:"service_port"`
	Marked          bool      `json:"marked"`
	Hidden          bool      `json:"hidden"`

	// FlowKey is the opaque finalizer idempotence key (spec §4.5):
	// the 4-tuple plus the flow start time.
	FlowKey string `json:"-"`
}

// PcapSession is one PCAP ingestion run.
type PcapSession struct {
	ID                 RowID            `json:"id"`
	Name               string           `json:"name"`
	StartedAt          time.Time        `json:"started_at"`
	CompletedAt        time.Time        `json:"completed_at"`
	Size               int64            `json:"size"`
	ProcessedPackets   uint64           `json:"processed_packets"`
	InvalidPackets     uint64           `json:"invalid_packets"`
	PacketsPerService  map[uint16]uint64 `json:"packets_per_service"`
	FlushAll           bool             `json:"flush_all"`
	StoragePath        string           `json:"-"`
	DeleteOriginalFile bool             `json:"-"`
}

// Filter restricts a GET /api/connections listing (spec §6).
type Filter struct {
	ServicePort   uint16
	MatchedRules  []RowID
	ClientAddress string
	ClientPort    uint16
	MinDuration   time.Duration
	MaxDuration   time.Duration
	MinBytes      int64
	MaxBytes      int64
	StartedAfter  time.Time
	StartedBefore time.Time
	ClosedAfter   time.Time
	ClosedBefore  time.Time
	Marked        *bool
	Hidden        *bool

	From  RowID
	To    RowID
	Limit int
}
