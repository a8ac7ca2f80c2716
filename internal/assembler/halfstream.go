// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package assembler is the TCP Assembler (spec §4.3): it consumes a
// packet stream, reassembles each TCP flow into an ordered pair of
// half-stream byte buffers (client->server and server->client), and
// hands a completed flow to a Sink once it terminates. Reassembly itself
// is delegated to github.com/gopacket/gopacket/reassembly, the same
// library family the teacher's PCAP replay tooling builds packet
// sources from; this package supplies the StreamFactory/Stream pair and
// the block-boundary and flow-lifecycle policy spec.md layers on top.
package assembler

import "time"

// HalfStream accumulates one direction of one flow. Payload is the
// concatenation of every byte seen so far; BlocksIndexes/Timestamps/Loss
// are parallel arrays describing the block each byte of Payload belongs
// to, mirroring model.ConnectionStream's own block arrays so the Stream
// Persister can chunk this buffer without reshaping it.
type HalfStream struct {
	Payload          []byte
	BlocksIndexes    []int
	BlocksTimestamps []time.Time
	BlocksLoss       []bool

	lastActivity time.Time
}

// Append adds data observed at ts to the half-stream. A new block starts
// only when this is the first data or when more than blockGap has elapsed
// since the previous byte; loss never starts a block on its own, it is
// OR-ed into the block it joins, so a retransmission inside an otherwise
// contiguous run of bytes still lands in a single block marked lossy.
func (h *HalfStream) Append(data []byte, ts time.Time, loss bool, blockGap time.Duration) {
	if len(data) == 0 {
		return
	}

	newBlock := len(h.BlocksIndexes) == 0 || ts.Sub(h.lastActivity) > blockGap

	if newBlock {
		h.BlocksIndexes = append(h.BlocksIndexes, len(h.Payload))
		h.BlocksTimestamps = append(h.BlocksTimestamps, ts)
		h.BlocksLoss = append(h.BlocksLoss, loss)
	} else if loss {
		h.BlocksLoss[len(h.BlocksLoss)-1] = true
	}

	h.Payload = append(h.Payload, data...)
	h.lastActivity = ts
}

// Bytes returns the total number of payload bytes accumulated.
func (h *HalfStream) Bytes() int64 { return int64(len(h.Payload)) }

// Empty reports whether the half-stream has never received data.
func (h *HalfStream) Empty() bool { return len(h.Payload) == 0 }
