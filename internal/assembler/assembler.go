// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package assembler

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/reassembly"

	"github.com/caronte-ctf/caronte/internal/config"
)

// Assembler fans packets out to a fixed set of shards, each owning an
// independent gopacket/reassembly.Assembler and lock. Sharding by the
// packet's 4-tuple keeps flows that never interact from contending on
// the same reassembly-internal lock, the way a busy capture session
// spreads thousands of concurrent CTF connections across cores.
type Assembler struct {
	shards []*shard
	cfg    config.Config
	sink   Sink
}

type shard struct {
	assembler *reassembly.Assembler
	mu        sync.Mutex
}

// New builds an Assembler with n shards. sink receives every flow this
// Assembler finishes, from any shard.
func New(n int, cfg config.Config, sink Sink) *Assembler {
	if n < 1 {
		n = 1
	}
	a := &Assembler{cfg: cfg, sink: sink}
	for i := 0; i < n; i++ {
		factory := &streamFactory{ctx: context.Background(), cfg: cfg, sink: sink}
		pool := reassembly.NewStreamPool(factory)
		a.shards = append(a.shards, &shard{assembler: reassembly.NewAssembler(pool)})
	}
	return a
}

// ProcessPacket feeds one captured packet through reassembly. Non-TCP
// packets are ignored; spec §4.3 only reassembles TCP flows.
func (a *Assembler) ProcessPacket(packet gopacket.Packet) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	netLayer := packet.NetworkLayer()
	if tcpLayer == nil || netLayer == nil {
		return
	}
	tcp := tcpLayer.(*layers.TCP)
	netFlow := netLayer.NetworkFlow()

	sh := a.shardFor(netFlow, tcp)
	ac := &packetContext{ci: packet.Metadata().CaptureInfo}

	sh.mu.Lock()
	sh.assembler.AssembleWithContext(netFlow, tcp, ac)
	sh.mu.Unlock()
}

// shardFor selects a shard deterministically from the flow's 4-tuple,
// normalized so that both directions of the same connection hash to the
// same shard (gopacket/reassembly needs to see both directions to
// reassemble, and each shard owns an independent stream pool).
func (a *Assembler) shardFor(netFlow gopacket.Flow, tcp *layers.TCP) *shard {
	src, dst := netFlow.Endpoints()
	forward := append(append([]byte{}, src.Raw()...), byte(tcp.SrcPort>>8), byte(tcp.SrcPort))
	forward = append(forward, dst.Raw()...)
	forward = append(forward, byte(tcp.DstPort>>8), byte(tcp.DstPort))

	reverse := append(append([]byte{}, dst.Raw()...), byte(tcp.DstPort>>8), byte(tcp.DstPort))
	reverse = append(reverse, src.Raw()...)
	reverse = append(reverse, byte(tcp.SrcPort>>8), byte(tcp.SrcPort))

	key := forward
	if bytesLess(reverse, forward) {
		key = reverse
	}

	h := fnv.New32a()
	h.Write(key)
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// FlushIdle closes every flow that has been inactive for longer than the
// configured idle timeout (spec §4.3 flow termination). Call it
// periodically from the ingestion loop.
func (a *Assembler) FlushIdle(now time.Time) {
	idle := now.Add(-a.cfg.IdleFlowTimeout())
	for _, sh := range a.shards {
		sh.mu.Lock()
		sh.assembler.FlushWithOptions(reassembly.FlushOptions{T: idle, TC: idle})
		sh.mu.Unlock()
	}
}

// FlushAll force-closes every in-flight flow regardless of activity,
// used on PCAP session completion and graceful shutdown (spec §4.3/§4.4
// "forced flush").
func (a *Assembler) FlushAll() {
	farFuture := time.Now().Add(24 * time.Hour)
	for _, sh := range a.shards {
		sh.mu.Lock()
		sh.assembler.FlushWithOptions(reassembly.FlushOptions{T: farFuture, TC: farFuture})
		sh.mu.Unlock()
	}
}
