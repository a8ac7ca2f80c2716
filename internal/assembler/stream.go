// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package assembler

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/reassembly"

	"github.com/caronte-ctf/caronte/internal/config"
)

// packetContext implements reassembly.AssemblerContext, carrying the
// CaptureInfo of the packet currently being fed to the assembler so
// ReassembledSG callbacks can recover its timestamp.
type packetContext struct {
	ci gopacket.CaptureInfo
}

func (c *packetContext) GetCaptureInfo() gopacket.CaptureInfo { return c.ci }

// flowStream implements reassembly.Stream for one bidirectional TCP
// flow. It owns both HalfStreams and reports the finished flow to sink
// once the reassembly library decides the connection is complete.
type flowStream struct {
	mu sync.Mutex

	netFlow gopacket.Flow
	tcpFlow gopacket.Flow

	forwardDir  reassembly.TCPFlowDirection
	haveForward bool

	client, server *HalfStream
	servicePort    uint16
	startedAt      time.Time

	cfg  config.Config
	sink Sink
	ctx  context.Context
}

func newFlowStream(ctx context.Context, netFlow, tcpFlow gopacket.Flow, cfg config.Config, sink Sink) *flowStream {
	return &flowStream{
		netFlow: netFlow,
		tcpFlow: tcpFlow,
		client:  &HalfStream{},
		server:  &HalfStream{},
		cfg:     cfg,
		sink:    sink,
		ctx:     ctx,
	}
}

// Accept is called once per packet belonging to this flow. It always
// accepts: spec §4.3 reassembles every observed byte, including flows
// whose SYN was never captured, rather than enforcing strict TCP state.
func (f *flowStream) Accept(tcp *layers.TCP, ci gopacket.CaptureInfo, dir reassembly.TCPFlowDirection, _ reassembly.Sequence, start *bool, ac reassembly.AssemblerContext) bool {
	*start = true

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.haveForward {
		f.haveForward = true
		f.forwardDir = dir
		f.startedAt = ci.Timestamp
		f.servicePort = uint16(tcp.DstPort)
	}

	return true
}

// ReassembledSG delivers one contiguous run of reassembled bytes for one
// direction. Loss is reported whenever reassembly observed a gap that it
// could not recover (sg.Info()'s skip is positive).
func (f *flowStream) ReassembledSG(sg reassembly.ScatterGather, ac reassembly.AssemblerContext) {
	dir, _, _, skip := sg.Info()
	length, _ := sg.Lengths()
	if length == 0 {
		return
	}
	data := sg.Fetch(length)

	ts := time.Now()
	if ac != nil {
		ts = ac.GetCaptureInfo().Timestamp
	}
	loss := skip > 0

	f.mu.Lock()
	defer f.mu.Unlock()

	half := f.server
	if dir == f.forwardDir {
		half = f.client
	}
	half.Append(data, ts, loss, f.cfg.BlockGap())
}

// ReassemblyComplete is invoked by the library when both directions have
// finished (FIN/ACK exchange, RST, or a flush/close timeout expires). It
// always removes the flow from the pool.
func (f *flowStream) ReassemblyComplete(ac reassembly.AssemblerContext) bool {
	f.mu.Lock()
	result := f.resultLocked(time.Now())
	f.mu.Unlock()

	if !result.Client.Empty() || !result.Server.Empty() {
		f.sink.FlowComplete(f.ctx, result)
	}
	return true
}

// resultLocked builds the FlowResult from the accumulated half-streams.
// Callers hold f.mu.
func (f *flowStream) resultLocked(closedAt time.Time) FlowResult {
	srcEnd, dstEnd := f.netFlow.Endpoints()
	srcPortEnd, dstPortEnd := f.tcpFlow.Endpoints()

	ipSrc := net.IP(srcEnd.Raw()).String()
	ipDst := net.IP(dstEnd.Raw()).String()
	portSrc := portFromEndpoint(srcPortEnd)
	portDst := portFromEndpoint(dstPortEnd)

	return FlowResult{
		IPSrc:       ipSrc,
		IPDst:       ipDst,
		PortSrc:     portSrc,
		PortDst:     portDst,
		ServicePort: f.servicePort,
		StartedAt:   f.startedAt,
		ClosedAt:    closedAt,
		Client:      f.client,
		Server:      f.server,
		FlowKey:     computeFlowKey(ipSrc, portSrc, ipDst, portDst, f.startedAt),
	}
}

func portFromEndpoint(e gopacket.Endpoint) uint16 {
	raw := e.Raw()
	if len(raw) != 2 {
		return 0
	}
	return uint16(raw[0])<<8 | uint16(raw[1])
}

// streamFactory implements reassembly.StreamFactory, handing out one
// flowStream per TCP connection.
type streamFactory struct {
	ctx  context.Context
	cfg  config.Config
	sink Sink
}

func (sf *streamFactory) New(netFlow, tcpFlow gopacket.Flow, _ *layers.TCP, _ reassembly.AssemblerContext) reassembly.Stream {
	return newFlowStream(sf.ctx, netFlow, tcpFlow, sf.cfg, sf.sink)
}
