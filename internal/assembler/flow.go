// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package assembler

import (
	"context"
	"fmt"
	"time"
)

// FlowResult is everything the Connection Finalizer (spec §4.5) needs
// once a flow has terminated.
type FlowResult struct {
	IPSrc, IPDst string
	PortSrc      uint16
	PortDst      uint16
	ServicePort  uint16
	StartedAt    time.Time
	ClosedAt     time.Time
	Client       *HalfStream
	Server       *HalfStream

	// FlowKey is the finalizer's idempotence key: the 4-tuple plus the
	// flow's start time, stable across a forced re-flush of the same flow.
	FlowKey string
}

// Sink receives a flow once the Assembler considers it finished, whether
// by a clean FIN/ACK close, an RST, an idle timeout, or a forced flush at
// shutdown.
type Sink interface {
	FlowComplete(ctx context.Context, flow FlowResult)
}

// computeFlowKey builds the idempotence key described on FlowResult.
func computeFlowKey(ipSrc string, portSrc uint16, ipDst string, portDst uint16, startedAt time.Time) string {
	return fmt.Sprintf("%s:%d-%s:%d@%d", ipSrc, portSrc, ipDst, portDst, startedAt.UnixNano())
}
