// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package finalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caronte-ctf/caronte/internal/assembler"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/store"
)

func newTestFinalizer(t *testing.T) (*Finalizer, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := rules.Open(context.Background(), st)
	require.NoError(t, err)

	return New(st, reg, 4096), st
}

func sampleFlow(flowKey string) assembler.FlowResult {
	client := &assembler.HalfStream{}
	client.Append([]byte("GET / HTTP/1.1\r\n\r\n"), time.Now(), false, time.Second)
	server := &assembler.HalfStream{}
	server.Append([]byte("HTTP/1.1 200 OK\r\n\r\nhi"), time.Now(), false, time.Second)

	return assembler.FlowResult{
		IPSrc: "10.0.0.1", PortSrc: 40000,
		IPDst: "10.0.0.2", PortDst: 80,
		ServicePort: 80,
		StartedAt:   time.Now(),
		ClosedAt:    time.Now(),
		Client:      client,
		Server:      server,
		FlowKey:     flowKey,
	}
}

func TestFinalizePersistsBothSides(t *testing.T) {
	f, st := newTestFinalizer(t)
	ctx := context.Background()

	id, err := f.Finalize(ctx, sampleFlow("flow-1"))
	require.NoError(t, err)
	require.False(t, id.IsEmpty())

	conn, err := st.FindConnection(ctx, id)
	require.NoError(t, err)
	require.Greater(t, conn.ClientBytes, int64(0))
	require.Greater(t, conn.ServerBytes, int64(0))
	require.Equal(t, 1, conn.ClientDocuments)
	require.Equal(t, 1, conn.ServerDocuments)
}

func TestFinalizeIsIdempotentByFlowKey(t *testing.T) {
	f, _ := newTestFinalizer(t)
	ctx := context.Background()

	flow := sampleFlow("flow-2")
	id1, err := f.Finalize(ctx, flow)
	require.NoError(t, err)

	id2, err := f.Finalize(ctx, flow)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}
