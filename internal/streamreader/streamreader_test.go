// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package streamreader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caronte-ctf/caronte/internal/format"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/store"
)

func newTestReader(t *testing.T) (*Reader, *store.Store, model.RowID) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	connID, err := st.InsertConnection(context.Background(), model.Connection{
		IPSrc: "10.0.0.1", PortSrc: 1234, IPDst: "10.0.0.2", PortDst: 80, FlowKey: "k1",
	})
	require.NoError(t, err)

	return New(st), st, connID
}

func TestGetConnectionPayloadOrdersByTimestampClientFirstOnTie(t *testing.T) {
	r, st, connID := newTestReader(t)
	ctx := context.Background()
	t0 := time.Unix(1000, 0)

	_, err := st.InsertConnectionStream(ctx, model.ConnectionStream{
		ConnectionID: connID, FromClient: true, DocumentIndex: 0,
		Payload: []byte("GET / HTTP/1.1\r\n\r\n"), BlocksIndexes: []int{0},
		BlocksTimestamps: []time.Time{t0}, BlocksLoss: []bool{false},
	})
	require.NoError(t, err)

	_, err = st.InsertConnectionStream(ctx, model.ConnectionStream{
		ConnectionID: connID, FromClient: false, DocumentIndex: 0,
		Payload: []byte("HTTP/1.1 200 OK\r\n\r\nhi"), BlocksIndexes: []int{0},
		BlocksTimestamps: []time.Time{t0}, BlocksLoss: []bool{false},
	})
	require.NoError(t, err)

	payloads, err := r.GetConnectionPayload(ctx, connID, Options{Format: format.Default})
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	require.True(t, payloads[0].FromClient, "client wins the timestamp tie")
	require.False(t, payloads[1].FromClient)
}

func TestGetConnectionPayloadAttachesHTTPMetadata(t *testing.T) {
	r, st, connID := newTestReader(t)
	ctx := context.Background()

	_, err := st.InsertConnectionStream(ctx, model.ConnectionStream{
		ConnectionID: connID, FromClient: true, DocumentIndex: 0,
		Payload:          []byte("GET /flag HTTP/1.1\r\nHost: ctf\r\n\r\n"),
		BlocksIndexes:    []int{0},
		BlocksTimestamps: []time.Time{time.Unix(1, 0)},
		BlocksLoss:       []bool{false},
	})
	require.NoError(t, err)

	payloads, err := r.GetConnectionPayload(ctx, connID, Options{Format: format.Default})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.NotNil(t, payloads[0].Metadata)
	require.Equal(t, "http-request", string(payloads[0].Metadata.Type))
	require.False(t, payloads[0].IsMetadataContinuation)
}

func TestGetConnectionPayloadMetadataContinuation(t *testing.T) {
	r, st, connID := newTestReader(t)
	ctx := context.Background()

	_, err := st.InsertConnectionStream(ctx, model.ConnectionStream{
		ConnectionID: connID, FromClient: true, DocumentIndex: 0,
		Payload:          []byte("GET /flag "),
		BlocksIndexes:    []int{0},
		BlocksTimestamps: []time.Time{time.Unix(1, 0)},
		BlocksLoss:       []bool{false},
	})
	require.NoError(t, err)

	_, err = st.InsertConnectionStream(ctx, model.ConnectionStream{
		ConnectionID: connID, FromClient: true, DocumentIndex: 1,
		Payload:          []byte("HTTP/1.1\r\n\r\n"),
		BlocksIndexes:    []int{0},
		BlocksTimestamps: []time.Time{time.Unix(2, 0)},
		BlocksLoss:       []bool{false},
	})
	require.NoError(t, err)

	payloads, err := r.GetConnectionPayload(ctx, connID, Options{Format: format.Default})
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	require.NotNil(t, payloads[0].Metadata)
	require.True(t, payloads[1].IsMetadataContinuation)
	require.Nil(t, payloads[1].Metadata)
}

func TestGetConnectionPayloadPagination(t *testing.T) {
	r, st, connID := newTestReader(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.InsertConnectionStream(ctx, model.ConnectionStream{
			ConnectionID: connID, FromClient: true, DocumentIndex: i,
			Payload:          []byte("0123456789"), // 10 bytes each
			BlocksIndexes:    []int{0},
			BlocksTimestamps: []time.Time{time.Unix(int64(i), 0)},
			BlocksLoss:       []bool{false},
		})
		require.NoError(t, err)
	}

	// skip the first 10-byte block entirely, take only the next one.
	payloads, err := r.GetConnectionPayload(ctx, connID, Options{Format: format.Default, Skip: 10, Limit: 5})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Equal(t, 10, payloads[0].Index)
}

func TestGetConnectionPayloadRegexMatchesClampedToBlock(t *testing.T) {
	r, st, connID := newTestReader(t)
	ctx := context.Background()

	_, err := st.InsertConnectionStream(ctx, model.ConnectionStream{
		ConnectionID: connID, FromClient: false, DocumentIndex: 0,
		Payload:          []byte("xxxCTF{abc}xxx"),
		BlocksIndexes:    []int{0},
		BlocksTimestamps: []time.Time{time.Unix(1, 0)},
		BlocksLoss:       []bool{false},
		PatternMatches:   map[int][]model.Range{1: {{Start: 3, End: 11}}},
	})
	require.NoError(t, err)

	payloads, err := r.GetConnectionPayload(ctx, connID, Options{Format: format.Default})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Equal(t, []model.Range{{Start: 3, End: 11}}, payloads[0].RegexMatches)
}

func TestGetConnectionPayloadEmptyConnection(t *testing.T) {
	r, _, connID := newTestReader(t)
	payloads, err := r.GetConnectionPayload(context.Background(), connID, Options{})
	require.NoError(t, err)
	require.Empty(t, payloads)
}

func TestGetConnectionPayloadCancelledBeforeSkipReturnsEmpty(t *testing.T) {
	r, st, connID := newTestReader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.InsertConnectionStream(context.Background(), model.ConnectionStream{
		ConnectionID: connID, FromClient: true, DocumentIndex: 0,
		Payload:          []byte("hello"),
		BlocksIndexes:    []int{0},
		BlocksTimestamps: []time.Time{time.Unix(1, 0)},
		BlocksLoss:       []bool{false},
	})
	require.NoError(t, err)

	payloads, err := r.GetConnectionPayload(ctx, connID, Options{})
	require.Error(t, err)
	require.Empty(t, payloads)
}
