// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"testing"
	"time"

	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRuleCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	rule := model.Rule{Name: "flag", Color: "#ff0000", Enabled: true, Patterns: []model.Pattern{{Regex: `CTF\{.*\}`}}}
	id, err := s.InsertRule(ctx, rule)
	require.NoError(t, err)
	require.False(t, id.IsEmpty())

	_, err = s.InsertRule(ctx, rule)
	require.Error(t, err, "duplicate name should conflict")

	got, err := s.FindRule(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "flag", got.Name)

	rule.Color = "#00ff00"
	require.NoError(t, s.UpdateRule(ctx, id, rule))

	got, err = s.FindRule(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "#00ff00", got.Color)
}

func TestFinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	conn := model.Connection{FlowKey: "1.2.3.4:1111-5.6.7.8:80", IPSrc: "1.2.3.4", PortSrc: 1111, IPDst: "5.6.7.8", PortDst: 80}
	id1, err := s.InsertConnection(ctx, conn)
	require.NoError(t, err)

	id2, err := s.InsertConnection(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, id1, id2, "re-finalizing the same flow key must be a no-op")
}

func TestListConnectionsPagination(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	base := time.Now()
	var ids []model.RowID
	for i := 0; i < 5; i++ {
		id, err := s.InsertConnection(ctx, model.Connection{
			FlowKey:   time.Duration(i).String(),
			StartedAt: base.Add(time.Duration(i) * time.Second),
			ClosedAt:  base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := s.ListConnections(ctx, model.Filter{From: ids[1], Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 3)

	page, err = s.ListConnections(ctx, model.Filter{To: ids[3], Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 3)
}

func TestConnectionStreamUniqueChunk(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	connID, err := s.InsertConnection(ctx, model.Connection{FlowKey: "k"})
	require.NoError(t, err)

	cs := model.ConnectionStream{ConnectionID: connID, FromClient: true, DocumentIndex: 0, Payload: []byte("hello")}
	_, err = s.InsertConnectionStream(ctx, cs)
	require.NoError(t, err)

	_, err = s.InsertConnectionStream(ctx, cs)
	require.Error(t, err, "duplicate document_index must conflict")
}
