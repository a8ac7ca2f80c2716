// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package persister

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

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func openDatabase(t *testing.T, st *store.Store, rule model.Rule) *rules.Database {
	t.Helper()
	reg, err := rules.Open(context.Background(), st)
	require.NoError(t, err)
	_, err = reg.AddRule(context.Background(), rule)
	require.NoError(t, err)
	return reg.CurrentDatabase()
}

func insertConnection(t *testing.T, st *store.Store) model.RowID {
	t.Helper()
	id, err := st.InsertConnection(context.Background(), model.Connection{
		IPSrc: "10.0.0.1", PortSrc: 40000,
		IPDst: "10.0.0.2", PortDst: 80,
		FlowKey: "conn-1",
	})
	require.NoError(t, err)
	return id
}

func TestPersistWritesOneChunkWhenUnderLimit(t *testing.T) {
	st := newTestStore(t)
	connID := insertConnection(t, st)
	p := New(st, 4096)

	half := &assembler.HalfStream{}
	half.Append([]byte("GET / HTTP/1.1\r\n\r\n"), time.Now(), false, time.Second)

	res, err := p.Persist(context.Background(), connID, true, half, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Documents)
	require.EqualValues(t, len("GET / HTTP/1.1\r\n\r\n"), res.Bytes)

	chunks, err := st.ListConnectionStreams(context.Background(), connID, true)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].DocumentIndex)
}

func TestPersistOnEmptyHalfStreamWritesNothing(t *testing.T) {
	st := newTestStore(t)
	connID := insertConnection(t, st)
	p := New(st, 4096)

	res, err := p.Persist(context.Background(), connID, true, &assembler.HalfStream{}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.Documents)
	require.EqualValues(t, 0, res.Bytes)
}

func TestPersistSplitsAtBlockBoundaryNotMidBlock(t *testing.T) {
	st := newTestStore(t)
	connID := insertConnection(t, st)
	p := New(st, 10) // tiny limit forces a split

	half := &assembler.HalfStream{}
	half.Append([]byte("0123456789"), time.Now(), false, time.Second)              // block 0: 10 bytes
	half.Append([]byte("abcdefghij"), time.Now().Add(time.Millisecond), false, time.Second) // block 1: 10 bytes

	res, err := p.Persist(context.Background(), connID, true, half, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Documents)

	chunks, err := st.ListConnectionStreams(context.Background(), connID, true)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, []byte("0123456789"), chunks[0].Payload)
	require.Equal(t, []byte("abcdefghij"), chunks[1].Payload)
	// Each chunk's own block array starts at 0: the boundary always lines
	// up with a block edge, never cutting one in half.
	require.Equal(t, []int{0}, chunks[0].BlocksIndexes)
	require.Equal(t, []int{0}, chunks[1].BlocksIndexes)
}

func TestPersistIsIdempotentOnRetry(t *testing.T) {
	st := newTestStore(t)
	connID := insertConnection(t, st)
	p := New(st, 4096)

	half := &assembler.HalfStream{}
	half.Append([]byte("hello"), time.Now(), false, time.Second)

	res1, err := p.Persist(context.Background(), connID, true, half, nil)
	require.NoError(t, err)
	res2, err := p.Persist(context.Background(), connID, true, half, nil)
	require.NoError(t, err)
	require.Equal(t, res1.Documents, res2.Documents)

	chunks, err := st.ListConnectionStreams(context.Background(), connID, true)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "retrying Persist must not duplicate the chunk row")
}

func TestPersistRecordsMatchesInFlowGlobalOffsets(t *testing.T) {
	st := newTestStore(t)
	connID := insertConnection(t, st)
	db := openDatabase(t, st, model.Rule{
		Name:    "flag",
		Color:   "#00ff00",
		Enabled: true,
		Patterns: []model.Pattern{
			{Regex: `CTF\{[A-Za-z0-9_]+\}`, Direction: model.DirectionServer},
		},
	})
	p := New(st, 10) // forces the flag to land in the second chunk

	half := &assembler.HalfStream{}
	half.Append([]byte("0123456789"), time.Now(), false, time.Second)
	half.Append([]byte("CTF{abc123}!!"), time.Now().Add(time.Millisecond), false, time.Second)

	res, err := p.Persist(context.Background(), connID, false, half, db)
	require.NoError(t, err)
	require.Len(t, res.MatchedRules, 1)

	chunks, err := st.ListConnectionStreams(context.Background(), connID, false)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	require.Empty(t, chunks[0].PatternMatches)
	require.NotEmpty(t, chunks[1].PatternMatches)
	for _, ranges := range chunks[1].PatternMatches {
		require.Equal(t, 10, ranges[0].Start, "match offset must be flow-global, not chunk-relative")
	}
}
