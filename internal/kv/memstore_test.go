package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/stretchr/testify/require"
)

func TestMemStoreSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemStore()
	defer s.Close()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, s.Set(ctx, "k", payload{Name: "alice"}, 0))

	var got payload
	ok, err := s.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", got.Name)
}

func TestMemStoreSetTwiceYieldsSameBytes(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", map[string]int{"a": 1}, 0))
	first, _, err := s.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "k", map[string]int{"a": 1}, 0))
	second, _, err := s.Get(ctx, "k")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestMemStoreExpire(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStoreStreamMaxLen(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemStore()
	defer s.Close()

	for i := 0; i < 5; i++ {
		_, err := s.XAdd(ctx, "stream", 3, map[string]string{"i": "x"})
		require.NoError(t, err)
	}
	entries, err := s.XRange(ctx, "stream", 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestMemStoreListOps(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemStore()
	defer s.Close()

	require.NoError(t, s.LPush(ctx, "l", "a", "b", "c"))
	vals, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, vals)

	require.NoError(t, s.LTrim(ctx, "l", 0, 1))
	vals, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, vals)
}

func TestMemStoreIncrDecr(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemStore()
	defer s.Close()

	v, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = s.Decr(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}
