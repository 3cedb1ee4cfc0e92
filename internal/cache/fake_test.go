package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeStore_SetGetRoundtrip(t *testing.T) {
	s := NewFakeStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "s1", []byte(`{"sessionId":"s1"}`)))

	v, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"sessionId":"s1"}`, string(v))
}

func TestFakeStore_MissingKeyIsAbsentNotError(t *testing.T) {
	s := NewFakeStore()
	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFakeStore_ExpireSimulatesTTL(t *testing.T) {
	s := NewFakeStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "s1", []byte("data")))
	s.Expire("s1")

	_, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFakeStore_SessionKeyNamespacesAreIndependent(t *testing.T) {
	s := NewFakeStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "s1", []byte("one")))
	require.NoError(t, s.Set(ctx, "s2", []byte("two")))

	v1, _, _ := s.Get(ctx, "s1")
	v2, _, _ := s.Get(ctx, "s2")
	require.Equal(t, "one", string(v1))
	require.Equal(t, "two", string(v2))
}
