package client_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-pairing-server/client"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	first := &client.CurrentSession{Role: client.RoleHost, DisplayCode: "ABCD-EFGH"}

	var (
		calls int
		seen  *client.CurrentSession
		fail  error
	)
	cache := client.NewCache(func(_ context.Context, last *client.CurrentSession) (*client.CurrentSession, error) {
		calls++
		seen = last
		if fail != nil {
			return nil, fail
		}
		return first, nil
	})

	_, valid := cache.Current()
	require.False(t, valid)

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Same(t, first, got)
	require.Nil(t, seen)

	_, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "a valid cache does not refetch")

	cache.Invalidate()
	got, valid = cache.Current()
	require.False(t, valid)
	require.Same(t, first, got, "the stale value stays as a hint")

	fail = errors.New("offline")
	_, err = cache.Get(ctx)
	require.ErrorIs(t, err, fail)
	require.Same(t, first, seen)
	_, valid = cache.Current()
	require.False(t, valid)

	cache.Set(nil)
	got, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 2, calls)
}

func TestCurrentSessionIsPending(t *testing.T) {
	var cs *client.CurrentSession
	require.False(t, cs.IsPending())
	require.False(t, (&client.CurrentSession{Role: client.RoleHost}).IsPending())
}
