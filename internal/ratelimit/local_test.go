package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBucketBurstThenExceeded(t *testing.T) {
	ctx := context.Background()
	l := NewLocalBucket()
	require.NoError(t, l.ConfigureProvider(ctx, "p", 60, 3))

	for i := 0; i < 3; i++ {
		res, err := l.CheckLimit(ctx, "p")
		require.NoError(t, err)
		require.Equal(t, Allowed, res)
	}

	res, err := l.CheckLimit(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, Exceeded, res)
}

func TestLocalBucketNotConfigured(t *testing.T) {
	l := NewLocalBucket()
	res, err := l.CheckLimit(context.Background(), "ghost")
	require.NoError(t, err)
	require.Equal(t, NotConfigured, res)
}

func TestLocalBucketCheckWouldAllowDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	l := NewLocalBucket()
	require.NoError(t, l.ConfigureProvider(ctx, "p", 60, 1))

	ok, err := l.CheckWouldAllow(ctx, "p")
	require.NoError(t, err)
	require.True(t, ok)

	res, _ := l.CheckLimit(ctx, "p")
	require.Equal(t, Allowed, res)

	ok, err = l.CheckWouldAllow(ctx, "p")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConfigureDefaultsDoesNotOverrideExplicit(t *testing.T) {
	ctx := context.Background()
	l := NewLocalBucket()
	require.NoError(t, l.ConfigureProvider(ctx, "openai", 10, 1))
	l.ConfigureDefaults(ctx)

	res, _ := l.CheckLimit(ctx, "openai")
	require.Equal(t, Allowed, res)
	res, _ = l.CheckLimit(ctx, "openai")
	require.Equal(t, Exceeded, res, "explicit burst=1 should not have been widened by defaults")
}
