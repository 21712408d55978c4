package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	ok, _ := Open{}.Exists(ctx, "general")
	require.True(t, ok)
	ok, _ = Open{}.Exists(ctx, "")
	require.False(t, ok)
	ok, _ = Open{}.IsMember(ctx, "anyone", "general")
	require.True(t, ok)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	dir := Static{
		"general": nil,
		"secret":  {"bob": true},
	}

	ok, _ := dir.Exists(ctx, "general")
	require.True(t, ok)
	ok, _ = dir.Exists(ctx, "missing")
	require.False(t, ok)

	ok, _ = dir.IsMember(ctx, "alice", "general")
	require.True(t, ok)
	ok, _ = dir.IsMember(ctx, "bob", "secret")
	require.True(t, ok)
	ok, _ = dir.IsMember(ctx, "alice", "secret")
	require.False(t, ok)
	ok, _ = dir.IsMember(ctx, "alice", "missing")
	require.False(t, ok)
}
