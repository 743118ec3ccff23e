package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-weconnect/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Token    map[string]any `json:"token"`
	Metadata map[string]any `json:"metadata"`
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	var got entry
	found, err := s.Get(ctx, "missing", &got)
	require.NoError(t, err)
	require.False(t, found)

	want := entry{
		Token:    map[string]any{"access_token": "a", "expires_in": float64(3600)},
		Metadata: map[string]any{"userId": "u-1"},
	}
	require.NoError(t, s.Set(ctx, "ns:abc", want))

	found, err = s.Get(ctx, "ns:abc", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, got)

	require.ErrorIs(t, s.Set(ctx, "", want), store.ErrInvalidKey)

	require.NoError(t, s.Delete(ctx, "ns:abc"))
	require.NoError(t, s.Delete(ctx, "ns:abc"))
	found, err = s.Get(ctx, "ns:abc", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, store.NewMemory())
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenstore.json")

	s, err := store.NewFile(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	t.Run("entries survive reopening", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", map[string]string{"v": "1"}))

		reopened, err := store.NewFile(path)
		require.NoError(t, err)
		var got map[string]string
		found, err := reopened.Get(ctx, "k", &got)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "1", got["v"])
	})
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := store.NewRedis(client, store.WithKeyPrefix("weconnect:tokens:"), store.WithTTL(time.Hour))
	exerciseStore(t, s)

	t.Run("prefix and ttl are applied", func(t *testing.T) {
		require.NoError(t, s.Set(context.Background(), "k", "v"))
		require.True(t, mr.Exists("weconnect:tokens:k"))
		require.Equal(t, time.Hour, mr.TTL("weconnect:tokens:k"))
	})

	t.Run("namespace shares the client", func(t *testing.T) {
		cache := store.NewRedis(client, store.WithKeyPrefix("weconnect:")).Namespace("cache:")
		require.NoError(t, cache.Set(context.Background(), "k", "c"))
		require.True(t, mr.Exists("weconnect:cache:k"))

		var got string
		found, err := s.Get(context.Background(), "k", &got)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "v", got)
	})

	t.Run("dial", func(t *testing.T) {
		dialed, err := store.DialRedis(context.Background(), "redis://"+mr.Addr())
		require.NoError(t, err)
		defer dialed.Close()
		var got string
		found, err := dialed.Get(context.Background(), "weconnect:tokens:k", &got)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "v", got)
	})
}
