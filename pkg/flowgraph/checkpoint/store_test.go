package checkpoint_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) checkpoint.Store

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Save_and_Load", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		data := []byte(`{"key": "value"}`)
		require.NoError(t, store.Save(ctx, "thread-1", data))

		loaded, err := store.Load(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, data, loaded)
	})

	t.Run(name+"/Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(ctx, "thread-missing")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Save_Overwrites", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-1", []byte("first")))
		require.NoError(t, store.Save(ctx, "thread-1", []byte("second")))

		loaded, err := store.Load(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), loaded)

		infos, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 1)
	})

	t.Run(name+"/Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-1", []byte("x")))
		require.NoError(t, store.Delete(ctx, "thread-1"))

		_, err := store.Load(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		// Deleting again is not an error
		assert.NoError(t, store.Delete(ctx, "thread-1"))
	})

	t.Run(name+"/List", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-a", []byte("a")))
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.Save(ctx, "thread-b", []byte("bb")))

		infos, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 2)

		sizes := map[string]int64{}
		for _, info := range infos {
			sizes[info.ThreadID] = info.Size
		}
		assert.Equal(t, map[string]int64{"thread-a": 1, "thread-b": 2}, sizes)
	})

	t.Run(name+"/Threads_Isolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-a", []byte("a")))
		require.NoError(t, store.Save(ctx, "thread-b", []byte("b")))
		require.NoError(t, store.Delete(ctx, "thread-a"))

		loaded, err := store.Load(ctx, "thread-b")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), loaded)
	})

	t.Run(name+"/Concurrent_Threads", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("thread-%d", i)
				for j := 0; j < 5; j++ {
					assert.NoError(t, store.Save(ctx, id, []byte(fmt.Sprintf("%d-%d", i, j))))
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < 20; i++ {
			loaded, err := store.Load(ctx, fmt.Sprintf("thread-%d", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%d-4", i), string(loaded))
		}
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.Save(ctx, "t", []byte("x")), checkpoint.ErrStoreClosed)
		_, err := store.Load(ctx, "t")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
		assert.ErrorIs(t, store.Delete(ctx, "t"), checkpoint.ErrStoreClosed)
		_, err = store.List(ctx)
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		// Double close is safe
		assert.NoError(t, store.Close())
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContractTest(t, "MemoryStore", func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContractTest(t, "SQLiteStore", func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	})
}

func TestRedisStore_Contract(t *testing.T) {
	url := os.Getenv("TASKGUIDE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TASKGUIDE_TEST_REDIS_URL not set")
	}

	storeContractTest(t, "RedisStore", func(t *testing.T) checkpoint.Store {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		client := redis.NewClient(opts)
		require.NoError(t, client.Ping(context.Background()).Err())

		// Unique prefix per subtest keeps runs independent
		prefix := "test:" + uuid.NewString() + ":"
		t.Cleanup(func() {
			cleanup := redis.NewClient(opts)
			defer cleanup.Close()
			keys, _ := cleanup.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				cleanup.Del(context.Background(), keys...)
			}
		})
		return checkpoint.NewRedisStore(client, checkpoint.WithKeyPrefix(prefix))
	})
}

func TestRedisStore_Lease(t *testing.T) {
	url := os.Getenv("TASKGUIDE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TASKGUIDE_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	prefix := "test:" + uuid.NewString() + ":"
	newStore := func() *checkpoint.RedisStore {
		return checkpoint.NewRedisStore(redis.NewClient(opts),
			checkpoint.WithKeyPrefix(prefix), checkpoint.WithLeaseTTL(300*time.Millisecond))
	}
	first, second := newStore(), newStore()
	defer first.Close()
	defer second.Close()
	ctx := context.Background()

	unlock, err := first.Lock(ctx, "t1")
	require.NoError(t, err)

	// Held past several TTLs: renewal keeps the other process out
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	_, err = second.Lock(waitCtx, "t1")
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := second.Lock(ctx, "t2")
	require.NoError(t, err, "threads lease independently")
	other()

	unlock()
	unlock()
	again, err := second.Lock(ctx, "t1")
	require.NoError(t, err)
	again()

	infos, err := first.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos, "leases are not listed as checkpoints")
}
