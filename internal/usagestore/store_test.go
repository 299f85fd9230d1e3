package usagestore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wrenchly/internal"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

var now = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

// runStoreSuite exercises the behavior every Store implementation must share.
func runStoreSuite(t *testing.T, store usagestore.Store) {
	ctx := context.Background()

	t.Run("get unknown tenant", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.True(t, usagestore.IsTenantNotFound(err))
	})

	t.Run("increment unknown tenant", func(t *testing.T) {
		_, err := store.Increment(ctx, uuid.New(), domain.ResourceWorkOrders, 1)
		assert.True(t, usagestore.IsTenantNotFound(err))
	})

	t.Run("provision is idempotent", func(t *testing.T) {
		id := uuid.New()
		first, err := store.Provision(ctx, id, domain.PlanStarter, now)
		require.NoError(t, err)
		assert.Equal(t, domain.Counters{}, first.Counters)
		assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), first.PeriodStart)
		assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), first.PeriodEnd)

		_, err = store.Increment(ctx, id, domain.ResourceUsers, 2)
		require.NoError(t, err)

		again, err := store.Provision(ctx, id, domain.PlanEnterprise, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, domain.PlanStarter, again.PlanID)
		assert.Equal(t, int64(2), again.Counters.Users)
	})

	t.Run("increment adds exactly n", func(t *testing.T) {
		id := provision(t, store)
		u, err := store.Increment(ctx, id, domain.ResourceStorageMB, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), u.Counters.StorageMB)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Counters.StorageMB)
		assert.Zero(t, got.Counters.APICalls)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		id := provision(t, store)
		_, err := store.Increment(ctx, id, domain.ResourceAPICalls, 0)
		assert.True(t, usagestore.IsInvalidInput(err))
		_, err = store.Increment(ctx, id, domain.ResourceAPICalls, -3)
		assert.True(t, usagestore.IsInvalidInput(err))
	})

	t.Run("concurrent increments do not lose updates", func(t *testing.T) {
		id := provision(t, store)
		var wg sync.WaitGroup
		for i := 1; i <= 50; i++ {
			wg.Add(1)
			go func(n int64) {
				defer wg.Done()
				_, err := store.Increment(ctx, id, domain.ResourceAPICalls, n)
				assert.NoError(t, err)
			}(int64(i))
		}
		wg.Wait()

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(50*51/2), got.Counters.APICalls)
	})

	t.Run("try consume respects ceiling under concurrency", func(t *testing.T) {
		id := provision(t, store)
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := store.TryConsume(ctx, id, domain.ResourceWorkOrders, 1, domain.Bounded(25))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 25, admitted)
		assert.Equal(t, int64(25), got.Counters.WorkOrders)
	})

	t.Run("try consume boundary", func(t *testing.T) {
		id := provision(t, store)
		_, err := store.Increment(ctx, id, domain.ResourceWorkOrders, 99)
		require.NoError(t, err)

		u, ok, err := store.TryConsume(ctx, id, domain.ResourceWorkOrders, 1, domain.Bounded(100))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(100), u.Counters.WorkOrders)

		u, ok, err = store.TryConsume(ctx, id, domain.ResourceWorkOrders, 1, domain.Bounded(100))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(100), u.Counters.WorkOrders)

		u, ok, err = store.TryConsume(ctx, id, domain.ResourceWorkOrders, 1000, domain.Unlimited())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1100), u.Counters.WorkOrders)
	})

	t.Run("try consume unknown tenant", func(t *testing.T) {
		_, ok, err := store.TryConsume(ctx, uuid.New(), domain.ResourceUsers, 1, domain.Bounded(5))
		assert.False(t, ok)
		assert.True(t, usagestore.IsTenantNotFound(err))
	})

	t.Run("reset twice yields same state", func(t *testing.T) {
		id := provision(t, store)
		_, err := store.Increment(ctx, id, domain.ResourceWorkOrders, 9)
		require.NoError(t, err)

		first, err := store.Reset(ctx, id, now)
		require.NoError(t, err)
		second, err := store.Reset(ctx, id, now)
		require.NoError(t, err)

		assert.Equal(t, domain.Counters{}, first.Counters)
		assert.Equal(t, first.Counters, second.Counters)
		assert.True(t, first.PeriodStart.Equal(second.PeriodStart))
		assert.True(t, first.PeriodEnd.Equal(second.PeriodEnd))
	})

	t.Run("rollover only when due", func(t *testing.T) {
		id := provision(t, store)
		_, err := store.Increment(ctx, id, domain.ResourceAPICalls, 3)
		require.NoError(t, err)

		u, rolled, err := store.RolloverIfDue(ctx, id, now.Add(24*time.Hour))
		require.NoError(t, err)
		assert.False(t, rolled)
		assert.Equal(t, int64(3), u.Counters.APICalls)

		next := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
		due, err := store.ListDue(ctx, next)
		require.NoError(t, err)
		assert.Contains(t, due, id)

		u, rolled, err = store.RolloverIfDue(ctx, id, next)
		require.NoError(t, err)
		assert.True(t, rolled)
		assert.Zero(t, u.Counters.APICalls)
		assert.True(t, u.PeriodStart.Equal(next))

		u, rolled, err = store.RolloverIfDue(ctx, id, next.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, rolled)
		assert.True(t, u.PeriodStart.Equal(next))
	})

	t.Run("set plan keeps counters", func(t *testing.T) {
		id := provision(t, store)
		_, err := store.Increment(ctx, id, domain.ResourceUsers, 2)
		require.NoError(t, err)

		u, err := store.SetPlan(ctx, id, domain.PlanProfessional)
		require.NoError(t, err)
		assert.Equal(t, domain.PlanProfessional, u.PlanID)
		assert.Equal(t, int64(2), u.Counters.Users)
	})

	t.Run("list tenants", func(t *testing.T) {
		id := provision(t, store)
		ids, err := store.ListTenants(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id)
	})
}

func provision(t *testing.T, store usagestore.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Provision(context.Background(), id, domain.PlanStarter, now)
	require.NoError(t, err)
	return id
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, usagestore.NewMemoryStore())
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := usagestore.NewMemoryStore()
	id := provision(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("WRENCHLY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("set WRENCHLY_TEST_DATABASE_URL to run Postgres integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := stdlib.OpenDBFromPool(pool)
	t.Cleanup(func() { db.Close() })
	_, err = internal.RunMigrations(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	runStoreSuite(t, usagestore.NewPostgresStore(pool))
}

func TestRedisStore_Miniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := usagestore.NewRedisStore(client, "wrenchly-test")
	runStoreSuite(t, store)

	t.Run("hash layout", func(t *testing.T) {
		id := provision(t, store)
		_, err := store.Increment(context.Background(), id, domain.ResourceWorkOrders, 4)
		require.NoError(t, err)

		key := "wrenchly-test:usage:" + id.String()
		assert.Equal(t, "4", mr.HGet(key, "workOrders"))
		assert.Equal(t, string(domain.PlanStarter), mr.HGet(key, "plan"))

		members, err := mr.Members("wrenchly-test:usage:tenants")
		require.NoError(t, err)
		assert.Contains(t, members, id.String())
	})

	t.Run("server down fails", func(t *testing.T) {
		id := provision(t, store)
		mr.Close()

		_, _, err := store.TryConsume(context.Background(), id, domain.ResourceWorkOrders, 1, domain.Bounded(10))
		require.Error(t, err)
		assert.False(t, usagestore.IsTenantNotFound(err))
	})
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("WRENCHLY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("set WRENCHLY_TEST_REDIS_URL to run against a real Redis server")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	runStoreSuite(t, usagestore.NewRedisStore(client, "wrenchly-test-"+uuid.NewString()[:8]))
}
