package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/portfolio-site/projectstats/models"
)

func TestConnector_NotConfigured(t *testing.T) {
	called := false
	conn := NewConnector("", func(string) (*gorm.DB, error) {
		called = true
		return nil, nil
	})

	_, err := conn.DB(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, called)

	_, err = NewGormStatsStore(conn).Get(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestConnector_LazyOpenAndReuse(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, int32(0), env.opens.Load())

	ctx := context.Background()
	_, err := env.store.Get(ctx, "p")
	require.NoError(t, err)
	_, err = env.store.Increment(ctx, "p", models.CounterLikes)
	require.NoError(t, err)

	assert.Equal(t, int32(1), env.opens.Load())
}

func TestConnector_ReconnectsAfterFailedPing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	db, err := env.conn.DB(ctx)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = env.store.Increment(ctx, "p", models.CounterViews)
	require.NoError(t, err)
	assert.Equal(t, int32(2), env.opens.Load())
}

func TestConnector_OpenErrorIsReturned(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	conn := NewConnector("postgres://nowhere", func(string) (*gorm.DB, error) { return nil, boom })

	_, err := NewGormStatsStore(conn).Total(context.Background(), models.CounterLikes)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}

func TestStore_QueryFailureDiscardsConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	db, err := env.conn.DB(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&models.ProjectStats{}))

	_, err = env.store.Total(ctx, models.CounterLikes)
	require.Error(t, err)

	// The next call opens a fresh handle, which recreates the table.
	total, err := env.store.Total(ctx, models.CounterLikes)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, int32(2), env.opens.Load())
}

func TestConnector_DiscardIgnoresStaleHandle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale, err := env.conn.DB(ctx)
	require.NoError(t, err)
	env.conn.Discard(stale)

	fresh, err := env.conn.DB(ctx)
	require.NoError(t, err)
	// A late Discard for the old handle must not close the new one.
	env.conn.Discard(stale)

	_, err = env.store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int32(2), env.opens.Load())
	_ = fresh
}

func TestStore_CancelledRequestKeepsConnection(t *testing.T) {
	env := newTestEnv(t)

	held, err := env.conn.DB(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.store.Get(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = env.store.Increment(ctx, "p", models.CounterLikes)
	assert.ErrorIs(t, err, context.Canceled)

	// A handle taken by another request is still usable.
	var n int64
	require.NoError(t, held.Model(&models.ProjectStats{}).Count(&n).Error)
	assert.Equal(t, int32(1), env.opens.Load())
}

func TestStore_CallerErrorDoesNotDiscard(t *testing.T) {
	env := newTestEnv(t)

	db, err := env.conn.DB(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err = env.store.fail(ctx, db, "get stats", ctx.Err())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = env.store.fail(context.Background(), db, "get stats", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = env.store.Get(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.opens.Load())
}

func TestConnector_ConcurrentFirstUseOpensOnce(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.store.Get(context.Background(), "p")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), env.opens.Load())
}

func TestConnector_SlowDialIsShared(t *testing.T) {
	release := make(chan struct{})
	var opens atomic.Int32
	inner := newTestEnv(t)
	conn := NewConnector("sqlite://shared", func(string) (*gorm.DB, error) {
		opens.Add(1)
		<-release
		return inner.conn.DB(context.Background())
	})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.DB(context.Background())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return opens.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), opens.Load())
}
