package kvstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reclamflow/feed/pkg/db"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "seenNotificationIds")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "seenNotificationIds", `["new_reclamation_42"]`))
	value, found, err := store.Get(ctx, "seenNotificationIds")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `["new_reclamation_42"]`, value)

	require.NoError(t, store.Set(ctx, "seenNotificationIds", `["new_reclamation_42","pending_report_9"]`))
	value, _, err = store.Get(ctx, "seenNotificationIds")
	require.NoError(t, err)
	require.Equal(t, `["new_reclamation_42","pending_report_9"]`, value)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLStore(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.FromGorm(conn).Migrate(context.Background(), &Entry{}))

	store, err := NewSQL(conn)
	require.NoError(t, err)
	exerciseStore(t, store)

	var rows int64
	require.NoError(t, conn.Model(&Entry{}).Count(&rows).Error)
	require.EqualValues(t, 1, rows, "upsert must not duplicate keys")
}

func TestRedisStore(t *testing.T) {
	store, err := NewRedis(newFakeRedis())
	require.NoError(t, err)
	exerciseStore(t, store)

	_, err = NewRedis(nil)
	require.Error(t, err)
}

func TestRedisStorePropagatesErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	store, err := NewRedis(fake)
	require.NoError(t, err)

	_, _, err = store.Get(context.Background(), "readNotifications")
	require.ErrorContains(t, err, "connection refused")
	require.Error(t, store.Set(context.Background(), "readNotifications", "[]"))
}

func TestPrefixedStoreIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	shared := NewMemory()
	alice := WithPrefix(shared, UserNamespace("alice"))
	bob := WithPrefix(shared, UserNamespace("bob"))

	require.NoError(t, alice.Set(ctx, "readNotifications", `["a"]`))
	_, found, err := bob.Get(ctx, "readNotifications")
	require.NoError(t, err)
	require.False(t, found)

	value, found, err := shared.Get(ctx, "rf:feed:alice:readNotifications")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `["a"]`, value)
	require.Len(t, shared.Keys(), 1)
}

type fakeRedis struct {
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	value, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	if ttl != 0 {
		return fmt.Errorf("feed keys must not expire, got ttl %s", ttl)
	}
	f.data[key] = fmt.Sprint(value)
	return nil
}
