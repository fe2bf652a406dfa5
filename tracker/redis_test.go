package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/responder/finding"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "")

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := setupRedisStore(t)
	tr, _ := newTestTracker(store)
	ctx := context.Background()

	f := finding.Finding{ID: "f1", Source: finding.SourceDetectionEngine, Severity: 8, ResourceRef: "r-123", Title: "C&C"}
	require.NoError(t, tr.Open(ctx, f))

	rec, err := tr.Get(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 8.0, rec.Severity)
	assert.Equal(t, "r-123", rec.ResourceRef)
	assert.False(t, rec.CreatedAt.IsZero())

	require.NoError(t, tr.Resolve(ctx, "f1", StatusRemediated, "isolated"))
	require.NoError(t, tr.Resolve(ctx, "f1", StatusRemediated, "isolated"))

	rec, err = tr.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, StatusRemediated, rec.Status)
	assert.True(t, rec.LastUpdated.After(rec.CreatedAt))

	assert.Equal(t, "remediated", mr.HGet("advisory:f1", "status"))
	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ids)
}

func TestRedisStoreOpenDoesNotResetStatus(t *testing.T) {
	store, _ := setupRedisStore(t)
	tr, _ := newTestTracker(store)
	ctx := context.Background()

	require.NoError(t, tr.Resolve(ctx, "f1", StatusNotified, ""))
	require.NoError(t, tr.Open(ctx, finding.Finding{ID: "f1", Source: finding.SourceAdvisoryFeed, Severity: 9}))

	rec, err := tr.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, rec.Status)
	assert.Equal(t, "advisory-feed", rec.Source)
}

func TestRedisStoreGetAbsent(t *testing.T) {
	store, _ := setupRedisStore(t)
	rec, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	err := store.Upsert(context.Background(), "f1", Fields{UpdatedAt: time.Now()})
	assert.Error(t, err)
}

func TestRedisStoreIndexKey(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "f1", Fields{UpdatedAt: time.Now()}))

	assert.Equal(t, DefaultRedisIndex, store.IndexKey())
	members, err := mr.SMembers("advisories")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, members)
	assert.False(t, mr.Exists("advisorys"))

	custom := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tenant-a:advisory")
	defer custom.Close()
	assert.Equal(t, "tenant-a:advisory:index", custom.IndexKey())
}

func TestRedisStoreKeepsPreviousGroups(t *testing.T) {
	store, mr := setupRedisStore(t)
	tr, _ := newTestTracker(store)
	ctx := context.Background()

	require.NoError(t, tr.Isolated(ctx, "f1", "isolated i-0abc", []string{"sg-1", "sg-2"}))
	assert.Equal(t, "sg-1,sg-2", mr.HGet("advisory:f1", "previous_groups"))

	require.NoError(t, tr.Resolve(ctx, "f1", StatusReleased, "released"))

	rec, err := tr.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, rec.Status)
	assert.Equal(t, []string{"sg-1", "sg-2"}, rec.PreviousGroups, "a later resolve keeps the groups")
}

func TestRedisStoreList(t *testing.T) {
	store, _ := setupRedisStore(t)
	tr, _ := newTestTracker(store)
	ctx := context.Background()

	require.NoError(t, tr.Resolve(ctx, "f2", StatusNotified, ""))
	require.NoError(t, tr.Resolve(ctx, "f1", StatusRemediated, ""))
	require.NoError(t, tr.Open(ctx, finding.Finding{ID: "f3", Source: finding.SourceAdvisoryFeed, Severity: 4}))

	all, err := tr.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "f1", all[0].FindingID)

	remediated, err := tr.List(ctx, StatusRemediated)
	require.NoError(t, err)
	require.Len(t, remediated, 1)
	assert.Equal(t, "f1", remediated[0].FindingID)
}
