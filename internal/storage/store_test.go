package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/models"
)

type record struct {
	UserID    string  `json:"userId"`
	Title     string  `json:"title"`
	Score     int     `json:"score"`
	Ratio     float64 `json:"ratio"`
	Completed bool    `json:"completed"`
}

func testStores(t *testing.T) map[string]interfaces.DocumentStore {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]interfaces.DocumentStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

// fixed clocks so created_at ordering does not depend on timer resolution
func tickingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func withClock(store interfaces.DocumentStore, now func() time.Time) {
	switch s := store.(type) {
	case *MemoryStore:
		s.now = now
	case *SQLiteStore:
		s.now = now
	}
}

func seed(t *testing.T, store interfaces.DocumentStore) []string {
	t.Helper()
	rows := []record{
		{UserID: "u1", Title: "A", Score: 3, Ratio: 0.5, Completed: false},
		{UserID: "u2", Title: "B", Score: 5, Ratio: 1, Completed: true},
		{UserID: "u1", Title: "C", Score: 4, Ratio: 0.75, Completed: true},
		{UserID: "u1", Title: "D", Score: 1, Ratio: 0.25, Completed: false},
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id, err := store.Save(context.Background(), interfaces.CollectionProgress, r)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	return ids
}

func titles(t *testing.T, docs []interfaces.Document) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var r record
		require.NoError(t, d.Decode(&r))
		out = append(out, r.Title)
	}
	return out
}

func TestDocumentStores(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			withClock(store, tickingClock())
			ids := seed(t, store)
			ctx := context.Background()

			t.Run("filter and newest first", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("userId", "u1"), interfaces.NewestFirst, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"D", "C", "A"}, titles(t, docs))
				assert.False(t, docs[0].CreatedAt.Before(docs[1].CreatedAt))
			})

			t.Run("limit", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("userId", "u1"), interfaces.NewestFirst, 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"D", "C"}, titles(t, docs))
			})

			t.Run("oldest first", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionProgress, nil, interfaces.OrderBy{Field: interfaces.FieldCreatedAt}, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"A", "B", "C", "D"}, titles(t, docs))
			})

			t.Run("by id", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionProgress, interfaces.Where(interfaces.FieldID, ids[1]), interfaces.NewestFirst, 1)
				require.NoError(t, err)
				require.Len(t, docs, 1)
				assert.Equal(t, ids[1], docs[0].ID)
				assert.Equal(t, []string{"B"}, titles(t, docs))
			})

			t.Run("typed values", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("completed", true).And("userId", "u1"), interfaces.NewestFirst, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"C"}, titles(t, docs))

				docs, err = store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("score", 5), interfaces.NewestFirst, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"B"}, titles(t, docs))

				docs, err = store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("ratio", 0.75), interfaces.NewestFirst, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"C"}, titles(t, docs))

				docs, err = store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("level", models.LevelBasic), interfaces.NewestFirst, 0)
				require.NoError(t, err)
				assert.Empty(t, docs)
			})

			t.Run("order by body field", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionProgress, nil, interfaces.OrderBy{Field: "score", Desc: true}, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"B", "C", "A", "D"}, titles(t, docs))
			})

			t.Run("collections are isolated", func(t *testing.T) {
				docs, err := store.Query(ctx, interfaces.CollectionStories, nil, interfaces.NewestFirst, 0)
				require.NoError(t, err)
				assert.Empty(t, docs)
			})

			t.Run("rejects unsafe field names", func(t *testing.T) {
				_, err := store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("userId') OR 1=1 --", "x"), interfaces.NewestFirst, 0)
				var invalid *ErrInvalidField
				assert.ErrorAs(t, err, &invalid)

				_, err = store.Query(ctx, interfaces.CollectionProgress, nil, interfaces.OrderBy{Field: "a.b"}, 0)
				assert.ErrorAs(t, err, &invalid)
			})

			t.Run("rejects non-object records", func(t *testing.T) {
				_, err := store.Save(ctx, interfaces.CollectionProgress, []string{"x"})
				assert.Error(t, err)
			})

			t.Run("raw json records", func(t *testing.T) {
				id, err := store.Save(ctx, interfaces.CollectionUsers, json.RawMessage(`{"userId":"raw","name":"Ana"}`))
				require.NoError(t, err)
				docs, err := store.Query(ctx, interfaces.CollectionUsers, interfaces.Where("userId", "raw"), interfaces.NewestFirst, 1)
				require.NoError(t, err)
				require.Len(t, docs, 1)
				assert.Equal(t, id, docs[0].ID)
				assert.JSONEq(t, `{"userId":"raw","name":"Ana"}`, string(docs[0].Body))
			})
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	id, err := first.Save(ctx, interfaces.CollectionStories, record{UserID: "u1", Title: "Kept"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	docs, err := second.Query(ctx, interfaces.CollectionStories, interfaces.Where(interfaces.FieldID, id), interfaces.NewestFirst, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kept"}, titles(t, docs))
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Save(ctx, interfaces.CollectionStories, record{})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRedisStore runs against a live server when REDIS_ADDR is set
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	defer client.Close()
	require.NoError(t, client.FlushDB(ctx).Err())

	store := NewRedisStoreWithClient(client, time.Minute, 2)

	_, err := store.GetStory(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)

	story := &models.Story{ID: "s1", UserID: "u1", Title: "Cached", Level: models.LevelBasic}
	require.NoError(t, store.PutStory(ctx, story))
	got, err := store.GetStory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Cached", got.Title)

	for _, id := range []string{"s1", "s2", "s3", "s2"} {
		require.NoError(t, store.PushRecent(ctx, "u1", id))
	}
	ids, err := store.RecentStoryIDs(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s3"}, ids)
}
