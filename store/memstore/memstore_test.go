package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID        string     `bson:"_id"`
	Email     string     `bson:"email"`
	Attempts  int        `bson:"attempts"`
	LockUntil *time.Time `bson:"lockUntil,omitempty"`
	CreatedAt time.Time  `bson:"createdAt"`
}

func TestInsertAndFindOne(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.InsertOne(ctx, "docs", testDoc{ID: "a", Email: "a@x.com", CreatedAt: now}))

	var got testDoc
	require.NoError(t, s.FindOne(ctx, "docs", store.Where(store.Eq("email", "a@x.com")), &got))
	assert.Equal(t, "a", got.ID)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Nil(t, got.LockUntil)

	err := s.FindOne(ctx, "docs", store.Where(store.Eq("email", "b@x.com")), &got)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New(WithUniqueIndex("docs", "email"))

	require.NoError(t, s.InsertOne(ctx, "docs", testDoc{ID: "a", Email: "a@x.com"}))
	err := s.InsertOne(ctx, "docs", testDoc{ID: "b", Email: "a@x.com"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	err = s.InsertMany(ctx, "docs", []any{
		testDoc{ID: "c", Email: "c@x.com"},
		testDoc{ID: "d", Email: "c@x.com"},
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	n, err := s.Count(ctx, "docs", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a rejected batch must not be partially applied")
}

func TestFindSortSkipLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.InsertOne(ctx, "docs", testDoc{ID: id, Attempts: i, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	var out []testDoc
	q := store.Where(store.Gte("attempts", 1)).SortBy("createdAt", true).WithSkip(1).WithLimit(2)
	require.NoError(t, s.Find(ctx, "docs", q, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "b", out[1].ID)

	n, err := s.Count(ctx, "docs", store.Where(store.Lt("createdAt", base.Add(90*time.Second))))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFindOneAndUpdateIncrementsAndUnsets(t *testing.T) {
	ctx := context.Background()
	s := New()
	lock := time.Now().Add(time.Hour)
	require.NoError(t, s.InsertOne(ctx, "docs", testDoc{ID: "a", Attempts: 4, LockUntil: &lock}))

	var got testDoc
	err := s.FindOneAndUpdate(ctx, "docs", store.Where(store.Eq("_id", "a")), store.Update{
		Inc:   map[string]int64{"attempts": 1},
		Unset: []string{"lockUntil"},
	}, &got)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Attempts)
	assert.Nil(t, got.LockUntil)

	res, err := s.UpdateOne(ctx, "docs", store.Where(store.Eq("_id", "a")), store.Update{Set: map[string]any{"attempts": 5}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(0), res.Modified)
}

func TestEqNilMatchesMissingField(t *testing.T) {
	ctx := context.Background()
	s := New()
	lock := time.Now()
	require.NoError(t, s.InsertMany(ctx, "docs", []any{
		testDoc{ID: "a"},
		testDoc{ID: "b", LockUntil: &lock},
	}))

	n, err := s.Count(ctx, "docs", store.Where(store.Eq("lockUntil", nil)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFindOneAndDeleteSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertOne(ctx, "docs", testDoc{ID: "tok"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got testDoc
			if err := s.FindOneAndDelete(ctx, "docs", store.Where(store.Eq("_id", "tok")), &got); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertMany(ctx, "docs", []any{
		testDoc{ID: "a", Email: "x"},
		testDoc{ID: "b", Email: "x"},
		testDoc{ID: "c", Email: "y"},
	}))

	n, err := s.DeleteMany(ctx, "docs", store.Where(store.Eq("email", "x")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var rest []testDoc
	require.NoError(t, s.Find(ctx, "docs", store.Query{}, &rest))
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].ID)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	assert.ErrorIs(t, s.InsertOne(ctx, "docs", testDoc{ID: "a"}), context.Canceled)
}
