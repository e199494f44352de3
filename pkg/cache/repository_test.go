package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/docstore/memstore"
)

type testCar struct {
	Doc
	Maker string `json:"maker"`
	Seats int    `json:"seats"`
}

func (*testCar) CacheType() string { return "car" }

type testBike struct {
	Doc
	Gears int `json:"gears"`
}

func (*testBike) CacheType() string     { return "bike" }
func (*testBike) DefaultSubKey() string { return "std" }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRepository(t *testing.T, store docstore.Store, mutate ...func(*Options)) (*Repository, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts := DefaultOptions()
	opts.Clock = clock.Now
	for _, m := range mutate {
		m(&opts)
	}
	repo, err := New(store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, clock
}

func TestNew(t *testing.T) {
	t.Run("nil store", func(t *testing.T) {
		_, err := New(nil, DefaultOptions())
		assert.Error(t, err)
	})

	t.Run("invalid namespace", func(t *testing.T) {
		_, err := New(memstore.New(), Options{Namespace: "Bad:NS"})
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("zero options take defaults", func(t *testing.T) {
		repo, err := New(memstore.New(), Options{})
		require.NoError(t, err)
		assert.Equal(t, DefaultNamespace, repo.Codec().Namespace())
		assert.Equal(t, BaseType, repo.opts.BaseType)
		assert.Equal(t, 8, repo.opts.ClearConcurrency)
		assert.Equal(t, 5*time.Second, repo.opts.BackgroundTimeout)
	})
}

func TestRepository_SetGet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, Doc{}, "k1", 0))

	got, ok, err := Get[Doc](ctx, repo, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k1", got.Key, "key should be recorded in the payload")

	_, err = store.Fetch(ctx, "doccache:doc:k1")
	assert.NoError(t, err)

	_, ok, err = Get[Doc](ctx, repo, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_SetReplaces(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, memstore.New())

	require.NoError(t, Set(ctx, repo, testCar{Maker: "Fiat"}, "k2", 0))
	require.NoError(t, Set(ctx, repo, testCar{Maker: "Audi"}, "k2", 0))

	got, ok, err := Get[testCar](ctx, repo, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Audi", got.Maker)
}

func TestRepository_Specific(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	require.NoError(t, SetSpecific(ctx, repo, testCar{Maker: "Volvo"}, "k3", "sub1", 0))
	require.NoError(t, SetSpecific(ctx, repo, testCar{Maker: "Saab"}, "k3", "", 0))
	require.NoError(t, SetSpecific(ctx, repo, testBike{Gears: 21}, "k3", "", 0))
	require.NoError(t, Set(ctx, repo, testCar{Maker: "Plain"}, "k3", 0))

	got, ok, err := GetSpecific[testCar](ctx, repo, "k3", "sub1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Volvo", got.Maker)
	assert.Equal(t, "sub1", got.SubKey)

	got, ok, err = GetSpecific[testCar](ctx, repo, "k3", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Saab", got.Maker)
	assert.Equal(t, "car", got.SubKey, "default sub-key is the type tag")

	bike, ok, err := GetSpecific[testBike](ctx, repo, "k3", "std")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21, bike.Gears)

	plain, ok, err := Get[testCar](ctx, repo, "k3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Plain", plain.Maker)

	assert.Equal(t, 4, store.Len())
}

func TestRepository_Expiration(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, clock := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, testCar{Maker: "Kia"}, "short", 5*time.Second))

	_, ok, err := Get[testCar](ctx, repo, "short")
	require.NoError(t, err)
	assert.True(t, ok, "entry should be live before its ttl")

	clock.Advance(5 * time.Second)

	_, ok, err = Get[testCar](ctx, repo, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as absent")

	require.NoError(t, repo.Close())
	assert.Equal(t, 0, store.Len(), "expired entry should be deleted in the background")
}

func TestRepository_LazyDeleteKeepsNewerRevision(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, testCar{Maker: "Old"}, "k", time.Second))
	stale, err := store.Fetch(ctx, "doccache:car:k")
	require.NoError(t, err)

	require.NoError(t, Set(ctx, repo, testCar{Maker: "New"}, "k", time.Hour))

	repo.expireAsync(ctx, stale.ID, stale.Rev)
	require.NoError(t, repo.Close())

	got, ok, err := Get[testCar](ctx, repo, "k")
	require.NoError(t, err)
	require.True(t, ok, "rewritten entry must survive the stale delete")
	assert.Equal(t, "New", got.Maker)
}

func TestRepository_LazyDeleteOutlivesCaller(t *testing.T) {
	store := memstore.New()
	repo, clock := newTestRepository(t, store)

	require.NoError(t, Set(context.Background(), repo, testCar{}, "k", time.Second))
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	_, ok, err := Get[testCar](ctx, repo, "k")
	cancel()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Close())
	assert.Equal(t, 0, store.Len())
}

func TestRepository_LazyDeleteFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, clock := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, testCar{Maker: "Lada"}, "k", time.Second))
	clock.Advance(time.Minute)

	store.SetFault(func(op, id string) error {
		if op == memstore.OpDelete {
			return errors.New("disk full")
		}
		return nil
	})

	_, ok, err := Get[testCar](ctx, repo, "k")
	require.NoError(t, err, "a failed background delete must not reach the reader")
	assert.False(t, ok, "expired entry reads as absent even when its delete fails")

	done := make(chan error, 1)
	go func() { done <- repo.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return after a failed background delete")
	}

	assert.Equal(t, 1, store.Len(), "entry stays in the store until a later delete succeeds")

	store.SetFault(nil)
	_, ok, err = Get[testCar](ctx, repo, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, repo.Close())
	assert.Equal(t, 0, store.Len())
}

func TestRepository_TTL(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTestRepository(t, memstore.New())

	require.NoError(t, Set(ctx, repo, testCar{}, "forever", 0))
	require.NoError(t, Set(ctx, repo, testCar{}, "minute", time.Minute))

	ttl, ok, err := TTL[testCar](ctx, repo, "forever")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NoExpiration, ttl)

	clock.Advance(20 * time.Second)
	ttl, ok, err = TTL[testCar](ctx, repo, "minute")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40*time.Second, ttl)

	_, ok, err = TTL[testCar](ctx, repo, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_Remove(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, Doc{}, "k1", 0))
	require.NoError(t, Set(ctx, repo, testCar{}, "k1", 0))

	require.NoError(t, repo.Remove(ctx, "k1"))
	_, ok, err := Get[Doc](ctx, repo, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Get[testCar](ctx, repo, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "Remove only touches the base type scope")

	require.NoError(t, RemoveOf[testCar](ctx, repo, "k1"))
	assert.Equal(t, 0, store.Len())

	assert.NoError(t, repo.Remove(ctx, "never-written"), "removing an absent entry is a no-op")
}

func TestRepository_RemoveSpecific(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, memstore.New())

	require.NoError(t, SetSpecific(ctx, repo, testCar{}, "k3", "sub1", 0))
	require.NoError(t, SetSpecific(ctx, repo, testCar{}, "k3", "sub2", 0))

	require.NoError(t, RemoveSpecific[testCar](ctx, repo, "k3", "sub1"))

	_, ok, err := GetSpecific[testCar](ctx, repo, "k3", "sub1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = GetSpecific[testCar](ctx, repo, "k3", "sub2")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, RemoveSpecific[testCar](ctx, repo, "k3", "sub1"))
}

func TestRepository_GetDocCount(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, clock := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, testCar{}, "a", 0))
	require.NoError(t, SetSpecific(ctx, repo, testCar{}, "a", "v2", 0))
	require.NoError(t, Set(ctx, repo, testCar{}, "b", time.Second))
	require.NoError(t, Set(ctx, repo, testBike{}, "a", 0))
	require.NoError(t, Set(ctx, repo, Doc{}, "a", 0))

	count, err := GetDocCount[testCar](ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	clock.Advance(time.Second)
	count, err = GetDocCount[testCar](ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "expired entries are not counted")

	count, err = GetDocCount[testBike](ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_GetDocCountSkipsForeignIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, testCar{}, "a", 0))

	// Valid envelopes under the car prefix whose identifiers do not decode
	for _, id := range []string{"doccache:car:a:b:c", "doccache:car:bad%zz"} {
		body := []byte(`{"id":"` + id + `","type":"car","key":"x","payload":{}}`)
		_, err := store.Put(ctx, id, body, docstore.Overwrite())
		require.NoError(t, err)
	}

	count, err := GetDocCount[testCar](ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_Clear(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, Doc{}, "k1", 0))
	require.NoError(t, Set(ctx, repo, testCar{}, "k2", time.Minute))
	require.NoError(t, SetSpecific(ctx, repo, testCar{}, "k3", "sub1", 0))

	other, err := New(store, Options{Namespace: "other"})
	require.NoError(t, err)
	require.NoError(t, Set(ctx, other, Doc{}, "k1", 0))

	require.NoError(t, repo.Clear(ctx))

	count, err := GetDocCount[testCar](ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, store.Len(), "other namespaces are untouched")

	require.NoError(t, repo.Clear(ctx), "clearing an empty namespace succeeds")
}

func TestRepository_ClearContinuesOnError(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, Set(ctx, repo, testCar{}, k, 0))
	}

	boom := errors.New("disk on fire")
	store.SetFault(func(op, id string) error {
		if op == memstore.OpDelete && id == "doccache:car:b" {
			return boom
		}
		return nil
	})

	err := repo.Clear(ctx)
	require.Error(t, err)

	var clearErr *ClearError
	require.ErrorAs(t, err, &clearErr)
	assert.Equal(t, 4, clearErr.Result.Matched)
	assert.Equal(t, 3, clearErr.Result.Deleted)
	assert.Equal(t, 1, clearErr.Result.Failed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.Len())
}

func TestRepository_ClearListFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	store.SetFault(func(op, _ string) error {
		if op == memstore.OpList {
			return errors.New("connection refused")
		}
		return nil
	})

	err := repo.Clear(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRepository_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, clock := newTestRepository(t, store)

	require.NoError(t, Set(ctx, repo, testCar{}, "live", time.Hour))
	require.NoError(t, Set(ctx, repo, testCar{}, "forever", 0))
	require.NoError(t, Set(ctx, repo, testCar{}, "stale", time.Second))
	require.NoError(t, SetSpecific(ctx, repo, testBike{}, "stale", "", time.Second))

	clock.Advance(time.Minute)

	res, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, store.Len())
}

func TestRepository_PurgeRemovesUndecodable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	_, err := store.Put(ctx, "doccache:car:junk", []byte("{broken"), docstore.Overwrite())
	require.NoError(t, err)

	res, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, store.Len())
}

// racingStore commits a competing write right after the first Fetch.
type racingStore struct {
	*memstore.Store
	once sync.Once
}

func (s *racingStore) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	doc, err := s.Store.Fetch(ctx, id)
	s.once.Do(func() {
		_, _ = s.Store.Put(ctx, id, []byte(`{"id":"`+id+`","type":"car","key":"k","payload":{}}`), docstore.Overwrite())
	})
	return doc, err
}

func TestRepository_RevisionChecked(t *testing.T) {
	ctx := context.Background()
	revisionChecked := func(o *Options) { o.Concurrency = RevisionChecked }

	t.Run("sequential writes succeed", func(t *testing.T) {
		repo, _ := newTestRepository(t, memstore.New(), revisionChecked)
		require.NoError(t, Set(ctx, repo, testCar{Maker: "A"}, "k", 0))
		require.NoError(t, Set(ctx, repo, testCar{Maker: "B"}, "k", 0))

		got, _, err := Get[testCar](ctx, repo, "k")
		require.NoError(t, err)
		assert.Equal(t, "B", got.Maker)
	})

	t.Run("concurrent update conflicts", func(t *testing.T) {
		store := &racingStore{Store: memstore.New()}
		repo, _ := newTestRepository(t, store, revisionChecked)
		_, err := store.Store.Put(ctx, "doccache:car:k", []byte(`{}`), docstore.Overwrite())
		require.NoError(t, err)

		err = Set(ctx, repo, testCar{Maker: "Loser"}, "k", 0)
		assert.ErrorIs(t, err, ErrWriteConflict)
	})

	t.Run("concurrent create conflicts", func(t *testing.T) {
		store := &racingStore{Store: memstore.New()}
		repo, _ := newTestRepository(t, store, revisionChecked)

		err := Set(ctx, repo, testCar{Maker: "Loser"}, "k", 0)
		assert.ErrorIs(t, err, ErrWriteConflict)
	})

	t.Run("last writer wins ignores the race", func(t *testing.T) {
		store := &racingStore{Store: memstore.New()}
		repo, _ := newTestRepository(t, store)

		require.NoError(t, Set(ctx, repo, testCar{Maker: "Winner"}, "k", 0))
		assert.Equal(t, 0, store.Calls(memstore.OpFetch), "LastWriterWins never reads before writing")
	})
}

func TestRepository_Metrics(t *testing.T) {
	ctx := context.Background()

	conflicts := testutil.ToFloat64(CacheConflicts.WithLabelValues("car"))
	removes := testutil.ToFloat64(CacheRemoves.WithLabelValues("car"))
	samples := func(op string) uint64 {
		m := &dto.Metric{}
		require.NoError(t, OperationDuration.WithLabelValues(op).(prometheus.Metric).Write(m))
		return m.GetHistogram().GetSampleCount()
	}
	sets, gets := samples("set"), samples("get")

	store := &racingStore{Store: memstore.New()}
	repo, _ := newTestRepository(t, store, func(o *Options) { o.Concurrency = RevisionChecked })

	assert.ErrorIs(t, Set(ctx, repo, testCar{}, "k", 0), ErrWriteConflict)
	_, _, err := Get[testCar](ctx, repo, "k")
	require.NoError(t, err)
	require.NoError(t, RemoveOf[testCar](ctx, repo, "k"))

	assert.Equal(t, conflicts+1, testutil.ToFloat64(CacheConflicts.WithLabelValues("car")))
	assert.Equal(t, removes+1, testutil.ToFloat64(CacheRemoves.WithLabelValues("car")))
	assert.Equal(t, sets+1, samples("set"))
	assert.Equal(t, gets+1, samples("get"))
}

// untaggedCar embeds Doc but forgets to declare its own CacheType.
type untaggedCar struct {
	Doc
	Maker string `json:"maker"`
}

func TestRepository_RejectsInheritedTypeTag(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo, _ := newTestRepository(t, store)

	err := Set(ctx, repo, untaggedCar{Maker: "Trabant"}, "k", 0)
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.Contains(t, err.Error(), "untaggedCar")

	_, _, err = Get[untaggedCar](ctx, repo, "k")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = GetDocCount[untaggedCar](ctx, repo)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, 0, store.Len())

	// Doc itself keeps the base tag
	require.NoError(t, Set(ctx, repo, Doc{}, "k", 0))
	count, err := GetDocCount[Doc](ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid key never reaches the store", func(t *testing.T) {
		store := memstore.New()
		repo, _ := newTestRepository(t, store)

		err := Set(ctx, repo, testCar{}, "", 0)
		assert.ErrorIs(t, err, ErrInvalidKey)

		_, _, err = Get[testCar](ctx, repo, "bad\x00key")
		assert.ErrorIs(t, err, ErrInvalidKey)

		err = RemoveSpecific[testCar](ctx, repo, "k", "\n")
		assert.ErrorIs(t, err, ErrInvalidKey)

		assert.Equal(t, 0, store.Calls(memstore.OpPut))
		assert.Equal(t, 0, store.Calls(memstore.OpFetch))
		assert.Equal(t, 0, store.Calls(memstore.OpDelete))
	})

	t.Run("store failure", func(t *testing.T) {
		store := memstore.New()
		repo, _ := newTestRepository(t, store)
		cause := errors.New("connection reset")
		store.SetFault(func(string, string) error { return cause })

		err := Set(ctx, repo, testCar{}, "k", 0)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.ErrorIs(t, err, cause)

		_, _, err = Get[testCar](ctx, repo, "k")
		var unavailable *StoreUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "fetch", unavailable.Op)

		assert.ErrorIs(t, repo.Remove(ctx, "k"), ErrStoreUnavailable)

		_, err = GetDocCount[testCar](ctx, repo)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("payload does not match type", func(t *testing.T) {
		store := memstore.New()
		repo, _ := newTestRepository(t, store)
		_, err := store.Put(ctx, "doccache:car:k",
			[]byte(`{"id":"doccache:car:k","type":"car","key":"k","payload":{"seats":"four"}}`),
			docstore.Overwrite())
		require.NoError(t, err)

		_, _, err = Get[testCar](ctx, repo, "k")
		assert.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("stored type mismatch", func(t *testing.T) {
		store := memstore.New()
		repo, _ := newTestRepository(t, store)
		_, err := store.Put(ctx, "doccache:car:k",
			[]byte(`{"id":"doccache:car:k","type":"bike","key":"k","payload":{}}`),
			docstore.Overwrite())
		require.NoError(t, err)

		_, _, err = Get[testCar](ctx, repo, "k")
		assert.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("unserializable value", func(t *testing.T) {
		repo, _ := newTestRepository(t, memstore.New())
		err := Set(ctx, repo, chanDoc{C: make(chan int)}, "k", 0)
		assert.ErrorIs(t, err, ErrSerialization)
	})
}

type chanDoc struct {
	C chan int `json:"c"`
}

func (*chanDoc) CacheType() string { return "chan" }

func TestRepository_StrictDecoding(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"id":"doccache:car:k","type":"car","key":"k","payload":{"maker":"Seat","wheels":4}}`)

	lenientStore := memstore.New()
	lenient, _ := newTestRepository(t, lenientStore)
	_, err := lenientStore.Put(ctx, "doccache:car:k", body, docstore.Overwrite())
	require.NoError(t, err)

	got, ok, err := Get[testCar](ctx, lenient, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Seat", got.Maker)

	strictStore := memstore.New()
	strict, _ := newTestRepository(t, strictStore, func(o *Options) { o.StrictDecoding = true })
	_, err = strictStore.Put(ctx, "doccache:car:k", body, docstore.Overwrite())
	require.NoError(t, err)

	_, _, err = Get[testCar](ctx, strict, "k")
	assert.ErrorIs(t, err, ErrDeserialization)
}

func TestConcurrency_String(t *testing.T) {
	assert.Equal(t, "last-writer-wins", LastWriterWins.String())
	assert.Equal(t, "revision-checked", RevisionChecked.String())
}
