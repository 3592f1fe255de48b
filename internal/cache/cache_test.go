package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": testDB(t),
	}
}

func setClock(s Store, now func() time.Time) {
	switch st := s.(type) {
	case *MemoryStore:
		st.now = now
	case *SQLiteStore:
		st.now = now
	}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e := Entry{Fingerprint: "fp1", Namespace: "pubmed", Payload: []byte("hello"), StoredAt: time.Now(), TTL: time.Hour}
			if err := s.Put(ctx, e); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := s.Get(ctx, "fp1")
			if err != nil || !ok {
				t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
			}
			if string(got.Payload) != "hello" || got.Namespace != "pubmed" {
				t.Errorf("unexpected entry: %+v", got)
			}
			if _, ok, _ := s.Get(ctx, "missing"); ok {
				t.Error("expected miss for unknown fingerprint")
			}

			e.Payload = []byte("updated")
			if err := s.Put(ctx, e); err != nil {
				t.Fatalf("second put: %v", err)
			}
			got, _, _ = s.Get(ctx, "fp1")
			if string(got.Payload) != "updated" {
				t.Errorf("expected overwrite, got %q", got.Payload)
			}
		})
	}
}

func TestStoreNeverServesExpired(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
			setClock(s, func() time.Time { return now })

			if err := s.Put(ctx, Entry{Fingerprint: "fp", Payload: []byte("x"), StoredAt: now, TTL: time.Minute}); err != nil {
				t.Fatal(err)
			}
			now = now.Add(59 * time.Second)
			if _, ok, _ := s.Get(ctx, "fp"); !ok {
				t.Fatal("expected hit before expiry")
			}
			now = now.Add(time.Second)
			if _, ok, _ := s.Get(ctx, "fp"); ok {
				t.Fatal("expected miss at expiry")
			}
			st, err := s.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Entries != 0 {
				t.Errorf("expected lazy eviction on access, still have %d entries", st.Entries)
			}
		})
	}
}

func TestStorePrune(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
			setClock(s, func() time.Time { return now })

			s.Put(ctx, Entry{Fingerprint: "old", Payload: []byte("a"), StoredAt: now.Add(-2 * time.Hour), TTL: time.Hour})
			s.Put(ctx, Entry{Fingerprint: "new", Payload: []byte("b"), StoredAt: now, TTL: time.Hour})

			st, _ := s.Stats(ctx)
			if st.Entries != 2 || st.Expired != 1 {
				t.Errorf("expected 2 entries with 1 expired, got %+v", st)
			}

			n, err := s.Prune(ctx)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 pruned, got %d", n)
			}
			if _, ok, _ := s.Get(ctx, "new"); !ok {
				t.Error("prune removed a live entry")
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Put(ctx, Entry{Fingerprint: "fp", Namespace: "medlineplus", Payload: []byte("<xml/>"), StoredAt: time.Now(), TTL: time.Hour})
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, ok, err := s.Get(ctx, "fp")
	if err != nil || !ok {
		t.Fatalf("expected entry after reopen, ok=%v err=%v", ok, err)
	}
	if string(got.Payload) != "<xml/>" {
		t.Errorf("unexpected payload %q", got.Payload)
	}
	if st, _ := s.Stats(ctx); st.Size == 0 {
		t.Error("expected non-zero file size")
	}
}

func TestMemoryStoreCopiesPayload(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	s.Put(context.Background(), Entry{Fingerprint: "fp", Payload: buf, StoredAt: time.Now(), TTL: time.Hour})
	buf[0] = 'z'
	got, _, _ := s.Get(context.Background(), "fp")
	if string(got.Payload) != "abc" {
		t.Errorf("store aliases caller buffer: %q", got.Payload)
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []string
		equal bool
	}{
		{"whitespace", []string{"pubmed", "asthma  AND\tchildren "}, []string{"pubmed", "asthma AND children"}, true},
		{"case preserved", []string{"pubmed", "asthma AND children"}, []string{"pubmed", "asthma and children"}, false},
		{"source matters", []string{"pubmed", "asthma"}, []string{"medlineplus", "asthma"}, false},
		{"part boundaries", []string{"ab", "c"}, []string{"a", "bc"}, false},
		{"offset", []string{"medlineplus", "diabetes", "es", "0"}, []string{"medlineplus", "diabetes", "es", "10"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.a...) == Fingerprint(tt.b...)
			if got != tt.equal {
				t.Errorf("Fingerprint(%q) == Fingerprint(%q) = %v, want %v", tt.a, tt.b, got, tt.equal)
			}
		})
	}
	if len(Fingerprint("x")) != 32 {
		t.Errorf("expected 32 hex chars")
	}
}

func TestTTLRange(t *testing.T) {
	r := TTLRange{Min: 12 * time.Hour, Max: 24 * time.Hour}
	seen := map[time.Duration]bool{}
	for _, fp := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		ttl := r.For(fp)
		if ttl < r.Min || ttl > r.Max {
			t.Errorf("ttl %s outside [%s, %s]", ttl, r.Min, r.Max)
		}
		if ttl != r.For(fp) {
			t.Errorf("ttl for %q not deterministic", fp)
		}
		seen[ttl] = true
	}
	if len(seen) < 2 {
		t.Error("expected jitter across fingerprints")
	}

	if got := Fixed(time.Hour).For("a"); got != time.Hour {
		t.Errorf("Fixed: got %s", got)
	}
	if got := (TTLRange{}).For("a"); got != 0 {
		t.Errorf("zero range: got %s", got)
	}
}

func TestFetchSingleFlight(t *testing.T) {
	c := New(NewMemoryStore(), Options{})
	var calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("payload"), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Fetch(context.Background(), "pubmed", "fp", time.Hour, fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected exactly one upstream fetch, got %d", calls)
	}
	for i, r := range results {
		if string(r) != "payload" {
			t.Errorf("caller %d got %q", i, r)
		}
	}

	// now served from the store
	if _, err := c.Fetch(context.Background(), "pubmed", "fp", time.Hour, fn); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected cache hit, fetch ran %d times", calls)
	}
	if ctr := c.Counters(); ctr.Hits == 0 {
		t.Errorf("expected hits to be counted: %+v", ctr)
	}
}

func TestFetchNamespacesAreIndependent(t *testing.T) {
	c := New(NewMemoryStore(), Options{})
	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("x"), nil
	}
	c.Fetch(context.Background(), "pubmed", "fp-a", 0, fn)
	c.Fetch(context.Background(), "medlineplus", "fp-b", 0, fn)
	if calls != 2 {
		t.Errorf("expected 2 fetches, got %d", calls)
	}
}

func TestFetchZeroTTLDoesNotStore(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, Options{})
	c.Fetch(context.Background(), "pubmed", "fp", 0, func(context.Context) ([]byte, error) {
		return []byte("x"), nil
	})
	if st, _ := store.Stats(context.Background()); st.Entries != 0 {
		t.Errorf("expected nothing stored, got %d entries", st.Entries)
	}
}

func TestFetchErrorNotCached(t *testing.T) {
	c := New(NewMemoryStore(), Options{})
	boom := errors.New("boom")
	_, err := c.Fetch(context.Background(), "pubmed", "fp", time.Hour, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	got, err := c.Fetch(context.Background(), "pubmed", "fp", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(got) != "ok" {
		t.Errorf("expected retry after error, got %q %v", got, err)
	}
}

func TestCancelledCallerStillFillsCache(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		_, err := c.Fetch(ctx, "medlineplus", "fp", time.Hour, func(fctx context.Context) ([]byte, error) {
			close(started)
			<-release
			if fctx.Err() != nil {
				return nil, fctx.Err()
			}
			return []byte("filled"), nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected caller to see cancellation, got %v", err)
		}
	}()

	<-started
	cancel()
	<-done
	close(release)

	for i := 0; i < 100; i++ {
		if e, ok, _ := store.Get(context.Background(), "fp"); ok {
			if string(e.Payload) != "filled" {
				t.Errorf("unexpected payload %q", e.Payload)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("abandoned fill never populated the cache")
}
