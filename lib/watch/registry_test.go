package watch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/memtree"
	"github.com/ValentinKolb/dWatch/lib/keys"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// dbSnapshot adapts a db.KVDB to the Snapshot interface
type dbSnapshot struct {
	database db.KVDB
}

func (s dbSnapshot) Get(key []byte) (db.Record, bool, error) {
	rec, ok := s.database.Get(key)
	return rec, ok, nil
}

func (s dbSnapshot) ScanPrefix(prefix []byte, limit int) ([]db.Record, error) {
	return db.ScanPrefix(s.database, prefix, limit), nil
}

func newTestRegistry(t *testing.T) (*Registry, db.KVDB) {
	database := memtree.NewMemTreeDB(nil)
	reg := NewRegistry(1, dbSnapshot{database}, nil)
	t.Cleanup(func() {
		reg.Close()
		database.Close()
	})
	return reg, database
}

func key(parts ...string) []byte {
	return keys.MustEncode(1, parts...)
}

func expectEvent(t *testing.T, target ChanTarget) Event {
	t.Helper()
	select {
	case ev := <-target:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("Timeout waiting for event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, target ChanTarget) {
	t.Helper()
	select {
	case ev := <-target:
		t.Fatalf("Unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

// --------------------------------------------------------------------------
// Register
// --------------------------------------------------------------------------

func TestRegisterImmediateAnswer(t *testing.T) {
	reg, database := newTestRegistry(t)
	k := key("01003001")
	database.Put(k, []byte("value"), 4)

	tests := []struct {
		name       string
		baseline   uint64
		registered bool
	}{
		{"baseline zero sees existing record", 0, false},
		{"older baseline", 3, false},
		{"current baseline", 4, true},
		{"future baseline", 800, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.Register(&Watcher{Keys: [][]byte{k}, Baseline: tt.baseline, Target: NewChanTarget()})
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if res.Registered != tt.registered {
				t.Fatalf("Expected registered=%v, got %+v", tt.registered, res)
			}
			if !tt.registered {
				if len(res.Records) != 1 || res.Version != 4 || string(res.Records[0].Value) != "value" {
					t.Errorf("Unexpected immediate answer %+v", res)
				}
			}
		})
	}

	if reg.Pending() != 2 {
		t.Errorf("Expected 2 pending watchers, got %d", reg.Pending())
	}
}

func TestRegisterMissingKeyRegisters(t *testing.T) {
	reg, _ := newTestRegistry(t)
	res, err := reg.Register(&Watcher{Keys: [][]byte{key("missing")}, Target: NewChanTarget()})
	if err != nil || !res.Registered || res.WatchID == 0 {
		t.Fatalf("Expected registration, got %+v %v", res, err)
	}
}

func TestRegisterPrefixImmediate(t *testing.T) {
	reg, database := newTestRegistry(t)
	database.Put(key("p", "a"), []byte("1"), 1)
	database.Put(key("p", "b"), []byte("2"), 2)
	database.Put(key("q", "a"), []byte("3"), 3)

	res, err := reg.Register(&Watcher{Keys: [][]byte{key("p")}, Prefix: true, Baseline: 1, Target: NewChanTarget()})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Registered || len(res.Records) != 1 || res.Version != 2 {
		t.Errorf("Expected only the record newer than the baseline, got %+v", res)
	}
}

func TestRegisterErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Register(&Watcher{}); !errors.Is(err, ErrNoKeys) {
		t.Errorf("Expected ErrNoKeys, got %v", err)
	}

	w := &Watcher{ID: 7, Keys: [][]byte{key("a")}, Target: NewChanTarget()}
	if _, err := reg.Register(w); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := reg.Register(&Watcher{ID: 7, Keys: [][]byte{key("b")}}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Notify
// --------------------------------------------------------------------------

func TestNotifyExact(t *testing.T) {
	reg, _ := newTestRegistry(t)
	k := key("01003001")
	target := NewChanTarget()
	res, _ := reg.Register(&Watcher{Keys: [][]byte{k}, Baseline: 0, Target: target})

	reg.Notify(db.Record{Key: key("other"), Value: []byte("x"), Version: 1})
	expectNoEvent(t, target)

	reg.Notify(db.Record{Key: k, Value: []byte("v"), Version: 2})
	ev := expectEvent(t, target)
	if ev.WatchID != res.WatchID || ev.Version != 2 || len(ev.Records) != 1 || string(ev.Records[0].Value) != "v" {
		t.Errorf("Unexpected event %+v", ev)
	}
	if reg.Pending() != 0 {
		t.Errorf("Delivered watcher must be removed")
	}

	reg.Notify(db.Record{Key: k, Value: []byte("w"), Version: 3})
	expectNoEvent(t, target)
}

func TestNotifyRespectsBaseline(t *testing.T) {
	reg, _ := newTestRegistry(t)
	k := key("a")
	target := NewChanTarget()
	_, _ = reg.Register(&Watcher{Keys: [][]byte{k}, Baseline: 5, Target: target})

	reg.Notify(db.Record{Key: k, Version: 5})
	expectNoEvent(t, target)

	reg.Notify(db.Record{Key: k, Version: 6})
	if ev := expectEvent(t, target); ev.Version != 6 {
		t.Errorf("Expected version 6, got %d", ev.Version)
	}
}

func TestNotifyPrefix(t *testing.T) {
	reg, _ := newTestRegistry(t)
	target := NewChanTarget()
	_, _ = reg.Register(&Watcher{Keys: [][]byte{key("0100400101")}, Prefix: true, Target: target})

	reg.Notify(db.Record{Key: key("01004001010", "x"), Version: 1})
	expectNoEvent(t, target)

	reg.Notify(db.Record{Key: key("0100400101", "010040010"), Version: 2})
	if ev := expectEvent(t, target); ev.Version != 2 {
		t.Errorf("Expected version 2, got %d", ev.Version)
	}
}

func TestMultiKeyFirstMatchWins(t *testing.T) {
	reg, _ := newTestRegistry(t)
	target := NewChanTarget()
	_, _ = reg.Register(&Watcher{Keys: [][]byte{key("a"), key("b")}, Target: target})

	reg.Notify(db.Record{Key: key("b"), Version: 1})
	if ev := expectEvent(t, target); string(ev.Records[0].Key) != string(key("b")) {
		t.Errorf("Expected delivery for key b")
	}

	reg.Notify(db.Record{Key: key("a"), Version: 2})
	expectNoEvent(t, target)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.exact) != 0 {
		t.Errorf("Watcher must be removed from all keys, %d buckets left", len(reg.exact))
	}
}

func TestMatchPrefixes(t *testing.T) {
	reg, _ := newTestRegistry(t)
	prefixes := []string{"", "a", "ab", "abc", "abd", "abcd", "b", "aa", "abca", "ac"}
	for _, p := range prefixes {
		_, err := reg.Register(&Watcher{Keys: [][]byte{[]byte(p)}, Prefix: true, Baseline: 100})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	tests := []struct {
		key  string
		want []string
	}{
		{"abcd", []string{"", "a", "ab", "abc", "abcd"}},
		{"abcz", []string{"", "a", "ab", "abc"}},
		{"abd", []string{"", "a", "ab", "abd"}},
		{"b", []string{"", "b"}},
		{"c", []string{""}},
		{"", []string{""}},
		{"aab", []string{"", "a", "aa"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("key=%q", tt.key), func(t *testing.T) {
			reg.mu.Lock()
			matches := reg.matchPrefixesLocked([]byte(tt.key))
			reg.mu.Unlock()

			var got []string
			for _, pb := range matches {
				got = append(got, string(pb.prefix))
			}
			sort.Strings(got)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Expire, Cancel, Close
// --------------------------------------------------------------------------

func TestExpire(t *testing.T) {
	reg, _ := newTestRegistry(t)
	now := time.Now()
	early := NewChanTarget()
	late := NewChanTarget()
	_, _ = reg.Register(&Watcher{Keys: [][]byte{key("a")}, Baseline: 800, Deadline: now.Add(time.Second), Target: early})
	_, _ = reg.Register(&Watcher{Keys: [][]byte{key("a")}, Baseline: 800, Deadline: now.Add(time.Hour), Target: late})

	if n := reg.Expire(now); n != 0 {
		t.Errorf("Nothing should expire yet, expired %d", n)
	}
	if n := reg.Expire(now.Add(time.Second)); n != 1 {
		t.Errorf("Expected 1 expired watcher, got %d", n)
	}
	ev := expectEvent(t, early)
	if !ev.Timeout || len(ev.Records) != 0 {
		t.Errorf("Expected timeout without records, got %+v", ev)
	}
	expectNoEvent(t, late)
	if reg.Pending() != 1 {
		t.Errorf("Expected 1 pending watcher, got %d", reg.Pending())
	}
}

func TestSweepExpiresWatchers(t *testing.T) {
	database := memtree.NewMemTreeDB(nil)
	defer database.Close()
	reg := NewRegistry(2, dbSnapshot{database}, &Options{SweepInterval: 5 * time.Millisecond})
	reg.Start()
	defer reg.Close()

	target := NewChanTarget()
	_, _ = reg.Register(&Watcher{Keys: [][]byte{key("a")}, Baseline: 800, Deadline: time.Now().Add(20 * time.Millisecond), Target: target})
	if ev := expectEvent(t, target); !ev.Timeout {
		t.Errorf("Expected timeout, got %+v", ev)
	}
}

func TestCancel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	target := NewChanTarget()
	res, _ := reg.Register(&Watcher{Keys: [][]byte{key("a")}, Deadline: time.Now(), Target: target})

	if !reg.Cancel(res.WatchID) {
		t.Fatalf("Cancel should succeed for a pending watcher")
	}
	if reg.Cancel(res.WatchID) {
		t.Errorf("Second cancel must report false")
	}
	reg.Notify(db.Record{Key: key("a"), Version: 1})
	reg.Expire(time.Now().Add(time.Hour))
	expectNoEvent(t, target)
}

func TestCloseResolvesPending(t *testing.T) {
	database := memtree.NewMemTreeDB(nil)
	defer database.Close()
	reg := NewRegistry(3, dbSnapshot{database}, nil)
	reg.Start()

	target := NewChanTarget()
	_, _ = reg.Register(&Watcher{Keys: [][]byte{key("a")}, Target: target})

	reg.Close()
	reg.Close()

	if ev := expectEvent(t, target); !errors.Is(ev.Err, ErrRangeRemoved) {
		t.Errorf("Expected ErrRangeRemoved, got %+v", ev)
	}
	if _, err := reg.Register(&Watcher{Keys: [][]byte{key("a")}}); !errors.Is(err, ErrRangeRemoved) {
		t.Errorf("Register after close must fail, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Concurrency
// --------------------------------------------------------------------------

// TestExactlyOnce races Notify, Expire and Cancel against each other and checks that no
// watcher is resolved twice and every watcher that was not cancelled is resolved.
func TestExactlyOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const numWatchers = 2000
	counts := make([]atomic.Int32, numWatchers)
	ids := make([]uint64, numWatchers)
	deadline := time.Now().Add(5 * time.Millisecond)

	for i := 0; i < numWatchers; i++ {
		i := i
		res, err := reg.Register(&Watcher{
			Keys:     [][]byte{key(fmt.Sprintf("k%d", i%10))},
			Deadline: deadline,
			Target:   TargetFunc(func(Event) { counts[i].Add(1) }),
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		ids[i] = res.WatchID
	}

	var cancelled sync.Map
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for v := uint64(1); v <= 10; v++ {
			reg.Notify(db.Record{Key: key(fmt.Sprintf("k%d", v%10)), Version: v})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			reg.Expire(time.Now())
			time.Sleep(100 * time.Microsecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < numWatchers; i += 3 {
			if reg.Cancel(ids[i]) {
				cancelled.Store(i, true)
			}
		}
	}()
	wg.Wait()

	// resolve whatever is left
	reg.Expire(deadline.Add(time.Hour))

	for i := range counts {
		c := counts[i].Load()
		_, wasCancelled := cancelled.Load(i)
		switch {
		case c > 1:
			t.Fatalf("Watcher %d delivered %d times", i, c)
		case c == 0 && !wasCancelled:
			t.Fatalf("Watcher %d never delivered", i)
		case c == 1 && wasCancelled:
			t.Fatalf("Watcher %d delivered after successful cancel", i)
		}
	}
	if reg.Pending() != 0 {
		t.Errorf("Expected no pending watchers, got %d", reg.Pending())
	}
}

// TestNoLostWakeup runs a writer that follows the apply path protocol (write, then publish)
// against clients that keep re-watching with the last version they have seen. A lost wakeup
// would leave a client waiting although a newer version exists.
func TestNoLostWakeup(t *testing.T) {
	reg, database := newTestRegistry(t)
	notifier := NewNotifier(reg)
	defer notifier.Close()

	k := key("hot")
	const writes = 2000
	const clients = 4

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var seen uint64
			for seen < writes {
				target := NewChanTarget()
				res, err := reg.Register(&Watcher{Keys: [][]byte{k}, Baseline: seen, Target: target})
				if err != nil {
					t.Errorf("Register failed: %v", err)
					return
				}
				if !res.Registered {
					seen = res.Version
					continue
				}
				select {
				case ev := <-target:
					seen = ev.Version
				case <-time.After(2 * time.Second):
					t.Errorf("Lost wakeup at baseline %d", seen)
					return
				}
			}
		}()
	}

	for v := uint64(1); v <= writes; v++ {
		database.Put(k, []byte("v"), v)
		notifier.Publish(db.Record{Key: k, Value: []byte("v"), Version: v})
	}
	wg.Wait()
}

func TestNotifierOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	notifier := NewNotifier(reg)

	const n = 100
	k := key("ordered")
	var mu sync.Mutex
	delivered := make(map[uint64]uint64) // baseline -> version
	for baseline := uint64(0); baseline < n; baseline++ {
		baseline := baseline
		_, err := reg.Register(&Watcher{Keys: [][]byte{k}, Baseline: baseline, Target: TargetFunc(func(ev Event) {
			mu.Lock()
			delivered[baseline] = ev.Version
			mu.Unlock()
		})})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	for v := uint64(1); v <= n; v++ {
		notifier.Publish(db.Record{Key: k, Version: v})
	}
	notifier.Close()

	if notifier.Publish(db.Record{Key: k, Version: n + 1}) {
		t.Errorf("Publish after Close must fail")
	}

	mu.Lock()
	defer mu.Unlock()
	for baseline := uint64(0); baseline < n; baseline++ {
		if delivered[baseline] != baseline+1 {
			t.Errorf("Watcher with baseline %d got version %d, want %d", baseline, delivered[baseline], baseline+1)
		}
	}
}
