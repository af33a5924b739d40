package ranges

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/memtree"
	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/watch"
)

var epoch1 = Epoch{ConfVer: 1, Version: 1}

func memFactory(uint64) db.KVDB {
	return memtree.NewMemTreeDB(memtree.DefaultOptions())
}

// newTestNode hosts range 1 [01003, 01004) and range 2 [01004, 01005) of table 1.
func newTestNode(t testing.TB, opts *Options) *Node {
	t.Helper()
	n := NewNode(LocalStores(memFactory), opts)
	for _, cfg := range []Config{
		{ID: 1, TableID: 1, Start: keys.MustEncode(1, "01003"), End: keys.MustEncode(1, "01004"), Epoch: epoch1},
		{ID: 2, TableID: 1, Start: keys.MustEncode(1, "01004"), End: keys.MustEncode(1, "01005"), Epoch: epoch1},
	} {
		r, err := n.CreateRange(cfg)
		if err != nil {
			t.Fatalf("CreateRange(%d) failed: %v", cfg.ID, err)
		}
		r.SetLeader(true)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func hdr(rangeID uint64) Header {
	return Header{RangeID: rangeID, Epoch: epoch1}
}

func parts(ps ...string) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = []byte(p)
	}
	return out
}

func mustPut(t testing.TB, n *Node, rangeID uint64, value string, ps ...string) db.Record {
	t.Helper()
	rec, err := n.Put(context.Background(), PutRequest{Header: hdr(rangeID), TableID: 1, Parts: parts(ps...), Value: []byte(value)})
	if err != nil {
		t.Fatalf("Put(%v) failed: %v", ps, err)
	}
	return rec
}

func waitEvent(t *testing.T, target watch.ChanTarget, timeout time.Duration) watch.Event {
	t.Helper()
	select {
	case ev := <-target:
		return ev
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for watch event")
		return watch.Event{}
	}
}

// --------------------------------------------------------------------------
// Scenarios
// --------------------------------------------------------------------------

func TestPutThenGetSingle(t *testing.T) {
	n := newTestNode(t, nil)

	get := func(rangeID uint64, key, want string) {
		t.Helper()
		recs, err := n.Get(GetRequest{Header: hdr(rangeID), TableID: 1, Parts: parts(key)})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(recs) != 1 || string(recs[0].Value) != want {
			t.Fatalf("Expected one record with value %q, got %+v", want, recs)
		}
	}

	mustPut(t, n, 1, "01003001:value", "01003001")
	get(1, "01003001", "01003001:value")

	mustPut(t, n, 1, "0100300101:value", "01003001")
	get(1, "01003001", "0100300101:value")

	mustPut(t, n, 2, "01004001:value", "01004001")
	get(2, "01004001", "01004001:value")
}

func TestGroupedPutsThenPrefixGet(t *testing.T) {
	n := newTestNode(t, nil)

	for i := 0; i < 1000; i++ {
		mustPut(t, n, 2, "01004001:value", "0100400101", fmt.Sprintf("01004001%d", i))
	}

	recs, err := n.Get(GetRequest{Header: hdr(2), TableID: 1, Parts: parts("0100400101"), Mode: GetPrefix})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(recs) != 1000 {
		t.Fatalf("Expected 1000 records, got %d", len(recs))
	}
	for _, rec := range recs {
		if string(rec.Value) != "01004001:value" {
			t.Fatalf("Unexpected value %q", rec.Value)
		}
	}

	limited, err := n.Get(GetRequest{Header: hdr(2), TableID: 1, Parts: parts("0100400101"), Mode: GetPrefix, Limit: 10})
	if err != nil || len(limited) != 10 {
		t.Errorf("Expected 10 records with limit, got %d (err=%v)", len(limited), err)
	}
}

func TestWatchFarFutureTimesOut(t *testing.T) {
	n := newTestNode(t, &Options{SweepInterval: 5 * time.Millisecond})
	mustPut(t, n, 1, "v", "01003001")

	target := watch.NewChanTarget()
	res, err := n.Watch(WatchRequest{
		Header:       hdr(1),
		TableID:      1,
		Parts:        parts("01003001"),
		StartVersion: 800,
		LongPull:     30 * time.Millisecond,
	}, target)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if !res.Registered || len(res.Records) != 0 {
		t.Fatalf("Expected the watcher to register, got %+v", res)
	}

	ev := waitEvent(t, target, time.Second)
	if !ev.Timeout || len(ev.Records) != 0 || ev.Err != nil {
		t.Errorf("Expected a timeout without records, got %+v", ev)
	}
}

// --------------------------------------------------------------------------
// Watch
// --------------------------------------------------------------------------

func TestWatchImmediateAnswer(t *testing.T) {
	n := newTestNode(t, nil)
	rec := mustPut(t, n, 1, "v", "01003001")

	tests := []struct {
		name       string
		start      uint64
		registered bool
	}{
		{"baseline zero", 0, false},
		{"current version", rec.Version, true},
		{"far future", 800, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := watch.NewChanTarget()
			res, err := n.Watch(WatchRequest{Header: hdr(1), TableID: 1, Parts: parts("01003001"), StartVersion: tt.start}, target)
			if err != nil {
				t.Fatal(err)
			}
			if res.Registered != tt.registered {
				t.Fatalf("Expected registered=%v, got %+v", tt.registered, res)
			}
			if !tt.registered && res.Version != rec.Version {
				t.Errorf("Expected version %d, got %d", rec.Version, res.Version)
			}
			if res.Registered {
				if ok, _ := n.Cancel(1, res.WatchID); !ok {
					t.Error("Expected cancel to remove the pending watcher")
				}
			}
		})
	}
}

func TestWatchNotifiedByPut(t *testing.T) {
	n := newTestNode(t, nil)

	tests := []struct {
		name  string
		req   WatchRequest
		write []string
	}{
		{"exact key", WatchRequest{Parts: parts("01003002")}, []string{"01003002"}},
		{"grouped key", WatchRequest{Parts: parts("01003003", "a")}, []string{"01003003", "a"}},
		{"prefix", WatchRequest{Parts: parts("01003004"), Prefix: true}, []string{"01003004", "x"}},
		{"multi key", WatchRequest{Parts: parts("01003005", "01003006"), Multi: true}, []string{"01003006"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Header = hdr(1)
			req.TableID = 1
			req.StartVersion = 1 << 40

			target := watch.NewChanTarget()
			res, err := n.Watch(req, target)
			if err != nil || !res.Registered {
				t.Fatalf("Expected registration, got %+v (err=%v)", res, err)
			}

			rec := mustPut(t, n, 1, "changed", tt.write...)

			// a baseline far above the version is never satisfied by the write
			select {
			case ev := <-target:
				t.Fatalf("Unexpected event %+v", ev)
			case <-time.After(20 * time.Millisecond):
			}
			if ok, _ := n.Cancel(1, res.WatchID); !ok {
				t.Fatal("Expected watcher to be pending")
			}

			req.StartVersion = rec.Version
			res, err = n.Watch(req, target)
			if err != nil || !res.Registered {
				t.Fatalf("Expected registration, got %+v (err=%v)", res, err)
			}
			next := mustPut(t, n, 1, "changed again", tt.write...)

			ev := waitEvent(t, target, time.Second)
			if ev.Timeout || ev.Err != nil || len(ev.Records) != 1 {
				t.Fatalf("Unexpected event %+v", ev)
			}
			if ev.Version != next.Version || string(ev.Records[0].Value) != "changed again" {
				t.Errorf("Expected version %d, got %+v", next.Version, ev)
			}
		})
	}
}

func TestRemoveRangeResolvesWatchers(t *testing.T) {
	n := newTestNode(t, nil)

	target := watch.NewChanTarget()
	res, err := n.Watch(WatchRequest{Header: hdr(2), TableID: 1, Parts: parts("01004001"), StartVersion: 800}, target)
	if err != nil || !res.Registered {
		t.Fatalf("Expected registration, got %+v (err=%v)", res, err)
	}

	if err := n.RemoveRange(2); err != nil {
		t.Fatalf("RemoveRange failed: %v", err)
	}
	ev := waitEvent(t, target, time.Second)
	if ev.Err != watch.ErrRangeRemoved {
		t.Errorf("Expected ErrRangeRemoved, got %+v", ev)
	}

	if _, ok := n.Find(2); ok {
		t.Error("Range 2 must be gone")
	}
	if err := n.RemoveRange(2); store.CodeOf(err) != store.RetCRangeNotFound {
		t.Errorf("Expected RangeNotFound, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Admission
// --------------------------------------------------------------------------

func TestAdmissionGate(t *testing.T) {
	n := newTestNode(t, nil)
	follower, _ := n.Find(2)
	follower.SetLeader(false)

	tests := []struct {
		name string
		h    Header
		key  string
		want store.RetCode
	}{
		{"unknown range", Header{RangeID: 9, Epoch: epoch1}, "01003001", store.RetCRangeNotFound},
		{"not leader", hdr(2), "01004001", store.RetCNotLeader},
		{"stale conf version", Header{RangeID: 1, Epoch: Epoch{ConfVer: 2, Version: 1}}, "01003001", store.RetCEpochStale},
		{"stale version", Header{RangeID: 1, Epoch: Epoch{ConfVer: 1, Version: 0}}, "01003001", store.RetCEpochStale},
		{"key below range", hdr(1), "01002", store.RetCEpochStale},
		{"key above range", hdr(1), "01004001", store.RetCEpochStale},
		{"ok", hdr(1), "01003001", store.RetCSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Put(context.Background(), PutRequest{Header: tt.h, TableID: 1, Parts: parts(tt.key), Value: []byte("v")})
			if got := store.CodeOf(err); got != tt.want {
				t.Errorf("Put: expected %s, got %s (%v)", tt.want, got, err)
			}
			_, err = n.Get(GetRequest{Header: tt.h, TableID: 1, Parts: parts(tt.key)})
			if got := store.CodeOf(err); got != tt.want {
				t.Errorf("Get: expected %s, got %s (%v)", tt.want, got, err)
			}
			_, err = n.Watch(WatchRequest{Header: tt.h, TableID: 1, Parts: parts(tt.key)}, watch.NewChanTarget())
			if got := store.CodeOf(err); got != tt.want {
				t.Errorf("Watch: expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestMalformedKey(t *testing.T) {
	n := newTestNode(t, nil)

	_, err := n.Put(context.Background(), PutRequest{Header: hdr(1), TableID: 1, Value: []byte("v")})
	if store.CodeOf(err) != store.RetCMalformedKey {
		t.Errorf("Put without key: expected MalformedKey, got %v", err)
	}
	_, err = n.Get(GetRequest{Header: hdr(1), TableID: 1, Mode: GetMulti})
	if store.CodeOf(err) != store.RetCMalformedKey {
		t.Errorf("Multi get without keys: expected MalformedKey, got %v", err)
	}
}

func TestMultiGet(t *testing.T) {
	n := newTestNode(t, nil)
	mustPut(t, n, 1, "a", "01003001")
	mustPut(t, n, 1, "c", "01003003")

	recs, err := n.Get(GetRequest{Header: hdr(1), TableID: 1, Parts: parts("01003001", "01003002", "01003003"), Mode: GetMulti})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || string(recs[0].Value) != "a" || string(recs[1].Value) != "c" {
		t.Errorf("Expected records a and c, got %+v", recs)
	}

	// every key is checked against the bounds, not just the first
	_, err = n.Get(GetRequest{Header: hdr(1), TableID: 1, Parts: parts("01003001", "01004001"), Mode: GetMulti})
	if store.CodeOf(err) != store.RetCEpochStale {
		t.Errorf("Expected RetCEpochStale for a key outside the range, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Versions
// --------------------------------------------------------------------------

// failingStore rejects every n-th put like a failed proposal.
type failingStore struct {
	store.IStore
	calls atomic.Int64
	every int64
}

func (f *failingStore) Put(ctx context.Context, key, value []byte) (db.Record, error) {
	if f.calls.Add(1)%f.every == 0 {
		return db.Record{}, store.NewError(store.RetCProposalFailed, "dropped")
	}
	return f.IStore.Put(ctx, key, value)
}

func TestVersionsStrictlyIncrease(t *testing.T) {
	n := NewNode(func(cfg Config, onApply store.ApplyFunc) (store.IStore, error) {
		s, err := LocalStores(memFactory)(cfg, onApply)
		if err != nil {
			return nil, err
		}
		return &failingStore{IStore: s, every: 3}, nil
	}, nil)
	defer n.Close()

	r, err := n.CreateRange(Config{ID: 1, TableID: 1, Epoch: epoch1})
	if err != nil {
		t.Fatal(err)
	}
	r.SetLeader(true)

	var last uint64
	failed := 0
	for i := 0; i < 30; i++ {
		rec, err := n.Put(context.Background(), PutRequest{Header: hdr(1), TableID: 1, Parts: parts(fmt.Sprintf("k%d", i%4)), Value: []byte("v")})
		if err != nil {
			if store.CodeOf(err) != store.RetCProposalFailed {
				t.Fatalf("Unexpected error %v", err)
			}
			failed++
			continue
		}
		if rec.Version != last+1 {
			t.Fatalf("Expected version %d, got %d", last+1, rec.Version)
		}
		last = rec.Version
	}
	if failed != 10 || last != 20 {
		t.Errorf("Expected 10 failed puts and last version 20, got %d and %d", failed, last)
	}
}

func TestCreateRangeValidation(t *testing.T) {
	n := newTestNode(t, nil)

	if _, err := n.CreateRange(Config{ID: 1, TableID: 1, Epoch: epoch1}); err == nil {
		t.Error("Expected duplicate range to be rejected")
	}
	if _, err := n.CreateRange(Config{ID: 3, Start: keys.MustEncode(1, "b"), End: keys.MustEncode(1, "a")}); err == nil {
		t.Error("Expected inverted bounds to be rejected")
	}
	if len(n.Ranges()) != 2 {
		t.Errorf("Expected 2 ranges, got %d", len(n.Ranges()))
	}
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

func BenchmarkPut(b *testing.B) {
	n := newTestNode(b, nil)
	req := PutRequest{Header: hdr(1), TableID: 1, Parts: parts("01003001"), Value: []byte("01003001:value")}
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := n.Put(ctx, req); err != nil {
				b.Fatal(err)
			}
		}
	})
}
