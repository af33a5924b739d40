package server

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/memtree"
	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/lib/ranges"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/rpc/common"
)

var testEpoch = common.Epoch{ConfVer: 1, Version: 1}

// newTestAdapter hosts range 1 = [01003, 01004) of table 1 on a memtree
func newTestAdapter(t *testing.T) (IRPCServerAdapter, *ranges.Node) {
	t.Helper()

	node := ranges.NewNode(
		ranges.LocalStores(func(uint64) db.KVDB { return memtree.NewMemTreeDB(nil) }),
		&ranges.Options{SweepInterval: 5 * time.Millisecond},
	)
	t.Cleanup(func() { _ = node.Close() })

	_, err := node.CreateRange(ranges.Config{
		ID:      1,
		TableID: 1,
		Start:   keys.MustEncode(1, "01003"),
		End:     keys.MustEncode(1, "01004"),
		Epoch:   ranges.Epoch{ConfVer: 1, Version: 1},
	})
	if err != nil {
		t.Fatalf("create range: %v", err)
	}
	return NewRangesServerAdapter(node, time.Second), node
}

func parts(ps ...string) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = []byte(p)
	}
	return out
}

func TestAdapterPutGet(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	resp := adapter.Handle(1, common.NewPutRequest(testEpoch, 1, parts("01003"), []byte("v1")))
	if err := resp.Error(); err != nil {
		t.Fatalf("put: %v", err)
	}
	if resp.Version != 1 {
		t.Errorf("version = %d, want 1", resp.Version)
	}

	resp = adapter.Handle(1, common.NewGetRequest(testEpoch, 1, parts("01003"), false, false, 0))
	if err := resp.Error(); err != nil {
		t.Fatalf("get: %v", err)
	}
	recs := resp.Records()
	if len(recs) != 1 || string(recs[0].Value) != "v1" || recs[0].Version != 1 {
		t.Errorf("get returned %+v", recs)
	}
}

func TestAdapterErrors(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	tests := []struct {
		name    string
		rangeID uint64
		req     *common.Message
		want    store.RetCode
	}{
		{"unknown range", 9, common.NewPutRequest(testEpoch, 1, parts("01003"), nil), store.RetCRangeNotFound},
		{"stale epoch", 1, common.NewPutRequest(common.Epoch{ConfVer: 1, Version: 0}, 1, parts("01003"), nil), store.RetCEpochStale},
		{"key outside range", 1, common.NewPutRequest(testEpoch, 1, parts("01005"), nil), store.RetCEpochStale},
		{"prefix and multi", 1, common.NewGetRequest(testEpoch, 1, parts("01003"), true, true, 0), store.RetCInvalidOperation},
		{"unsupported type", 1, &common.Message{MsgType: common.MsgTSuccess}, store.RetCUnsupportedOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := adapter.Handle(tt.rangeID, tt.req)
			if got := store.CodeOf(resp.Error()); got != tt.want {
				t.Errorf("code = %v, want %v (%s)", got, tt.want, resp.Err)
			}
		})
	}
}

func TestAdapterWatch(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	// a key that already moved past the start version answers at once
	adapter.Handle(1, common.NewPutRequest(testEpoch, 1, parts("01003"), []byte("v1")))
	resp := adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 0, 1000, 0))
	if err := resp.Error(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if resp.Timeout || resp.Version != 1 || len(resp.KVs) != 1 {
		t.Fatalf("expected an immediate answer, got %+v", resp)
	}

	// a watch past the current version blocks until the next put
	done := make(chan *common.Message, 1)
	go func() {
		done <- adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 1, 5000, 0))
	}()

	time.Sleep(20 * time.Millisecond)
	adapter.Handle(1, common.NewPutRequest(testEpoch, 1, parts("01003"), []byte("v2")))

	select {
	case resp := <-done:
		if resp.Timeout || resp.Version != 2 || string(resp.KVs[0].Value) != "v2" {
			t.Fatalf("unexpected watch response %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch was not notified")
	}

	// nothing happens: the watch times out after its long pull
	resp = adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 800, 30, 0))
	if err := resp.Error(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !resp.Timeout || len(resp.KVs) != 0 {
		t.Errorf("expected a timeout, got %+v", resp)
	}
}

func TestAdapterWatchRangeRemoved(t *testing.T) {
	adapter, node := newTestAdapter(t)

	done := make(chan *common.Message, 1)
	go func() {
		done <- adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 0, 5000, 0))
	}()

	time.Sleep(20 * time.Millisecond)
	if err := node.RemoveRange(1); err != nil {
		t.Fatalf("remove range: %v", err)
	}

	select {
	case resp := <-done:
		if got := store.CodeOf(resp.Error()); got != store.RetCRangeNotFound {
			t.Errorf("code = %v, want %v", got, store.RetCRangeNotFound)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch was not resolved by the range removal")
	}
}

func TestAdapterWatchCancel(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	done := make(chan *common.Message, 1)
	go func() {
		done <- adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 0, 5000, 42))
	}()
	time.Sleep(20 * time.Millisecond)

	// the id is taken while the watch is pending
	resp := adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 0, 5000, 42))
	if got := store.CodeOf(resp.Error()); got != store.RetCInvalidOperation {
		t.Errorf("duplicate id: code = %v, want %v", got, store.RetCInvalidOperation)
	}

	resp = adapter.Handle(1, common.NewCancelRequest(42))
	if err := resp.Error(); err != nil || !resp.Ok {
		t.Fatalf("cancel: ok=%v err=%v", resp.Ok, err)
	}

	select {
	case resp := <-done:
		if got := store.CodeOf(resp.Error()); got != store.RetCCanceled {
			t.Errorf("code = %v, want %v", got, store.RetCCanceled)
		}
		if resp.WatchID != 42 {
			t.Errorf("watch id = %d, want 42", resp.WatchID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled watch still holds its long poll")
	}

	// a second cancel finds nothing and the id is free again
	resp = adapter.Handle(1, common.NewCancelRequest(42))
	if resp.Ok {
		t.Errorf("second cancel reported ok")
	}
	resp = adapter.Handle(1, common.NewWatchRequest(testEpoch, 1, parts("01003"), false, false, 0, 10, 42))
	if err := resp.Error(); err != nil || !resp.Timeout {
		t.Errorf("reused id: expected a timeout, got %+v (err=%v)", resp, err)
	}
}
