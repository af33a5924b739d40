package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/memtree"
	"github.com/ValentinKolb/dWatch/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

func newTestMachine(router *ApplyRouter) *KVStateMachine {
	factory := func(uint64) db.KVDB { return memtree.NewMemTreeDB(memtree.DefaultOptions()) }
	return CreateStateMachineFactory(factory, router)(7, 1).(*KVStateMachine)
}

func putEntry(index uint64, key, value string) sm.Entry {
	cmd := internal.Command{Type: internal.CommandTPut, Key: keys.MustEncode(1, key), Value: []byte(value)}
	return sm.Entry{Index: index, Cmd: cmd.Serialize()}
}

func TestUpdateAssignsVersions(t *testing.T) {
	router := NewApplyRouter()
	var applied []db.Record
	router.Register(7, func(rec db.Record) { applied = append(applied, rec) })

	fsm := newTestMachine(router)
	defer fsm.Close()

	entries := []sm.Entry{
		putEntry(10, "a", "1"),
		putEntry(11, "b", "2"),
		{Index: 12}, // empty command
		{Index: 13, Cmd: []byte{9, 0, 0, 0, 0}},
		putEntry(14, "a", "3"),
	}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	tests := []struct {
		idx     int
		code    store.RetCode
		version uint64
	}{
		{0, store.RetCSuccess, 10},
		{1, store.RetCSuccess, 11},
		{2, store.RetCInvalidOperation, 0},
		{3, store.RetCInvalidOperation, 0},
		{4, store.RetCSuccess, 14},
	}
	for _, tt := range tests {
		res := out[tt.idx].Result
		if store.RetCode(res.Value) != tt.code {
			t.Errorf("Entry %d: expected code %s, got %s", tt.idx, tt.code, store.RetCode(res.Value))
			continue
		}
		if tt.code != store.RetCSuccess {
			continue
		}
		v, err := internal.DecodePutResult(res.Data)
		if err != nil || v != tt.version {
			t.Errorf("Entry %d: expected version %d, got %d (err=%v)", tt.idx, tt.version, v, err)
		}
	}

	if len(applied) != 3 || applied[2].Version != 14 || string(applied[2].Value) != "3" {
		t.Errorf("Unexpected applied records %+v", applied)
	}
}

func TestLookup(t *testing.T) {
	fsm := newTestMachine(nil)
	defer fsm.Close()

	if _, err := fsm.Update([]sm.Entry{
		putEntry(1, "x", "1"),
		putEntry(2, "y", "2"),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: keys.MustEncode(1, "y")})
	if err != nil {
		t.Fatal(err)
	}
	qr := res.(internal.QueryResult)
	if !qr.Ok || qr.Record.Version != 2 {
		t.Errorf("Unexpected get result %+v", qr)
	}

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTMultiGet, Keys: [][]byte{
		keys.MustEncode(1, "y"), keys.MustEncode(1, "z"), keys.MustEncode(1, "x"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if recs := res.([]db.Record); len(recs) != 2 || string(recs[0].Value) != "2" {
		t.Errorf("Unexpected multi get result %+v", recs)
	}

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTScanPrefix, Key: keys.TablePrefix(1), Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if recs := res.([]db.Record); len(recs) != 1 {
		t.Errorf("Expected the limit to be applied, got %d records", len(recs))
	}

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTVersion})
	if err != nil || res.(uint64) != 2 {
		t.Errorf("Expected version 2, got %v (err=%v)", res, err)
	}

	if _, err := fsm.Lookup("not a query"); store.CodeOf(err) != store.RetCInternalError {
		t.Errorf("Expected internal error for invalid query type, got %v", err)
	}
	if _, err := fsm.Lookup(internal.Query{Type: 99}); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected invalid operation, got %v", err)
	}
}

func TestSnapshotKeepsVersion(t *testing.T) {
	src := newTestMachine(nil)
	defer src.Close()
	if _, err := src.Update([]sm.Entry{putEntry(1, "a", "1"), putEntry(2, "b", "2")}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.SaveSnapshot(nil, &buf, nil, nil); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	dst := newTestMachine(nil)
	defer dst.Close()
	if err := dst.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatalf("RecoverFromSnapshot failed: %v", err)
	}

	// the next put after recovery continues the version sequence
	out, err := dst.Update([]sm.Entry{putEntry(3, "c", "3")})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := internal.DecodePutResult(out[0].Result.Data); v != 3 {
		t.Errorf("Expected version 3 after recovery, got %d", v)
	}
}

func TestReplayAfterReopen(t *testing.T) {
	dir := t.TempDir()
	open := func(router *ApplyRouter) *KVStateMachine {
		factory := func(uint64) db.KVDB {
			database, err := pebbledb.NewPebbleDB(pebbledb.DBOptions{Dir: dir})
			if err != nil {
				t.Fatalf("Failed to open pebble: %v", err)
			}
			return database
		}
		return CreateStateMachineFactory(factory, router)(7, 1).(*KVStateMachine)
	}
	raftLog := func() []sm.Entry {
		return []sm.Entry{putEntry(1, "a", "1"), putEntry(2, "b", "2")}
	}

	first := open(nil)
	out, err := first.Update(raftLog())
	if err != nil {
		t.Fatal(err)
	}
	firstVersion, _ := internal.DecodePutResult(out[1].Result.Data)
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// dragonboat replays the log on restart
	router := NewApplyRouter()
	var dispatched []db.Record
	router.Register(7, func(rec db.Record) { dispatched = append(dispatched, rec) })
	second := open(router)
	defer second.Close()

	out, err = second.Update(raftLog())
	if err != nil {
		t.Fatal(err)
	}
	replayVersion, _ := internal.DecodePutResult(out[1].Result.Data)
	if firstVersion != 2 || replayVersion != firstVersion {
		t.Errorf("Expected entry 2 to keep version 2, got first=%d replay=%d", firstVersion, replayVersion)
	}
	if v := second.database.Version(); v != 2 {
		t.Errorf("Expected db version 2 after replay, got %d", v)
	}
	if len(dispatched) != 0 {
		t.Errorf("Replayed entries must not be dispatched, got %+v", dispatched)
	}
	if rec, ok := second.database.Get(keys.MustEncode(1, "a")); !ok || rec.Version != 1 {
		t.Errorf("Unexpected record after replay: %+v %v", rec, ok)
	}

	// the first new entry after the replay is applied
	out, err = second.Update([]sm.Entry{putEntry(3, "a", "3")})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := internal.DecodePutResult(out[0].Result.Data); v != 3 || len(dispatched) != 1 {
		t.Errorf("Expected version 3 and one dispatched record, got %d and %d", v, len(dispatched))
	}
}
