package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/keys"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("StaleVersion", func(t *testing.T) {
			testStaleVersion(t, factory())
		})

		t.Run("Version", func(t *testing.T) {
			testVersion(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("ScanPrefix", func(t *testing.T) {
			testScanPrefix(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LoadReplaces", func(t *testing.T) {
			testLoadReplaces(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentPuts", func(t *testing.T) {
			testConcurrentPuts(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func collect(database db.KVDB, start, end []byte, limit int) []db.Record {
	var out []db.Record
	database.Scan(start, end, limit, func(rec db.Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	key := []byte("test-key")
	database.Put(key, []byte("test-value1"), 1)

	rec, ok := database.Get(key)
	if !ok {
		t.Fatalf("Expected key %s to exist after Put", key)
	}
	if !bytes.Equal(rec.Value, []byte("test-value1")) || rec.Version != 1 {
		t.Errorf("Unexpected record %+v", rec)
	}

	database.Put(key, []byte("test-value2"), 2)
	rec, _ = database.Get(key)
	if !bytes.Equal(rec.Value, []byte("test-value2")) || rec.Version != 2 {
		t.Errorf("Expected overwrite with version 2, got %+v", rec)
	}

	if _, ok := database.Get([]byte("nonexistent-key")); ok {
		t.Errorf("Expected nonexistent key to return ok=false")
	}

	// returned records must not alias the database
	rec.Value[0] = 'X'
	rec.Key[0] = 'X'
	again, _ := database.Get(key)
	if again.Value[0] == 'X' {
		t.Errorf("Modifying a returned value changed the stored value")
	}
}

func testStaleVersion(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	key := []byte("stale")
	database.Put(key, []byte("new"), 10)
	database.Put(key, []byte("old"), 5)
	database.Put(key, []byte("same"), 10)

	rec, _ := database.Get(key)
	if string(rec.Value) != "new" || rec.Version != 10 {
		t.Errorf("Stale put must be ignored, got %+v", rec)
	}
}

func testVersion(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)

	if database.Version() != 0 {
		t.Errorf("Expected initial version 0, got %d", database.Version())
	}

	database.Put([]byte("a"), []byte("1"), 3)
	if database.Version() != 3 {
		t.Errorf("Expected version 3 after put, got %d", database.Version())
	}

	database.SetVersion(2)
	if database.Version() != 3 {
		t.Errorf("Version must not move backwards, got %d", database.Version())
	}

	database.SetVersion(7)
	if database.Version() != 7 {
		t.Errorf("Expected version 7, got %d", database.Version())
	}
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureScan)

	for i, k := range []string{"d", "a", "c", "e", "b"} {
		database.Put([]byte(k), []byte("v"+k), uint64(i+1))
	}

	tests := []struct {
		name       string
		start, end []byte
		limit      int
		want       string
	}{
		{"all", nil, nil, 0, "abcde"},
		{"bounded", []byte("b"), []byte("d"), 0, "bc"},
		{"open end", []byte("c"), nil, 0, "cde"},
		{"limit", nil, nil, 2, "ab"},
		{"limit larger than result", []byte("d"), nil, 10, "de"},
		{"empty interval", []byte("x"), []byte("z"), 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			for _, rec := range collect(database, tt.start, tt.end, tt.limit) {
				got += string(rec.Key)
				if string(rec.Value) != "v"+string(rec.Key) {
					t.Errorf("Unexpected value %s for key %s", rec.Value, rec.Key)
				}
			}
			if got != tt.want {
				t.Errorf("Expected keys %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("early stop", func(t *testing.T) {
		count := 0
		database.Scan(nil, nil, 0, func(db.Record) bool {
			count++
			return count < 3
		})
		if count != 3 {
			t.Errorf("Expected scan to stop after 3 records, got %d", count)
		}
	})
}

func testScanPrefix(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureScan)

	// 1000 grouped keys below one first part plus neighbours that must not match
	version := uint64(0)
	for i := 0; i < 1000; i++ {
		version++
		database.Put(keys.MustEncode(1, "0100400101", fmt.Sprintf("01004001%d", i)), []byte("v"), version)
	}
	for _, other := range []string{"01004001", "01004001010", "0100400102"} {
		version++
		database.Put(keys.MustEncode(1, other, "x"), []byte("v"), version)
	}
	version++
	database.Put(keys.MustEncode(2, "0100400101", "x"), []byte("v"), version)

	prefix := keys.MustEncode(1, "0100400101")
	if got := len(db.ScanPrefix(database, prefix, 0)); got != 1000 {
		t.Errorf("Expected 1000 records under the prefix, got %d", got)
	}
	if got := len(db.ScanPrefix(database, prefix, 10)); got != 10 {
		t.Errorf("Expected limit of 10 records, got %d", got)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	for i := 0; i < numEntries; i++ {
		key := []byte(fmt.Sprintf("save-load-test-key-%d", i))
		database.Put(key, []byte(fmt.Sprintf("save-load-test-value-%d", i)), uint64(i+1))
	}
	database.SetVersion(5000)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if database2.Version() != 5000 {
		t.Errorf("Expected version 5000 after Load, got %d", database2.Version())
	}

	for i := 0; i < numEntries; i++ {
		key := []byte(fmt.Sprintf("save-load-test-key-%d", i))
		rec, ok := database2.Get(key)
		if !ok {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if string(rec.Value) != fmt.Sprintf("save-load-test-value-%d", i) || rec.Version != uint64(i+1) {
			t.Errorf("Record mismatch for key %s: %+v", key, rec)
		}
	}

	if got := len(collect(database2, nil, nil, 0)); got != numEntries {
		t.Errorf("Expected %d entries after Load, got %d", numEntries, got)
	}
}

func testLoadReplaces(t *testing.T, factory DBFactory) {
	source := factory()
	target := factory()
	defer source.Close()
	defer target.Close()

	requireFeature(t, source, db.FeaturePut|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	source.Put([]byte("kept"), []byte("1"), 1)
	target.Put([]byte("dropped"), []byte("2"), 2)

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := target.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := target.Get([]byte("dropped")); ok {
		t.Errorf("Load must replace the existing content")
	}
	if _, ok := target.Get([]byte("kept")); !ok {
		t.Errorf("Loaded key is missing")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureScan)

	tests := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{"empty value", []byte("empty"), []byte{}},
		{"zero bytes in key", []byte{0x00, 0x00, 0x01}, []byte("zero")},
		{"high bytes in key", []byte{0xff, 0xff}, []byte("high")},
		{"large value", []byte("large"), bytes.Repeat([]byte{'x'}, 1<<20)},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database.Put(tt.key, tt.value, uint64(i+1))
			rec, ok := database.Get(tt.key)
			if !ok {
				t.Fatalf("Key %x not found", tt.key)
			}
			if !bytes.Equal(rec.Value, tt.value) {
				t.Errorf("Value mismatch for key %x", tt.key)
			}
		})
	}

	// keys must come back in bytewise order
	var prev []byte
	for _, rec := range collect(database, nil, nil, 0) {
		if prev != nil && bytes.Compare(prev, rec.Key) >= 0 {
			t.Errorf("Scan out of order: %x before %x", prev, rec.Key)
		}
		prev = rec.Key
	}
}

func testConcurrentPuts(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				version := uint64(w*perWorker + i + 1)
				database.Put([]byte(fmt.Sprintf("w%d-k%d", w, i)), []byte("v"), version)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			if _, ok := database.Get([]byte(fmt.Sprintf("w%d-k%d", w, i))); !ok {
				t.Fatalf("Key w%d-k%d missing", w, i)
			}
		}
	}
	if database.Version() != workers*perWorker {
		t.Errorf("Expected version %d, got %d", workers*perWorker, database.Version())
	}
}
