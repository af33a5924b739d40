package badgerdb

import (
	"testing"

	"github.com/ValentinKolb/dWatch/lib/db"
	dbtesting "github.com/ValentinKolb/dWatch/lib/db/testing"
)

func newTestDB(t testing.TB) db.KVDB {
	database, err := NewBadgerDB(DBOptions{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	return database
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "Badger", func() db.KVDB {
		return newTestDB(t)
	})
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()

	database, err := NewBadgerDB(DBOptions{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	database.Put([]byte("a"), []byte("1"), 5)
	database.Put([]byte("b"), []byte("2"), 6)
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	database, err = NewBadgerDB(DBOptions{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to reopen badger: %v", err)
	}
	defer database.Close()

	if database.Version() != 6 {
		t.Errorf("Expected version 6 after reopen, got %d", database.Version())
	}
	rec, ok := database.Get([]byte("a"))
	if !ok || string(rec.Value) != "1" || rec.Version != 5 {
		t.Errorf("Unexpected record after reopen: %+v %v", rec, ok)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "Badger", func() db.KVDB {
		return newTestDB(b)
	})
}
