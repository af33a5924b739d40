package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/keys"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory())
	})

	b.Run("PutExisting", func(b *testing.B) {
		benchmarkPutExisting(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("ScanPrefix", func(b *testing.B) {
		benchmarkScanPrefix(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Put with fresh keys
func benchmarkPut(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeaturePut)

	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		database.Put(keys.MustEncode(1, fmt.Sprintf("key-%d", i)), value, uint64(i+1))
	}
}

// Benchmark for Put overwriting a small set of keys
func benchmarkPutExisting(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeaturePut)

	const numKeys = 1000
	ks := make([][]byte, numKeys)
	for i := range ks {
		ks[i] = keys.MustEncode(1, fmt.Sprintf("key-%d", i))
		database.Put(ks[i], []byte("initial"), uint64(i+1))
	}

	value := []byte("benchmark-value")
	version := uint64(numKeys)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		version++
		database.Put(ks[i%numKeys], value, version)
	}
}

// Benchmark for Get on existing keys
func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	const numKeys = 10000
	ks := make([][]byte, numKeys)
	for i := range ks {
		ks[i] = keys.MustEncode(1, fmt.Sprintf("key-%d", i))
		database.Put(ks[i], []byte("value"), uint64(i+1))
	}

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.Get(ks[idx.Add(1)%numKeys])
		}
	})
}

// Benchmark for prefix reads of 100 grouped records
func benchmarkScanPrefix(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeaturePut|db.FeatureScan)

	version := uint64(0)
	for g := 0; g < 100; g++ {
		for i := 0; i < 100; i++ {
			version++
			database.Put(keys.MustEncode(1, fmt.Sprintf("group-%d", g), fmt.Sprintf("item-%d", i)), []byte("value"), version)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if n := len(db.ScanPrefix(database, keys.MustEncode(1, fmt.Sprintf("group-%d", i%100)), 0)); n != 100 {
			b.Fatalf("expected 100 records, got %d", n)
		}
	}
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeaturePut|db.FeatureSave|db.FeatureLoad)

	numEntries := 10000
	for i := 0; i < numEntries; i++ {
		database.Put([]byte(fmt.Sprintf("test-key-%d", i)), []byte(fmt.Sprintf("test-value-%d", i)), uint64(i+1))
	}

	b.Run("Save", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			_ = database.Save(&buf)
		}
	})

	var loadBuf bytes.Buffer
	_ = database.Save(&loadBuf)
	data := loadBuf.Bytes()

	b.Run("Load", func(b *testing.B) {
		loadDB := factory()
		b.Cleanup(func() { loadDB.Close() })
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = loadDB.Load(bytes.NewReader(data))
		}
	})
}

// Benchmark for mixed usage patterns (80% reads, 20% writes)
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	const numKeys = 1000
	ks := make([][]byte, numKeys)
	for i := range ks {
		ks[i] = keys.MustEncode(1, fmt.Sprintf("key-%d", i))
		database.Put(ks[i], []byte("value"), uint64(i+1))
	}

	var version atomic.Uint64
	version.Store(numKeys)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := ks[rnd.Intn(numKeys)]
			if rnd.Intn(10) < 8 {
				database.Get(key)
			} else {
				database.Put(key, []byte("updated"), version.Add(1))
			}
		}
	})
}
