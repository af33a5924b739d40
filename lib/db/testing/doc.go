// Package testing holds the conformance suite and the benchmarks every
// db.KVDB engine (memtree, pebble, badger) runs.
//
// RunKVDBTests checks the contract the ranges rely on:
//   - Put and Get of versioned records, stale versions are ignored
//   - the database version only grows
//   - Scan visits keys in encoded order within [start, end) and honors its limit
//   - a prefix scan of a grouped key returns exactly the keys below it
//   - Save followed by Load restores records and version and replaces previous data
//   - concurrent Puts of different keys are all visible afterwards
//
// RunKVDBBenchmarks measures put, get, prefix scan, snapshot and mixed workloads.
//
// Example usage:
//
//	factory := func() db.KVDB {
//		return memtree.NewMemTreeDB(nil)
//	}
//
//	func TestMemTree(t *testing.T) {
//		dbtesting.RunKVDBTests(t, "memtree", factory)
//	}
//
//	func BenchmarkMemTree(b *testing.B) {
//		dbtesting.RunKVDBBenchmarks(b, "memtree", factory)
//	}
package testing
