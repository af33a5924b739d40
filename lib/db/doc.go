// Package db provides a standardized interface for ordered, versioned key-value database implementations.
// It defines the KVDB interface that every range uses as its storage engine, while abstracting
// implementation details of the concrete backends.
//
// The package focuses on:
//   - A unified interface for versioned key-value operations
//   - Ordered iteration (Scan) over encoded keys, used for prefix reads and prefix watches
//   - Feature discovery through capability flags
//   - Standardized persistence operations used for raft snapshots
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides Put, Get and Scan, version tracking (Version, SetVersion),
//     metadata retrieval (GetInfo) and persistence operations (Save, Load).
//
//   - Record: A key, its value and the version assigned when the value was applied.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Implementation Identifiers: "memtree", "pebble" and "badger".
//
// Note on Versions:
//   - Every Put carries the version assigned by the apply path of a range. The version
//     is a logical timestamp that strictly increases per range.
//   - Put with a version that is not greater than the stored version of the key is ignored,
//     so replaying an already applied entry is harmless.
//   - The database version (Version()) is the highest version ever applied and only increases.
//     Attempts to set a lower version must be ignored.
//
// Related Packages:
//
// The engines/memtree package provides an in-memory implementation on top of a google/btree.
// The engines/pebble and engines/badger packages persist records in cockroachdb/pebble and
// dgraph-io/badger respectively.
//
// The util package (github.com/ValentinKolb/dWatch/lib/db/util) provides complementary tools:
//   - Snapshot: the engine independent snapshot stream used by Save and Load
//   - SizeHistogram: Utilities for analyzing data size distributions
//   - MapHeap: A priority queue used for watcher deadlines
//   - LockFreeMPSC: A lock-free multi-producer single-consumer queue used by the notifier
//
// The testing package (github.com/ValentinKolb/dWatch/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
