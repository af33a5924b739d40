/*
Package memtree provides an ordered in-memory implementation of the db.KVDB interface.

Records are kept in a google/btree ordered by their encoded key. Since encoded keys preserve
the order of their parts, prefix reads and prefix watches become short range scans.

Features:

  - Ordered iteration: Scan walks [start, end) in ascending key order with an optional limit.
  - Versioned writes: every entry carries the version it was applied with. Stale puts are ignored.
  - Cheap snapshots: Save clones the tree lazily (copy-on-write) and streams the clone, so
    writers are only blocked for the duration of the clone.
  - Portable persistence: Save and Load use the shared snapshot stream of the util package,
    snapshots can be restored into any other engine.

Thread-safety: All methods are safe for concurrent use. Reads share a RWMutex,
writes are serialized.

Usage:

	database := memtree.NewMemTreeDB(nil)
	database.Put(key, []byte("value"), 1)
	rec, ok := database.Get(key)
*/
package memtree
