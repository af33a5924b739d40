// Package lstore implements a local, single-node range store based on the
// store.IStore interface. It provides a thin wrapper around any db.KVDB
// implementation with version assignment and apply notifications.
//
// Implementation Details:
//
//   - Version Assignment: A put takes the apply lock, assigns db.Version()+1,
//     writes the record and calls the ApplyFunc before the lock is released.
//     Apply callbacks therefore observe strictly increasing versions.
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.KVDB implementation supports the requested feature through the SupportsFeature
//     method. Unsupported operations return RetCUnsupportedOperation.
//
//   - Leadership: A local store always leads its range with term 1.
//
// Usage Example:
//
//	factory := func(uint64) db.KVDB { return memtree.NewMemTreeDB(memtree.DefaultOptions()) }
//	s := lstore.NewLocalStore(1, factory, func(rec db.Record) { ... })
//
//	rec, err := s.Put(ctx, key, value)
//	// rec.Version is the version assigned to the write
//
// For ranges replicated across several nodes use the dstore package instead, which
// provides a RAFT-based implementation of the same interface.
package lstore
