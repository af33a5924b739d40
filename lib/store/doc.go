// Package store provides the replicated storage layer of a single range.
// It serves as an abstraction layer over the lower-level db.KVDB implementations, adding
// version assignment, apply notifications and standardized error reporting.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     the data of one range. Every Put is assigned the next version of the range when it
//     is applied, and the applied record is returned to the caller.
//
//   - ApplyFunc: Called for every applied record in version order. The watch
//     engine hooks its notifier in here, so every replica (leader or not) sees the
//     same sequence of writes.
//
//   - Reader: A non-blocking view of the local replica. The watch registry reads
//     through it while holding its own lock, so it must never wait on consensus.
//
//   - Error System: A structured error reporting mechanism using typed return codes
//     (see RetCode) and descriptive messages. CodeOf extracts the code of any error.
//
//   - DBFactory: A function type that abstracts the creation of the db.KVDB of a range.
//
// Implementations:
//
//	- Local Store (lstore): A non-distributed implementation that directly
//	  utilizes a db.KVDB instance. It is always the leader of its range.
//	  Available in the "github.com/ValentinKolb/dWatch/lib/store/lstore" package.
//
//	- Distributed Store (dstore): An implementation built on the Dragonboat
//	  RAFT consensus library. Each range is one raft shard.
//	  Available in the "github.com/ValentinKolb/dWatch/lib/store/dstore" package.
package store
