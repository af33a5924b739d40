// Package dstore implements the replicated range store using the Dragonboat RAFT
// consensus library. Every range is one raft shard, the shard id is the range id.
// It provides a strongly consistent implementation of the store.IStore interface.
//
// Architecture:
//
// The dstore implementation consists of four components:
//
//   - Store Client: Implements the store.IStore interface and communicates with
//     the RAFT cluster. It serializes puts into commands, sends them to the
//     consensus layer, and processes responses.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation that applies
//     commands and answers queries on each node. The state machine contains the
//     db.KVDB of the range and assigns versions.
//
//   - Apply Router: Dragonboat creates state machines through a factory, so the apply
//     listener of a range is looked up by shard id in a node-wide ApplyRouter.
//
//   - Leader Tracker: A raftio.IRaftEventListener that remembers the leader and term of
//     every shard. The range admission gate asks it whether the local replica leads.
//
// Write Operations:
//
//	1. The put is serialized into a Command (key and value, no version)
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. Once committed, each replica applies it in Update: version = raft entry index,
//	   db.Put, then the record is dispatched to the apply listener. Entries at or below
//	   db.Version() were applied before a restart and are skipped
//	4. The assigned version is returned to the proposer in the entry result
//
//	A proposal that fails or times out never reaches Update and no watcher is notified.
//	Versions have gaps (config changes and leader no-ops also take an index) but never
//	go backwards.
//
// Read Operations:
//
//   - Linearizable Reads: Get, MultiGet and Scan use SyncRead.
//
//   - Stale Reads: The local reader (IStore.Local), Version and GetDBInfo use StaleRead.
//     The watch registry reads through the local reader while holding its lock, so it
//     must never wait for the leader.
//
// Error Handling and Retries:
//
//   - System Busy: When Dragonboat returns ErrSystemBusy, the operation is retried
//     after a short delay, up to a fixed number of attempts.
//
//   - Timeouts: All operations have a configurable timeout and fail with RetCTimeout.
//     Other proposal errors map to RetCProposalFailed.
//
// Snapshotting and Recovery:
//
//	Snapshots are fuzzy and delegate to db.KVDB Save/Load. The snapshot carries the
//	version of the range, so a recovered replica continues the same version sequence.
//
// Usage:
//
//	tracker := dstore.NewLeaderTracker()
//	nhConfig.RaftEventListener = tracker
//	nh, err := dragonboat.NewNodeHost(nhConfig)
//	if err != nil { ... }
//
//	host := &dstore.ShardHost{
//		NodeHost:  nh,
//		Router:    dstore.NewApplyRouter(),
//		Tracker:   tracker,
//		DBFactory: func(rangeID uint64) db.KVDB { return memtree.NewMemTreeDB(nil) },
//		Timeout:   5 * time.Second,
//	}
//	s, err := host.Start(members, false, shardConfig, func(rec db.Record) { notifier.Publish(rec) })
package dstore
