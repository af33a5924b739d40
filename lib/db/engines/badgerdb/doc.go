/*
Package badgerdb implements db.KVDB on top of dgraph-io/badger.

Records are stored under a one byte data prefix with the value encoded as
[8 byte big-endian version][value]. The database version is stored under a separate
meta key and updated in the same transaction as every Put, so it survives restarts.

Puts are serialized with a mutex, which keeps the read-compare-write for stale version
detection free of badger transaction conflicts. Reads use badger's MVCC snapshots and
run concurrently.

Snapshots (Save/Load) use the engine independent stream format of the util package.
*/
package badgerdb
