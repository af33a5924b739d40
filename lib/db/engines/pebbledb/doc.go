/*
Package pebbledb implements db.KVDB on top of cockroachdb/pebble.

Records are stored under a one byte data prefix with the value encoded as
[8 byte big-endian version][value]. The database version is stored under a separate
meta key and written in the same batch as every Put.

Scan maps the requested [start, end) interval onto pebble iterator bounds, Save streams
a pebble snapshot, so writers are never blocked by a running raft snapshot.

For tests the engine can run on pebble's in-memory file system (DBOptions.InMemory).
*/
package pebbledb
