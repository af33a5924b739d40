// Package internal provides the state machine protocol of the dstore package: the
// commands written to the raft log and the queries answered by Lookup.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
//   - Command System: the only write is Put. A command carries key and value but no
//     version, the version is assigned by the state machine when the entry is applied,
//     which makes the version counter follow the raft log order on every replica.
//     The result of a successful put is the assigned version (EncodePutResult).
//
//   - Query System: Get, MultiGet, ScanPrefix, Version and GetDBInfo. Queries are executed
//     locally on the state machine and therefore do not require serialization.
//
// Command Format:
//
//	- 1 byte: Command type (Put)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Encoded key
//	- M bytes: Value data (optional)
//
// Thread Safety:
//
//	The types in this package are not thread-safe. The raft protocol applies
//	commands sequentially on the state machine.
package internal
