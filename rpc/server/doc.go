// Package server implements the RPC server of dwatch. It hosts the ranges of a
// node (ranges.Node) and answers put, get, watch and cancel requests arriving
// on any transport.
//
// The package focuses on:
//   - Server-side RPC request handling on top of the range admission gate
//   - Adapter pattern to decouple the range logic from RPC mechanisms
//   - Flexible range configuration with local and raft replicated stores
//   - Selection of the storage engine (memtree, pebble, badger)
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes an incoming request for a range.
//
//   - NewRangesServerAdapter: Adapter translating messages into ranges.Node calls.
//     A watch is answered as a long poll: the handler blocks on the watcher's
//     delivery target until the record arrives, the long pull ends or the range
//     is removed. Errors travel as the name of their store.RetCode.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
//   - NewDBFactory: Opens the database of every range with the configured engine.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Ranges: []common.RangeConfig{
//	    {ID: 1, TableID: 1, Start: keys.TablePrefix(1), ConfVer: 1, Version: 1, Type: common.RangeTypeLocal},
//	  },
//	  Engine:        server.EngineMemTree,
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports two types of ranges, which can be mixed within a single server:
//
//   - RangeTypeLocal: A local store, suitable for single-node deployments or
//     development environments. The node always leads the range.
//
//   - RangeTypeRaft: A range replicated with Raft consensus. When using this type,
//     RAFT configuration (RTTMillisecond, SnapshotEntries, CompactionOverhead,
//     DataDir, ReplicaID, and ClusterMembers) must be properly configured. Only
//     the leader replica admits requests.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Each request is processed independently.
//	Serve is not thread-safe and should be called only once.
package server
