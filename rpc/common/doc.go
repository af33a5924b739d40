// Package common provides the data structures shared by the rpc client, the
// rpc server and the transports of dwatch.
//
// The package focuses on:
//   - Message protocol definition for the put, get, watch and cancel operations
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Requests carry the
//     range epoch, the table id and the raw key parts, the range itself is
//     addressed by the shard id of the transport frame. Responses carry the
//     records, the assigned version or the watch result, and on failure the
//     error message together with the name of its store.RetCode.
//
//   - MessageType: Enumeration of the supported operations. It is serialized as
//     a string in JSON.
//
//   - ServerConfig: Configuration of a node: the ranges it serves, the storage
//     engine, the RAFT parameters, the watch timing and the transport.
//     Provides utilities for converting to Dragonboat-specific configurations.
//
//   - ClientConfig: Configuration for client components, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
