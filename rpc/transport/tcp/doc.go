// Package tcp implements the TCP socket transport of the dwatch RPC layer. It
// provides concrete implementations of the base package's connector interfaces
// for TCP connections.
//
// This package builds on the base package's transport functionality, inheriting its
// performance optimizations including connection pooling, buffer reuse, and request
// routing. See the base package documentation for detailed information on the underlying
// transport mechanisms and performance characteristics.
//
// Key Components:
//
//   - clientConnector: TCP specific implementation of base.IClientConnector
//
//   - serverConnector: TCP specific implementation of base.IServerConnector
//
// Both sides apply the SocketConf and TCPConf settings of their configuration
// (no delay, buffer sizes, keep-alive and linger) to every connection.
package tcp
