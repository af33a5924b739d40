// Package unix implements the Unix domain socket transport of the dwatch RPC layer,
// for clients on the same machine as the server.
//
// The connectors only dial and listen, everything else (framing, request ids,
// connection pooling, workers per connection) comes from the base package. The
// socket file is removed before listening and after the transport is closed.
// Socket and TCP options of the configuration are ignored.
package unix
