// Package client implements the RPC client of dwatch. It sends put, get, watch
// and cancel requests to the ranges served by dwatch nodes.
//
// The package focuses on:
//   - Transparent RPC access to the ranges of a cluster
//   - Integration with the transport and serialization layers
//   - Conversion of server errors back into *store.Error values
//
// Key Components:
//
//   - NewRPCClient: Factory function that connects the transport and returns an
//     RPCClient.
//
//   - RangeRef: Addresses a range (id, table, epoch). Requests with a stale epoch or
//     sent to a follower are rejected by the server, IsRetryable tells these apart
//     from permanent failures.
//
//   - Watch and Follow: Watch is a long poll. It returns the records newer than the
//     start version, immediately if the range already holds them, otherwise as soon
//     as a matching put is applied or with Timeout set after the long pull. Follow
//     re-arms the watch in a loop.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	c, _ := client.NewRPCClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	ref := client.RangeRef{RangeID: 1, TableID: 1, Epoch: common.Epoch{ConfVer: 1, Version: 1}}
//
//	version, _ := c.Put(ctx, ref, [][]byte{[]byte("01003")}, []byte("value"))
//	res, _ := c.Watch(ctx, ref, [][]byte{[]byte("01003")}, client.WatchOptions{StartVersion: version})
//
// Performance Considerations:
//
//   - A pending watch occupies a worker slot of its connection on the server. Clients
//     holding many watches should raise ConnectionsPerEndpoint or the server's
//     workers per connection.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The client is thread-safe and can be used concurrently from multiple goroutines
//	without additional synchronization.
package client
