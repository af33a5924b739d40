// Package ranges hosts the ranges of a node and implements the request entry points
// Put, Get and Watch (plus Cancel).
//
// A Range owns the store of its shard, the watcher registry and the notifier that couples
// both: the store publishes every applied record to the notifier, the notifier feeds the
// registry in version order, and the registry reads the local replica of the store when a
// watcher registers. Ranges never share watcher state.
//
// Every request first passes the admission gate of the Node:
//
//  1. the range must be hosted by this node (RetCRangeNotFound)
//  2. the local replica must lead the range (RetCNotLeader)
//  3. the request epoch must match the range epoch (RetCEpochStale)
//
// After the gate the encoded keys must lie inside [Start, End) of the range, a key outside
// is reported as RetCEpochStale as well since the client routed with an outdated range map.
//
// Keys arrive as parts and are encoded with the keys package. A request with more than one
// part addresses a grouped key, except for multi-key gets and watches where every part is
// a key of its own.
//
// Example:
//
//	node := ranges.NewNode(ranges.LocalStores(dbFactory), nil)
//	_, err := node.CreateRange(ranges.Config{ID: 1, TableID: 1, Start: start, End: end, Epoch: ranges.Epoch{ConfVer: 1, Version: 1}})
//
//	hdr := ranges.Header{RangeID: 1, Epoch: ranges.Epoch{ConfVer: 1, Version: 1}}
//	rec, err := node.Put(ctx, ranges.PutRequest{Header: hdr, TableID: 1, Parts: [][]byte{[]byte("01003001")}, Value: v})
//
//	target := watch.NewChanTarget()
//	res, err := node.Watch(ranges.WatchRequest{Header: hdr, TableID: 1, Parts: parts, StartVersion: rec.Version}, target)
//	if res.Registered {
//		ev := <-target
//	}
package ranges
