// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface and for the watch engine.
//
// The package contains:
//   - snapshot: the engine independent snapshot stream written by Save and read by Load
//   - statistics: Utility tools for analyzing database characteristics and a SizeHistogram for tracking data size distribution
//   - functions: seed generation
//   - mapheap: A priority queue that also supports key-based access, used for watcher deadlines
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue implementation build for high throughput and low latency,
//     used to hand committed records from the apply path to the notifier
package util
