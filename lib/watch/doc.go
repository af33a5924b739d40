/*
Package watch implements the per-range watcher registry and notification pipeline.

A client watches one or more encoded keys (or key prefixes) together with the last version
it has seen (the baseline). The registry either answers at once, when the range already holds
a newer record for the key set, or keeps the watcher until one of three things happens:

  - a newer record for one of its keys commits (Notify): the record is delivered
  - its deadline passes (Expire, run by a timer driven sweep): a timeout is delivered
  - the range is torn down (Close): ErrRangeRemoved is delivered

Cancel drops a watcher without delivering anything.

Guarantees:

  - Exactly once: a watcher receives one outcome only. Whoever removes it from the
    registry first delivers, the other paths find nothing.
  - No lost wakeups: Register reads the current records and inserts the watcher in one
    critical section that Notify also takes. The apply path writes to storage before it
    publishes the record, so a write is either seen by the read or notified afterwards.
  - First match wins: a multi-key watcher is resolved by the first matching write and
    removed from all of its keys.
  - Ordering: the Notifier drains a lock-free MPSC queue from a single goroutine, so
    records of a range are notified in version order and the apply path never blocks on
    delivery.

Indexes: exact keys live in a hash map, prefixes in a google/btree which allows finding
all prefixes of a record key with a short descending walk, and deadlines in a keyed
min-heap (util.MapHeap).

Every registry exports VictoriaMetrics counters labelled with its range id
(dwatch_watch_registered_total, dwatch_watch_pending, ...).

Usage:

	reg := watch.NewRegistry(rangeID, snapshot, nil)
	reg.Start()
	notifier := watch.NewNotifier(reg)

	target := watch.NewChanTarget()
	res, err := reg.Register(&watch.Watcher{Keys: [][]byte{key}, Baseline: v, Deadline: d, Target: target})
	if err == nil && res.Registered {
		ev := <-target
	}

	// apply path
	database.Put(key, value, version)
	notifier.Publish(db.Record{Key: key, Value: value, Version: version})
*/
package watch
