package watch

import (
	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/util"
)

// Notifier decouples the apply path of a range from watcher delivery.
//
// The apply path publishes every committed record after it was written to storage.
// A single goroutine drains the queue and calls Registry.Notify, so records are
// notified in the order they were published (which is version order, since a range
// applies its entries sequentially).
type Notifier struct {
	registry *Registry
	queue    *util.LockFreeMPSC[db.Record]
	done     chan struct{}
}

// NewNotifier starts the notifier goroutine for the registry.
func NewNotifier(registry *Registry) *Notifier {
	n := &Notifier{
		registry: registry,
		queue:    util.NewLockFreeMPSC[db.Record](),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for batch := range n.queue.RecvBatch() {
		for _, rec := range batch {
			n.registry.Notify(rec)
		}
	}
}

// Publish hands a committed record to the notifier. It never blocks.
// The record must not be modified afterwards. Returns false after Close.
func (n *Notifier) Publish(rec db.Record) bool {
	return n.queue.Push(rec)
}

// Backlog returns the number of published records that were not yet notified.
func (n *Notifier) Backlog() int {
	return n.queue.Len()
}

// Close stops accepting records and waits until all published records were notified.
func (n *Notifier) Close() {
	n.queue.Close()
	<-n.done
}
