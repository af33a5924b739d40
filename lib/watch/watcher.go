package watch

import (
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrRangeRemoved is delivered to all pending watchers when their range is torn down
	// and returned by Register on a closed registry.
	ErrRangeRemoved = errors.New("range removed")

	// ErrNoKeys is returned by Register for a watcher without keys.
	ErrNoKeys = errors.New("watcher has no keys")

	// ErrDuplicateID is returned by Register if a pending watcher already uses the requested id.
	ErrDuplicateID = errors.New("watch id already registered")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Snapshot reads the committed state of a range. It is called while the registry lock
// is held and must observe every record whose Notify has already been issued.
type Snapshot interface {
	Get(key []byte) (rec db.Record, ok bool, err error)
	ScanPrefix(prefix []byte, limit int) (recs []db.Record, err error)
}

// Watcher is a pending interest in the next change of one or more keys or key prefixes.
type Watcher struct {
	ID       uint64         // assigned by Register if zero
	Keys     [][]byte       // encoded keys (or prefixes if Prefix is set)
	Prefix   bool           // match every key below Keys instead of exact keys
	Baseline uint64         // the last version the client has seen
	Deadline time.Time      // the watcher resolves with a timeout after this point (zero = never)
	Target   DeliveryTarget // receives exactly one Event
}

// newer reports whether the record is past the watcher's baseline.
func (w *Watcher) newer(rec db.Record) bool {
	return rec.Version > w.Baseline
}

// RegisterResult is returned by Register. Either Registered is set and the result
// will later be delivered to the watcher's target, or Records holds the immediate answer.
type RegisterResult struct {
	Registered bool
	WatchID    uint64
	Records    []db.Record
	Version    uint64 // highest version among Records
}

// Event is the single outcome delivered to a registered watcher.
type Event struct {
	WatchID uint64
	Records []db.Record
	Version uint64
	Timeout bool  // the deadline passed without a matching write
	Err     error // the range was removed
}

// --------------------------------------------------------------------------
// Delivery Targets
// --------------------------------------------------------------------------

// DeliveryTarget is the handle back to whoever waits for a watcher. The registry
// calls Deliver exactly once per registered watcher, never while holding its lock.
// Implementations must not block for long since they run on the notifier or sweeper goroutine.
type DeliveryTarget interface {
	Deliver(ev Event)
}

// TargetFunc adapts a function to a DeliveryTarget.
type TargetFunc func(ev Event)

func (f TargetFunc) Deliver(ev Event) { f(ev) }

// ChanTarget delivers into a channel with capacity one. Since every watcher is
// resolved exactly once the send never blocks.
type ChanTarget chan Event

// NewChanTarget creates a ChanTarget ready to be used as Watcher.Target.
func NewChanTarget() ChanTarget {
	return make(ChanTarget, 1)
}

func (c ChanTarget) Deliver(ev Event) {
	select {
	case c <- ev:
	default:
		log.Errorf("dropped second event for watcher %d", ev.WatchID)
	}
}

// maxVersion returns the highest version in recs.
func maxVersion(recs []db.Record) uint64 {
	var v uint64
	for _, rec := range recs {
		if rec.Version > v {
			v = rec.Version
		}
	}
	return v
}
