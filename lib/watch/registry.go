package watch

import (
	"bytes"
	"sync"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/util"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("watch")

const (
	defaultSweepInterval = 100 * time.Millisecond
	prefixTreeDegree     = 16
)

// --------------------------------------------------------------------------
// Index Types
// --------------------------------------------------------------------------

// bucket groups all watchers interested in the same key or prefix
type bucket map[uint64]*Watcher

// prefixBucket is the btree item of the prefix index
type prefixBucket struct {
	prefix   []byte
	watchers bucket
}

// Less implements btree.Item
func (p *prefixBucket) Less(than btree.Item) bool {
	return bytes.Compare(p.prefix, than.(*prefixBucket).prefix) < 0
}

// delivery is an event computed under the lock and handed out after unlocking
type delivery struct {
	target DeliveryTarget
	event  Event
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry holds the pending watchers of one range.
//
// All index mutations happen under a single mutex. A watcher is resolved by whoever
// removes it from byID first (Notify, Expire, Cancel or Close), which makes delivery
// exactly-once even when those race. The actual Deliver call is made after the lock
// is released.
type Registry struct {
	rangeID uint64
	snap    Snapshot

	mu        sync.Mutex
	nextID    uint64
	byID      map[uint64]*Watcher
	exact     map[string]bucket
	prefixes  *btree.BTree
	deadlines *util.MapHeap
	closed    bool

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     sync.WaitGroup

	metrics *rangeMetrics
}

// Options configures a Registry
type Options struct {
	SweepInterval time.Duration // interval of the expiry sweep (0 = use default: 100ms)
}

// NewRegistry creates the registry of a range. Start must be called to run the expiry sweep.
func NewRegistry(rangeID uint64, snap Snapshot, opts *Options) *Registry {
	if opts == nil {
		opts = &Options{}
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Registry{
		rangeID:       rangeID,
		snap:          snap,
		nextID:        util.GenerateSeed() >> 16,
		byID:          make(map[uint64]*Watcher),
		exact:         make(map[string]bucket),
		prefixes:      btree.New(prefixTreeDegree),
		deadlines:     util.NewMapHeap(),
		sweepInterval: interval,
		stopSweep:     make(chan struct{}),
		metrics:       newRangeMetrics(rangeID),
	}
}

// --------------------------------------------------------------------------
// Register
// --------------------------------------------------------------------------

// Register answers the watcher immediately if any record of its key set is newer than
// the baseline, otherwise stores it. The snapshot read and the insertion happen in the
// same critical section as Notify, so a write is either visible to the read or notified
// to the inserted watcher.
func (r *Registry) Register(w *Watcher) (RegisterResult, error) {
	if len(w.Keys) == 0 {
		return RegisterResult{}, ErrNoKeys
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RegisterResult{}, ErrRangeRemoved
	}

	current, err := r.readLocked(w)
	if err != nil {
		return RegisterResult{}, errors.Wrap(err, "read current records")
	}

	var newer []db.Record
	for _, rec := range current {
		if w.newer(rec) {
			newer = append(newer, rec)
		}
	}
	if len(newer) > 0 {
		r.metrics.immediate.Inc()
		return RegisterResult{Records: newer, Version: maxVersion(newer)}, nil
	}

	if w.ID == 0 {
		r.nextID++
		w.ID = r.nextID
	}
	if _, dup := r.byID[w.ID]; dup {
		return RegisterResult{}, errors.Wrapf(ErrDuplicateID, "watch %d", w.ID)
	}
	r.insertLocked(w)
	r.metrics.registered.Inc()
	r.metrics.pending.Inc()

	return RegisterResult{Registered: true, WatchID: w.ID}, nil
}

// readLocked loads the current records of the watcher's key set
func (r *Registry) readLocked(w *Watcher) ([]db.Record, error) {
	var out []db.Record
	for _, key := range w.Keys {
		if w.Prefix {
			recs, err := r.snap.ScanPrefix(key, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
			continue
		}
		rec, ok, err := r.snap.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Registry) insertLocked(w *Watcher) {
	r.byID[w.ID] = w
	for _, key := range w.Keys {
		if w.Prefix {
			probe := &prefixBucket{prefix: key}
			if item := r.prefixes.Get(probe); item != nil {
				item.(*prefixBucket).watchers[w.ID] = w
				continue
			}
			r.prefixes.ReplaceOrInsert(&prefixBucket{prefix: bytes.Clone(key), watchers: bucket{w.ID: w}})
			continue
		}
		b, ok := r.exact[string(key)]
		if !ok {
			b = make(bucket)
			r.exact[string(key)] = b
		}
		b[w.ID] = w
	}
	if !w.Deadline.IsZero() {
		r.deadlines.AddItem(w.ID, uint64(w.Deadline.UnixNano()))
	}
}

// removeLocked drops the watcher from every index. It returns false if the watcher
// was already resolved.
func (r *Registry) removeLocked(id uint64) (*Watcher, bool) {
	w, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)

	for _, key := range w.Keys {
		if w.Prefix {
			item := r.prefixes.Get(&prefixBucket{prefix: key})
			if item == nil {
				continue
			}
			pb := item.(*prefixBucket)
			delete(pb.watchers, id)
			if len(pb.watchers) == 0 {
				r.prefixes.Delete(pb)
			}
			continue
		}
		if b, ok := r.exact[string(key)]; ok {
			delete(b, id)
			if len(b) == 0 {
				delete(r.exact, string(key))
			}
		}
	}
	r.deadlines.RemoveByKey(id)
	r.metrics.pending.Dec()
	return w, true
}

// --------------------------------------------------------------------------
// Notify
// --------------------------------------------------------------------------

// Notify delivers a committed record to every pending watcher whose exact key equals
// the record key or whose prefix contains it, provided the record is newer than the
// watcher's baseline. Delivered watchers are removed from all their keys.
func (r *Registry) Notify(rec db.Record) {
	start := time.Now()

	r.mu.Lock()
	var candidates []*Watcher
	if b, ok := r.exact[string(rec.Key)]; ok {
		for _, w := range b {
			candidates = append(candidates, w)
		}
	}
	for _, pb := range r.matchPrefixesLocked(rec.Key) {
		for _, w := range pb.watchers {
			candidates = append(candidates, w)
		}
	}

	var out []delivery
	for _, w := range candidates {
		if !w.newer(rec) {
			continue
		}
		// a multi-key watcher may be reached through more than one bucket
		if _, ok := r.removeLocked(w.ID); !ok {
			continue
		}
		out = append(out, delivery{
			target: w.Target,
			event:  Event{WatchID: w.ID, Records: []db.Record{rec}, Version: rec.Version},
		})
	}
	r.mu.Unlock()

	r.deliver(out)
	r.metrics.notified.Add(len(out))
	r.metrics.notifyDuration.UpdateDuration(start)
}

// matchPrefixesLocked returns every prefix bucket whose prefix is a prefix of key.
//
// The tree is walked downwards from key. Matching prefixes are collected. On the first
// entry that is not a prefix of key, every remaining match must be a prefix of the common
// part of key and that entry, so the walk restarts from there. Each restart strictly
// lowers the pivot, which bounds the walk by the number of matches plus the key length.
func (r *Registry) matchPrefixesLocked(key []byte) []*prefixBucket {
	var out []*prefixBucket
	pivot := key
	for {
		var restart []byte
		stopped := false
		r.prefixes.DescendLessOrEqual(&prefixBucket{prefix: pivot}, func(i btree.Item) bool {
			pb := i.(*prefixBucket)
			if bytes.HasPrefix(key, pb.prefix) {
				out = append(out, pb)
				return true
			}
			restart = key[:commonPrefixLen(key, pb.prefix)]
			stopped = true
			return false
		})
		if !stopped {
			return out
		}
		pivot = restart
	}
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// --------------------------------------------------------------------------
// Expire, Cancel, Close
// --------------------------------------------------------------------------

// Expire resolves every watcher whose deadline is at or before now with a timeout.
func (r *Registry) Expire(now time.Time) int {
	r.mu.Lock()
	var out []delivery
	for _, id := range r.deadlines.PopDue(uint64(now.UnixNano())) {
		w, ok := r.removeLocked(id)
		if !ok {
			continue
		}
		out = append(out, delivery{target: w.Target, event: Event{WatchID: id, Timeout: true}})
	}
	r.mu.Unlock()

	r.deliver(out)
	r.metrics.expired.Add(len(out))
	return len(out)
}

// Cancel removes a pending watcher without delivering anything.
// It returns false if the watcher is unknown or already resolved.
func (r *Registry) Cancel(id uint64) bool {
	r.mu.Lock()
	_, ok := r.removeLocked(id)
	r.mu.Unlock()

	if ok {
		r.metrics.cancelled.Inc()
	}
	return ok
}

// Pending returns the number of pending watchers.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Start launches the expiry sweep.
func (r *Registry) Start() {
	r.sweepDone.Add(1)
	go r.sweep()
}

func (r *Registry) sweep() {
	defer r.sweepDone.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := r.Expire(now); n > 0 {
				log.Debugf("range %d: expired %d watchers", r.rangeID, n)
			}
		case <-r.stopSweep:
			return
		}
	}
}

// Close stops the sweep and resolves all pending watchers with ErrRangeRemoved.
// Register fails with ErrRangeRemoved afterwards. Close is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	var out []delivery
	for id := range r.byID {
		w, _ := r.removeLocked(id)
		out = append(out, delivery{target: w.Target, event: Event{WatchID: id, Err: ErrRangeRemoved}})
	}
	r.mu.Unlock()

	close(r.stopSweep)
	r.sweepDone.Wait()

	r.deliver(out)
	if len(out) > 0 {
		log.Infof("range %d: resolved %d pending watchers on close", r.rangeID, len(out))
	}
}

func (r *Registry) deliver(out []delivery) {
	for _, d := range out {
		if d.target != nil {
			d.target.Deliver(d.event)
		}
	}
}
