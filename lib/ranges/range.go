package ranges

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/watch"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Epoch identifies the membership and boundary generation of a range.
type Epoch struct {
	ConfVer uint64
	Version uint64
}

func (e Epoch) String() string {
	return fmt.Sprintf("%d/%d", e.ConfVer, e.Version)
}

// Config describes a range hosted by a node.
type Config struct {
	ID      uint64
	TableID uint64
	Start   []byte // encoded start key (inclusive)
	End     []byte // encoded end key (exclusive), empty = unbounded
	Epoch   Epoch
}

// StoreFactory creates the store of a range. onApply must be called for every applied record.
type StoreFactory func(cfg Config, onApply store.ApplyFunc) (store.IStore, error)

// leadership override of a range
const (
	leaderFromStore int32 = iota
	leaderForced
	followerForced
)

// --------------------------------------------------------------------------
// Range
// --------------------------------------------------------------------------

// Range is one contiguous, replicated shard of the keyspace hosted by this node.
// It owns the store, the watcher registry and the notifier of the shard.
//
// Thread-safety: All methods are safe for concurrent use.
type Range struct {
	id      uint64
	tableID uint64
	start   []byte
	end     []byte

	epochMu sync.RWMutex
	epoch   Epoch

	leader atomic.Int32

	store    store.IStore
	registry *watch.Registry
	notifier *watch.Notifier
	metrics  *rangeMetrics

	closeOnce sync.Once
}

// newRange wires registry, notifier and store of a range. The registry reads the
// local replica of the store, the store publishes every applied record to the notifier.
func newRange(cfg Config, factory StoreFactory, opts *Options) (*Range, error) {
	r := &Range{
		id:      cfg.ID,
		tableID: cfg.TableID,
		start:   bytes.Clone(cfg.Start),
		end:     bytes.Clone(cfg.End),
		epoch:   cfg.Epoch,
		metrics: newRangeMetrics(cfg.ID),
	}

	r.registry = watch.NewRegistry(cfg.ID, rangeSnapshot{r}, &watch.Options{SweepInterval: opts.SweepInterval})
	r.notifier = watch.NewNotifier(r.registry)

	s, err := factory(cfg, func(rec db.Record) {
		if !r.notifier.Publish(rec) {
			log.Warningf("range %d: record version %d applied after close", r.id, rec.Version)
		}
	})
	if err != nil {
		r.notifier.Close()
		r.registry.Close()
		return nil, err
	}
	r.store = s
	r.registry.Start()
	return r, nil
}

// rangeSnapshot reads the local replica of the range store on behalf of the registry.
type rangeSnapshot struct {
	r *Range
}

func (s rangeSnapshot) Get(key []byte) (db.Record, bool, error) {
	return s.r.store.Local().Get(key)
}

func (s rangeSnapshot) ScanPrefix(prefix []byte, limit int) ([]db.Record, error) {
	return s.r.store.Local().ScanPrefix(prefix, limit)
}

// ID returns the range id.
func (r *Range) ID() uint64 { return r.id }

// TableID returns the table the range belongs to.
func (r *Range) TableID() uint64 { return r.tableID }

// Epoch returns the current epoch of the range.
func (r *Range) Epoch() Epoch {
	r.epochMu.RLock()
	defer r.epochMu.RUnlock()
	return r.epoch
}

// SetEpoch replaces the epoch, requests with the old epoch are rejected afterwards.
func (r *Range) SetEpoch(e Epoch) {
	r.epochMu.Lock()
	r.epoch = e
	r.epochMu.Unlock()
}

// SetLeader forces the leadership flag of the local replica.
func (r *Range) SetLeader(isLeader bool) {
	if isLeader {
		r.leader.Store(leaderForced)
	} else {
		r.leader.Store(followerForced)
	}
}

// ClearLeader removes a forced leadership flag, leadership is taken from the store again.
func (r *Range) ClearLeader() {
	r.leader.Store(leaderFromStore)
}

// IsLeader reports whether the local replica leads the range.
func (r *Range) IsLeader() bool {
	switch r.leader.Load() {
	case leaderForced:
		return true
	case followerForced:
		return false
	}
	isLeader, _ := r.store.Leader()
	return isLeader
}

// Contains reports whether an encoded key lies in [start, end).
func (r *Range) Contains(key []byte) bool {
	if bytes.Compare(key, r.start) < 0 {
		return false
	}
	return len(r.end) == 0 || bytes.Compare(key, r.end) < 0
}

// Store returns the store of the range.
func (r *Range) Store() store.IStore { return r.store }

// Pending returns the number of pending watchers.
func (r *Range) Pending() int { return r.registry.Pending() }

// Backlog returns the number of applied records the notifier has not processed yet.
func (r *Range) Backlog() int { return r.notifier.Backlog() }

// --------------------------------------------------------------------------
// Operations on encoded keys (admission is done by the Node)
// --------------------------------------------------------------------------

func (r *Range) checkKeys(ks ...[]byte) error {
	for _, k := range ks {
		if !r.Contains(k) {
			return store.NewError(store.RetCEpochStale, fmt.Sprintf("key not in range %d", r.id))
		}
	}
	return nil
}

func (r *Range) put(ctx context.Context, key, value []byte) (db.Record, error) {
	if err := r.checkKeys(key); err != nil {
		return db.Record{}, err
	}
	start := time.Now()
	rec, err := r.store.Put(ctx, key, value)
	if err != nil {
		r.metrics.putFailed.Inc()
		return db.Record{}, err
	}
	r.metrics.put.Inc()
	r.metrics.putDuration.UpdateDuration(start)
	return rec, nil
}

func (r *Range) get(mode GetMode, ks [][]byte, limit int) ([]db.Record, error) {
	if len(ks) == 0 {
		return nil, store.NewError(store.RetCMalformedKey, "no key given")
	}
	if err := r.checkKeys(ks...); err != nil {
		return nil, err
	}
	r.metrics.get.Inc()

	switch mode {
	case GetSingle:
		rec, ok, err := r.store.Get(ks[0])
		if err != nil || !ok {
			return nil, err
		}
		return []db.Record{rec}, nil
	case GetMulti:
		return r.store.MultiGet(ks)
	case GetPrefix:
		return r.store.Scan(ks[0], limit)
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown get mode %d", mode))
	}
}

func (r *Range) watch(w *watch.Watcher) (watch.RegisterResult, error) {
	if err := r.checkKeys(w.Keys...); err != nil {
		return watch.RegisterResult{}, err
	}
	res, err := r.registry.Register(w)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, watch.ErrRangeRemoved):
		return res, store.NewError(store.RetCRangeNotFound, err.Error())
	case errors.Is(err, watch.ErrNoKeys):
		return res, store.NewError(store.RetCMalformedKey, err.Error())
	case errors.Is(err, watch.ErrDuplicateID):
		return res, store.NewError(store.RetCInvalidOperation, err.Error())
	default:
		return res, store.NewError(store.CodeOf(err), err.Error())
	}
}

func (r *Range) cancel(watchID uint64) bool {
	return r.registry.Cancel(watchID)
}

// close resolves all pending watchers with watch.ErrRangeRemoved and closes the store.
// The registry is closed before the notifier is drained, records still in flight find no watchers.
func (r *Range) close() error {
	var err error
	r.closeOnce.Do(func() {
		r.registry.Close()
		err = r.store.Close()
		r.notifier.Close()
	})
	return err
}
