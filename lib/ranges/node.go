package ranges

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/watch"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("ranges")

const defaultLongPull = 30 * time.Second

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// GetMode selects how the keys of a GetRequest are interpreted.
type GetMode uint8

const (
	GetSingle GetMode = iota // the parts form one key, return its record
	GetMulti                 // every part is a key of its own, return the existing records
	GetPrefix                // the parts form one key prefix, return all records below it
)

func (m GetMode) String() string {
	switch m {
	case GetSingle:
		return "single"
	case GetMulti:
		return "multi"
	case GetPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Header addresses a range. Every request passes the admission gate with it.
type Header struct {
	RangeID uint64
	Epoch   Epoch
}

// PutRequest writes one value. More than one part is encoded as a grouped key.
type PutRequest struct {
	Header
	TableID uint64
	Parts   [][]byte
	Value   []byte
}

// GetRequest reads the current records of a key, a key list or a prefix.
type GetRequest struct {
	Header
	TableID uint64
	Parts   [][]byte
	Mode    GetMode
	Limit   int // only used by GetPrefix (0 = unbounded)
}

// WatchRequest waits for the next change of a key, a key list (Multi) or a prefix.
type WatchRequest struct {
	Header
	TableID      uint64
	Parts        [][]byte
	Multi        bool          // every part is a key of its own (first match wins)
	Prefix       bool          // the parts form a key prefix
	StartVersion uint64        // the last version the client has seen
	LongPull     time.Duration // 0 = node default
	WatchID      uint64        // 0 = chosen by the registry
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Options configures a Node
type Options struct {
	DefaultLongPull time.Duration // long poll of watches without one (0 = use default: 30s)
	SweepInterval   time.Duration // expiry sweep interval of every range registry (0 = registry default)
}

// Node hosts the ranges of one server and is the entry point of all requests.
// Every request passes the admission gate (range lookup, leadership, epoch) before
// anything is proposed, read or registered.
//
// Thread-safety: All methods are safe for concurrent use.
type Node struct {
	ranges  *xsync.MapOf[uint64, *Range]
	factory StoreFactory
	opts    Options
}

// NewNode creates an empty node whose ranges are backed by stores of the factory.
func NewNode(factory StoreFactory, opts *Options) *Node {
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	if o.DefaultLongPull <= 0 {
		o.DefaultLongPull = defaultLongPull
	}
	return &Node{
		ranges:  xsync.NewMapOf[uint64, *Range](),
		factory: factory,
		opts:    o,
	}
}

// DefaultLongPull returns the long poll of watches that do not set one.
func (n *Node) DefaultLongPull() time.Duration { return n.opts.DefaultLongPull }

// CreateRange starts hosting a range.
func (n *Node) CreateRange(cfg Config) (*Range, error) {
	if len(cfg.End) > 0 && bytes.Compare(cfg.Start, cfg.End) >= 0 {
		return nil, errors.Newf("range %d: start key must be below end key", cfg.ID)
	}

	var (
		created *Range
		err     error
	)
	n.ranges.Compute(cfg.ID, func(old *Range, loaded bool) (*Range, bool) {
		if loaded {
			err = errors.Newf("range %d already exists", cfg.ID)
			return old, false
		}
		created, err = newRange(cfg, n.factory, &n.opts)
		if err != nil {
			return nil, true
		}
		return created, false
	})
	if err != nil {
		return nil, err
	}
	log.Infof("created range %d (table %d, epoch %s)", cfg.ID, cfg.TableID, cfg.Epoch)
	return created, nil
}

// RemoveRange stops hosting a range. Its pending watchers are resolved with watch.ErrRangeRemoved.
func (n *Node) RemoveRange(id uint64) error {
	r, ok := n.ranges.LoadAndDelete(id)
	if !ok {
		return store.NewError(store.RetCRangeNotFound, fmt.Sprintf("range %d not found", id))
	}
	log.Infof("removing range %d with %d pending watchers and %d records to notify", id, r.Pending(), r.Backlog())
	return r.close()
}

// Find returns a hosted range.
func (n *Node) Find(id uint64) (*Range, bool) {
	return n.ranges.Load(id)
}

// Ranges returns all hosted ranges (in no particular order).
func (n *Node) Ranges() []*Range {
	out := make([]*Range, 0, n.ranges.Size())
	n.ranges.Range(func(_ uint64, r *Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Close removes all ranges.
func (n *Node) Close() error {
	var errs error
	for _, r := range n.Ranges() {
		if err := n.RemoveRange(r.ID()); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// admit is the admission gate shared by all requests.
func (n *Node) admit(h Header) (*Range, error) {
	r, ok := n.ranges.Load(h.RangeID)
	if !ok {
		return nil, n.reject(h, store.RetCRangeNotFound, fmt.Sprintf("range %d not found", h.RangeID))
	}
	if !r.IsLeader() {
		return nil, n.reject(h, store.RetCNotLeader, fmt.Sprintf("not leader of range %d", h.RangeID))
	}
	if e := r.Epoch(); e != h.Epoch {
		return nil, n.reject(h, store.RetCEpochStale, fmt.Sprintf("stale epoch %s of range %d (current %s)", h.Epoch, h.RangeID, e))
	}
	return r, nil
}

func (n *Node) reject(h Header, code store.RetCode, msg string) error {
	rejectedCounter(code).Inc()
	log.Debugf("rejected request for range %d: %s", h.RangeID, msg)
	return store.NewError(code, msg)
}

// --------------------------------------------------------------------------
// Entry Points
// --------------------------------------------------------------------------

// Put admits the request, replicates the write and returns the applied record with its version.
func (n *Node) Put(ctx context.Context, req PutRequest) (db.Record, error) {
	r, err := n.admit(req.Header)
	if err != nil {
		return db.Record{}, err
	}
	key, err := encodeKey(req.TableID, req.Parts)
	if err != nil {
		return db.Record{}, err
	}
	return r.put(ctx, key, req.Value)
}

// Get admits the request and reads the current records. It never registers a watcher.
func (n *Node) Get(req GetRequest) ([]db.Record, error) {
	r, err := n.admit(req.Header)
	if err != nil {
		return nil, err
	}

	var ks [][]byte
	if req.Mode == GetMulti {
		ks, err = encodeEach(req.TableID, req.Parts)
	} else {
		var key []byte
		key, err = encodeKey(req.TableID, req.Parts)
		ks = [][]byte{key}
	}
	if err != nil {
		return nil, err
	}
	return r.get(req.Mode, ks, req.Limit)
}

// Watch admits the request and registers a watcher. If the range already holds a record newer
// than the start version the result carries it and the target is never called. Otherwise the
// target receives exactly one event: the next matching record, a timeout after the long poll,
// or watch.ErrRangeRemoved.
func (n *Node) Watch(req WatchRequest, target watch.DeliveryTarget) (watch.RegisterResult, error) {
	r, err := n.admit(req.Header)
	if err != nil {
		return watch.RegisterResult{}, err
	}

	var ks [][]byte
	if req.Multi {
		ks, err = encodeEach(req.TableID, req.Parts)
	} else {
		var key []byte
		key, err = encodeKey(req.TableID, req.Parts)
		ks = [][]byte{key}
	}
	if err != nil {
		return watch.RegisterResult{}, err
	}

	longPull := req.LongPull
	if longPull <= 0 {
		longPull = n.opts.DefaultLongPull
	}
	return r.watch(&watch.Watcher{
		ID:       req.WatchID,
		Keys:     ks,
		Prefix:   req.Prefix,
		Baseline: req.StartVersion,
		Deadline: time.Now().Add(longPull),
		Target:   target,
	})
}

// Cancel drops a pending watcher without delivering anything.
// It returns false if the watcher was already resolved.
func (n *Node) Cancel(rangeID, watchID uint64) (bool, error) {
	r, ok := n.ranges.Load(rangeID)
	if !ok {
		return false, store.NewError(store.RetCRangeNotFound, fmt.Sprintf("range %d not found", rangeID))
	}
	return r.cancel(watchID), nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// encodeKey encodes the parts as one key, grouped if there is more than one part.
func encodeKey(tableID uint64, parts [][]byte) ([]byte, error) {
	key, err := keys.Encode(tableID, parts, len(parts) > 1)
	if err != nil {
		return nil, store.NewError(store.RetCMalformedKey, err.Error())
	}
	return key, nil
}

// encodeEach encodes every part as a key of its own.
func encodeEach(tableID uint64, parts [][]byte) ([][]byte, error) {
	if len(parts) == 0 {
		return nil, store.NewError(store.RetCMalformedKey, keys.ErrMalformedKey.Error())
	}
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		key, err := encodeKey(tableID, [][]byte{p})
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}
