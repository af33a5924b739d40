package memtree

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/util"
	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultDegree   = 32   // btree node degree
	samplesForStats = 1000 // entries sampled by GetInfo
	entryOverhead   = 48   // slice headers and version per entry
)

// --------------------------------------------------------------------------
// Tree Items
// --------------------------------------------------------------------------

// entry is the btree item. Entries are immutable once inserted,
// an update replaces the whole item.
type entry struct {
	key     []byte
	value   []byte
	version uint64
}

// Less implements btree.Item
func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

func (e *entry) record() db.Record {
	return db.Record{
		Key:     bytes.Clone(e.key),
		Value:   bytes.Clone(e.value),
		Version: e.version,
	}
}

// --------------------------------------------------------------------------
// Core MemTree database structure
// --------------------------------------------------------------------------

// memTreeImpl is an ordered in-memory database on top of a copy-on-write btree
type memTreeImpl struct {
	mu      sync.RWMutex
	tree    *btree.BTree
	degree  int
	version atomic.Uint64
}

// DBOptions configures the memTreeImpl behavior during initialization
type DBOptions struct {
	Degree int // Degree of the btree nodes (0 = use default: 32)
}

// DefaultOptions returns the default memTreeImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Degree: defaultDegree,
	}
}

// NewMemTreeDB creates a new in-memory database with the specified options (optional)
func NewMemTreeDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Degree < 2 {
		opts.Degree = defaultDegree
	}
	return &memTreeImpl{
		tree:   btree.New(opts.Degree),
		degree: opts.Degree,
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates an entry. Stale versions are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memTreeImpl) Put(key, value []byte, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetVersion(version)
	probe := &entry{key: key}
	if old := m.tree.Get(probe); old != nil && old.(*entry).version >= version {
		return
	}
	m.tree.ReplaceOrInsert(&entry{
		key:     bytes.Clone(key),
		value:   bytes.Clone(value),
		version: version,
	})
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

// Get returns a copy of the record stored under key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memTreeImpl) Get(key []byte) (db.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item := m.tree.Get(&entry{key: key})
	if item == nil {
		return db.Record{}, false
	}
	return item.(*entry).record(), true
}

// Scan iterates over [start, end) in ascending order.
// The read lock is held while fn runs, so fn must not write to the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memTreeImpl) Scan(start, end []byte, limit int, fn db.ScanFunc) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	iter := func(i btree.Item) bool {
		if limit > 0 && count >= limit {
			return false
		}
		count++
		return fn(i.(*entry).record())
	}

	if end == nil {
		m.tree.AscendGreaterOrEqual(&entry{key: start}, iter)
		return
	}
	m.tree.AscendRange(&entry{key: start}, &entry{key: end}, iter)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a point in time snapshot of the database.
// Writes may continue while the snapshot is streamed since the tree is cloned lazily.
//
// Thread-safety: This function allows concurrent operations with all other functions.
func (m *memTreeImpl) Save(w io.Writer) error {
	m.mu.Lock()
	snapshot := m.tree.Clone()
	version := m.version.Load()
	m.mu.Unlock()

	sw, err := util.NewSnapshotWriter(w, version)
	if err != nil {
		return err
	}

	snapshot.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		err = sw.Write(db.Record{Key: e.key, Value: e.value, Version: e.version})
		return err == nil
	})
	if err != nil {
		return err
	}
	return sw.Close()
}

// Load replaces the content of the database with the snapshot.
//
// Thread-safety: This function is thread-safe, the tree is swapped atomically after reading.
func (m *memTreeImpl) Load(r io.Reader) error {
	tree := btree.New(m.degree)
	var maxVersion uint64

	dbVersion, err := util.ReadSnapshot(r, func(rec db.Record) error {
		tree.ReplaceOrInsert(&entry{key: rec.Key, value: rec.Value, version: rec.Version})
		if rec.Version > maxVersion {
			maxVersion = rec.Version
		}
		return nil
	})
	if err != nil {
		return err
	}
	if dbVersion > maxVersion {
		maxVersion = dbVersion
	}

	m.mu.Lock()
	m.tree = tree
	m.version.Store(maxVersion)
	m.mu.Unlock()
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (m *memTreeImpl) GetInfo() db.DatabaseInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	histogram := util.NewSizeHistogram()
	keySizes := make([]float64, 0, samplesForStats)
	m.tree.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		histogram.AddSample(len(e.value))
		keySizes = append(keySizes, float64(len(e.key)))
		return len(keySizes) < samplesForStats
	})

	count := m.tree.Len()
	keyStats := util.NewStats(keySizes)
	sizeBytes := count * (histogram.AverageSize() + int(keyStats.Mean) + entryOverhead)

	meta := &struct {
		Version  uint64     `json:"version"`
		Entries  int        `json:"entries"`
		Degree   int        `json:"degree"`
		KeySizes util.Stats `json:"key_sizes"`
		Info     string     `json:"info"`
	}{
		Version:  m.version.Load(),
		Entries:  count,
		Degree:   m.degree,
		KeySizes: keyStats,
		Info:     "SizeBytes is estimated from a sample of the first entries.",
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplMemTree,
		SupportedFeatures: []db.Feature{db.FeaturePut, db.FeatureGet, db.FeatureScan, db.FeatureSave, db.FeatureLoad},
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (m *memTreeImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeaturePut | db.FeatureGet | db.FeatureScan | db.FeatureSave | db.FeatureLoad
	return supported&feature == feature
}

// Close releases the tree
func (m *memTreeImpl) Close() error {
	m.mu.Lock()
	m.tree.Clear(false)
	m.mu.Unlock()
	return nil
}

// --------------------------------------------------------------------------
// Version Management
// --------------------------------------------------------------------------

// SetVersion only moves the version forward.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memTreeImpl) SetVersion(newVersion uint64) {
	for {
		curr := m.version.Load()
		if newVersion <= curr {
			return
		}
		if m.version.CompareAndSwap(curr, newVersion) {
			return
		}
	}
}

// Version returns the highest applied version
func (m *memTreeImpl) Version() uint64 {
	return m.version.Load()
}
