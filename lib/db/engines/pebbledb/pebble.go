package pebbledb

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/internal/layout"
	"github.com/ValentinKolb/dWatch/lib/db/util"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("db")

// --------------------------------------------------------------------------
// Core Pebble database structure
// --------------------------------------------------------------------------

// pebbleImpl persists records in a pebble LSM tree
type pebbleImpl struct {
	db      *pebble.DB
	dir     string
	sync    bool
	writeMu sync.Mutex // serializes the read-compare-write of Put
	version atomic.Uint64
}

// DBOptions configures the pebble engine
type DBOptions struct {
	Dir      string // Directory of the database, ignored when InMemory is set
	InMemory bool   // Keep all files in memory (tests)
	Sync     bool   // fsync every write batch
}

// NewPebbleDB opens (or creates) a pebble database
func NewPebbleDB(opts DBOptions) (db.KVDB, error) {
	pebbleOpts := &pebble.Options{}
	dir := opts.Dir
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
		dir = ""
	}

	pdb, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble database at %q", dir)
	}

	p := &pebbleImpl{
		db:   pdb,
		dir:  dir,
		sync: opts.Sync,
	}

	// restore the version counter
	raw, closer, err := pdb.Get(layout.VersionKey)
	switch {
	case err == nil:
		p.version.Store(layout.DecodeVersion(raw))
		_ = closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		_ = pdb.Close()
		return nil, errors.Wrap(err, "read version")
	}

	log.Infof("pebble database opened (dir=%q, version=%d)", dir, p.version.Load())
	return p, nil
}

func (p *pebbleImpl) writeOpts() *pebble.WriteOptions {
	if p.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put writes the record and the new database version in one batch. Stale versions are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) Put(key, value []byte, version uint64) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.SetVersion(version)
	if old, ok := p.Get(key); ok && old.Version >= version {
		return
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	_ = batch.Set(layout.DataKey(key), layout.EncodeValue(value, version), nil)
	_ = batch.Set(layout.VersionKey, layout.EncodeVersion(p.version.Load()), nil)
	if err := batch.Commit(p.writeOpts()); err != nil {
		log.Errorf("pebble put failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

// Get returns a copy of the record stored under key
func (p *pebbleImpl) Get(key []byte) (db.Record, bool) {
	raw, closer, err := p.db.Get(layout.DataKey(key))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			log.Errorf("pebble get failed: %v", err)
		}
		return db.Record{}, false
	}
	defer closer.Close()

	value, version, ok := layout.DecodeValue(raw)
	if !ok {
		return db.Record{}, false
	}
	return db.Record{Key: bytes.Clone(key), Value: bytes.Clone(value), Version: version}, true
}

// Scan iterates over [start, end) in ascending order
func (p *pebbleImpl) Scan(start, end []byte, limit int, fn db.ScanFunc) {
	iter := p.db.NewIter(&pebble.IterOptions{
		LowerBound: layout.DataBound(start, false),
		UpperBound: layout.DataBound(end, true),
	})
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && count >= limit {
			return
		}
		value, version, ok := layout.DecodeValue(iter.Value())
		if !ok {
			continue
		}
		count++
		rec := db.Record{
			Key:     bytes.Clone(iter.Key()[len(layout.DataPrefix):]),
			Value:   bytes.Clone(value),
			Version: version,
		}
		if !fn(rec) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save streams a consistent pebble snapshot
func (p *pebbleImpl) Save(w io.Writer) error {
	snap := p.db.NewSnapshot()
	defer snap.Close()

	sw, err := util.NewSnapshotWriter(w, p.version.Load())
	if err != nil {
		return err
	}

	iter := snap.NewIter(&pebble.IterOptions{LowerBound: layout.DataPrefix, UpperBound: layout.DataEnd})
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		value, version, ok := layout.DecodeValue(iter.Value())
		if !ok {
			continue
		}
		if err := sw.Write(db.Record{Key: iter.Key()[len(layout.DataPrefix):], Value: value, Version: version}); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "iterate snapshot")
	}
	return sw.Close()
}

// Load drops all records and restores the snapshot
//
// Thread-safety: This function must not be called concurrently with Put.
func (p *pebbleImpl) Load(r io.Reader) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.db.DeleteRange(layout.DataPrefix, layout.DataEnd, p.writeOpts()); err != nil {
		return errors.Wrap(err, "clear database")
	}

	batch := p.db.NewBatch()
	var maxVersion uint64
	dbVersion, err := util.ReadSnapshot(r, func(rec db.Record) error {
		if rec.Version > maxVersion {
			maxVersion = rec.Version
		}
		if err := batch.Set(layout.DataKey(rec.Key), layout.EncodeValue(rec.Value, rec.Version), nil); err != nil {
			return err
		}
		// flush large batches early
		if batch.Len() > 64<<20 {
			if err := batch.Commit(pebble.NoSync); err != nil {
				return err
			}
			_ = batch.Close()
			batch = p.db.NewBatch()
		}
		return nil
	})
	if err != nil {
		_ = batch.Close()
		return err
	}
	if dbVersion > maxVersion {
		maxVersion = dbVersion
	}
	_ = batch.Set(layout.VersionKey, layout.EncodeVersion(maxVersion), nil)
	if err := batch.Commit(p.writeOpts()); err != nil {
		_ = batch.Close()
		return errors.Wrap(err, "commit snapshot")
	}
	_ = batch.Close()

	p.version.Store(maxVersion)
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics reported by pebble
func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	metrics := p.db.Metrics()
	sizeBytes := int(metrics.DiskSpaceUsage())

	meta := &struct {
		Version     uint64 `json:"version"`
		Dir         string `json:"dir"`
		MemTableLen uint64 `json:"mem_table_size"`
		Compactions int64  `json:"compactions"`
		Info        string `json:"info"`
	}{
		Version:     p.version.Load(),
		Dir:         p.dir,
		MemTableLen: metrics.MemTable.Size,
		Compactions: metrics.Compact.Count,
		Info:        "SizeBytes is the disk space used by pebble.",
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplPebble,
		SupportedFeatures: []db.Feature{db.FeaturePut, db.FeatureGet, db.FeatureScan, db.FeatureSave, db.FeatureLoad},
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeaturePut | db.FeatureGet | db.FeatureScan | db.FeatureSave | db.FeatureLoad
	return supported&feature == feature
}

// Close flushes and closes pebble
func (p *pebbleImpl) Close() error {
	return p.db.Close()
}

// --------------------------------------------------------------------------
// Version Management
// --------------------------------------------------------------------------

// SetVersion only moves the version forward. The persisted counter follows with the next write.
func (p *pebbleImpl) SetVersion(newVersion uint64) {
	for {
		curr := p.version.Load()
		if newVersion <= curr {
			return
		}
		if p.version.CompareAndSwap(curr, newVersion) {
			return
		}
	}
}

// Version returns the highest applied version
func (p *pebbleImpl) Version() uint64 {
	return p.version.Load()
}
