package badgerdb

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/internal/layout"
	"github.com/ValentinKolb/dWatch/lib/db/util"
	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v2"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log       = logger.GetLogger("db")
	badgerLog = logger.GetLogger("badger")
)

// --------------------------------------------------------------------------
// Core Badger database structure
// --------------------------------------------------------------------------

// badgerImpl persists records in a badger value log
type badgerImpl struct {
	db      *badger.DB
	dir     string
	writeMu sync.Mutex // serializes Put, badger would report conflicts otherwise
	version atomic.Uint64
}

// DBOptions configures the badger engine
type DBOptions struct {
	Dir        string // Directory of the database, ignored when InMemory is set
	InMemory   bool   // Keep everything in memory (tests)
	SyncWrites bool   // fsync every transaction
}

// NewBadgerDB opens (or creates) a badger database
func NewBadgerDB(opts DBOptions) (db.KVDB, error) {
	dir := opts.Dir
	badgerOpts := badger.DefaultOptions(dir).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLog)
	if opts.InMemory {
		dir = ""
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLog)
	}

	bdb, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger database at %q", dir)
	}

	b := &badgerImpl{db: bdb, dir: dir}

	// restore the version counter
	err = bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(layout.VersionKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			b.version.Store(layout.DecodeVersion(val))
			return nil
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		_ = bdb.Close()
		return nil, errors.Wrap(err, "read version")
	}

	log.Infof("badger database opened (dir=%q, version=%d)", dir, b.version.Load())
	return b, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put writes the record and the database version in one transaction. Stale versions are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *badgerImpl) Put(key, value []byte, version uint64) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.SetVersion(version)
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(layout.DataKey(key))
		switch {
		case err == nil:
			var stale bool
			if err := item.Value(func(val []byte) error {
				_, old, _ := layout.DecodeValue(val)
				stale = old >= version
				return nil
			}); err != nil {
				return err
			}
			if stale {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := txn.Set(layout.DataKey(key), layout.EncodeValue(value, version)); err != nil {
			return err
		}
		return txn.Set(layout.VersionKey, layout.EncodeVersion(b.version.Load()))
	})
	if err != nil {
		log.Errorf("badger put failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

// Get returns a copy of the record stored under key
func (b *badgerImpl) Get(key []byte) (db.Record, bool) {
	var rec db.Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(layout.DataKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value, version, ok := layout.DecodeValue(val)
			if !ok {
				return badger.ErrKeyNotFound
			}
			rec = db.Record{Key: bytes.Clone(key), Value: bytes.Clone(value), Version: version}
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			log.Errorf("badger get failed: %v", err)
		}
		return db.Record{}, false
	}
	return rec, true
}

// Scan iterates over [start, end) in ascending order inside a single read transaction
func (b *badgerImpl) Scan(start, end []byte, limit int, fn db.ScanFunc) {
	lower := layout.DataBound(start, false)
	upper := layout.DataBound(end, true)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   100,
			Prefix:         layout.DataPrefix,
		})
		defer it.Close()

		count := 0
		for it.Seek(lower); it.Valid(); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), upper) >= 0 {
				return nil
			}
			if limit > 0 && count >= limit {
				return nil
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, version, ok := layout.DecodeValue(raw)
			if !ok {
				continue
			}
			count++
			rec := db.Record{
				Key:     item.KeyCopy(nil)[len(layout.DataPrefix):],
				Value:   value,
				Version: version,
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("badger scan failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save streams all records of a single read transaction
func (b *badgerImpl) Save(w io.Writer) error {
	sw, err := util.NewSnapshotWriter(w, b.version.Load())
	if err != nil {
		return err
	}

	err = b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   100,
			Prefix:         layout.DataPrefix,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, version, ok := layout.DecodeValue(raw)
			if !ok {
				continue
			}
			rec := db.Record{Key: item.Key()[len(layout.DataPrefix):], Value: value, Version: version}
			if err := sw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "iterate snapshot")
	}
	return sw.Close()
}

// Load drops all records and restores the snapshot
//
// Thread-safety: This function must not be called concurrently with Put.
func (b *badgerImpl) Load(r io.Reader) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.db.DropAll(); err != nil {
		return errors.Wrap(err, "clear database")
	}

	wb := b.db.NewWriteBatch()

	var maxVersion uint64
	dbVersion, err := util.ReadSnapshot(r, func(rec db.Record) error {
		if rec.Version > maxVersion {
			maxVersion = rec.Version
		}
		return wb.Set(layout.DataKey(rec.Key), layout.EncodeValue(rec.Value, rec.Version))
	})
	if err == nil && dbVersion > maxVersion {
		maxVersion = dbVersion
	}
	if err == nil {
		err = wb.Set(layout.VersionKey, layout.EncodeVersion(maxVersion))
	}
	if err != nil {
		wb.Cancel()
		return err
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap(err, "commit snapshot")
	}

	b.version.Store(maxVersion)
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns the table sizes reported by badger
func (b *badgerImpl) GetInfo() db.DatabaseInfo {
	lsm, vlog := b.db.Size()

	meta := &struct {
		Version  uint64 `json:"version"`
		Dir      string `json:"dir"`
		LSMBytes int64  `json:"lsm_bytes"`
		VLogSize int64  `json:"vlog_bytes"`
		Info     string `json:"info"`
	}{
		Version:  b.version.Load(),
		Dir:      b.dir,
		LSMBytes: lsm,
		VLogSize: vlog,
		Info:     "SizeBytes is the LSM plus value log size reported by badger.",
	}

	return db.DatabaseInfo{
		SizeBytes:         int(lsm + vlog),
		DbType:            db.ImplBadger,
		SupportedFeatures: []db.Feature{db.FeaturePut, db.FeatureGet, db.FeatureScan, db.FeatureSave, db.FeatureLoad},
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (b *badgerImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeaturePut | db.FeatureGet | db.FeatureScan | db.FeatureSave | db.FeatureLoad
	return supported&feature == feature
}

// Close closes badger
func (b *badgerImpl) Close() error {
	return b.db.Close()
}

// --------------------------------------------------------------------------
// Version Management
// --------------------------------------------------------------------------

// SetVersion only moves the version forward. The persisted counter follows with the next write.
func (b *badgerImpl) SetVersion(newVersion uint64) {
	for {
		curr := b.version.Load()
		if newVersion <= curr {
			return
		}
		if b.version.CompareAndSwap(curr, newVersion) {
			return
		}
	}
}

// Version returns the highest applied version
func (b *badgerImpl) Version() uint64 {
	return b.version.Load()
}
