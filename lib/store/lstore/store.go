package lstore

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/store"
)

type storeImpl struct {
	rangeID uint64
	db      db.KVDB
	onApply store.ApplyFunc

	// applyMu serializes version assignment, the db write and the apply callback
	applyMu sync.Mutex
}

// NewLocalStore creates a new local store instance for a range.
// This store implementation is not distributed and only works on a single node,
// it is always the leader of its range (term 1).
// onApply may be nil.
func NewLocalStore(rangeID uint64, factory store.DBFactory, onApply store.ApplyFunc) store.IStore {
	return &storeImpl{
		rangeID: rangeID,
		db:      factory(rangeID),
		onApply: onApply,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(ctx context.Context, key, value []byte) (db.Record, error) {
	if !s.db.SupportsFeature(db.FeaturePut) {
		return db.Record{}, store.NewError(store.RetCUnsupportedOperation, "Put operation is not supported")
	}
	if err := ctx.Err(); err != nil {
		return db.Record{}, store.NewError(store.RetCTimeout, err.Error())
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	rec := db.Record{
		Key:     append([]byte(nil), key...),
		Value:   append([]byte(nil), value...),
		Version: s.db.Version() + 1,
	}
	s.db.Put(rec.Key, rec.Value, rec.Version)

	if s.onApply != nil {
		s.onApply(rec)
	}
	return rec, nil
}

func (s *storeImpl) Get(key []byte) (db.Record, bool, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return db.Record{}, false, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	rec, ok := s.db.Get(key)
	return rec, ok, nil
}

func (s *storeImpl) MultiGet(keys [][]byte) ([]db.Record, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	out := make([]db.Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := s.db.Get(k); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *storeImpl) Scan(prefix []byte, limit int) ([]db.Record, error) {
	if !s.db.SupportsFeature(db.FeatureScan) {
		return nil, store.NewError(store.RetCUnsupportedOperation, "Scan operation is not supported")
	}
	return db.ScanPrefix(s.db, prefix, limit), nil
}

// Local returns the store itself, all reads of a local store are local.
func (s *storeImpl) Local() store.Reader {
	return localReader{s}
}

func (s *storeImpl) Leader() (bool, uint64) {
	return true, 1
}

func (s *storeImpl) Version() (uint64, error) {
	return s.db.Version(), nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}

// localReader adapts the store to store.Reader.
type localReader struct {
	s *storeImpl
}

func (r localReader) Get(key []byte) (db.Record, bool, error) {
	return r.s.Get(key)
}

func (r localReader) ScanPrefix(prefix []byte, limit int) ([]db.Record, error) {
	return r.s.Scan(prefix, limit)
}
