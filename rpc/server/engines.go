package server

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/engines/badgerdb"
	"github.com/ValentinKolb/dWatch/lib/db/engines/memtree"
	"github.com/ValentinKolb/dWatch/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/dWatch/lib/store"
)

// Names of the storage engines
const (
	EngineMemTree = "memtree"
	EnginePebble  = "pebble"
	EngineBadger  = "badger"
)

// NewDBFactory returns the factory creating the database of every range.
// Persistent engines keep each range in its own directory below dataDir.
// Opening a persistent engine happens when the range starts, a failure there panics
// since neither the local store nor the raft state machine can run without its database.
func NewDBFactory(engine, dataDir string) (store.DBFactory, error) {
	rangeDir := func(kind string, rangeID uint64) string {
		return filepath.Join(dataDir, kind, "range-"+strconv.FormatUint(rangeID, 10))
	}

	switch engine {
	case EngineMemTree, "":
		return func(uint64) db.KVDB { return memtree.NewMemTreeDB(nil) }, nil
	case EnginePebble:
		return func(rangeID uint64) db.KVDB {
			database, err := pebbledb.NewPebbleDB(pebbledb.DBOptions{Dir: rangeDir(EnginePebble, rangeID)})
			if err != nil {
				Logger.Panicf("failed to open pebble database of range %d: %v", rangeID, err)
			}
			return database
		}, nil
	case EngineBadger:
		return func(rangeID uint64) db.KVDB {
			database, err := badgerdb.NewBadgerDB(badgerdb.DBOptions{Dir: rangeDir(EngineBadger, rangeID)})
			if err != nil {
				Logger.Panicf("failed to open badger database of range %d: %v", rangeID, err)
			}
			return database
		}, nil
	default:
		return nil, fmt.Errorf("invalid engine %q (expected one of: %s, %s, %s)", engine, EngineMemTree, EnginePebble, EngineBadger)
	}
}
