package ranges

import (
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/store/dstore"
	"github.com/ValentinKolb/dWatch/lib/store/lstore"
	"github.com/lni/dragonboat/v4/config"
)

// LocalStores returns a StoreFactory creating single-replica stores (lstore).
// A local store always leads its range.
func LocalStores(dbFactory store.DBFactory) StoreFactory {
	return func(cfg Config, onApply store.ApplyFunc) (store.IStore, error) {
		return lstore.NewLocalStore(cfg.ID, dbFactory, onApply), nil
	}
}

// RaftStores returns a StoreFactory starting every range as a dragonboat shard of the host.
// The shard id of a range is its range id, shardConfig supplies the raft settings.
func RaftStores(host *dstore.ShardHost, members map[uint64]string, shardConfig func(rangeID uint64) config.Config) StoreFactory {
	return func(cfg Config, onApply store.ApplyFunc) (store.IStore, error) {
		return host.Start(members, false, shardConfig(cfg.ID), onApply)
	}
}
