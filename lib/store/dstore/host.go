package dstore

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
)

// ShardHost bundles the node-wide parts needed to run ranges as raft shards:
// the node host, the apply router shared by all state machines and the leader tracker.
type ShardHost struct {
	NodeHost  *dragonboat.NodeHost
	Router    *ApplyRouter
	Tracker   *LeaderTracker
	DBFactory store.DBFactory
	Timeout   time.Duration
}

// Start registers the apply listener of the shard, starts the local replica and returns the store of the shard.
// The listener is registered before the replica starts, so no applied entry is missed.
// Closing the returned store stops the replica and unregisters the listener.
func (h *ShardHost) Start(members map[uint64]string, join bool, cfg config.Config, onApply store.ApplyFunc) (store.IStore, error) {
	if h.NodeHost == nil {
		return nil, fmt.Errorf("node host is nil, cannot start shard %d", cfg.ShardID)
	}

	h.Router.Register(cfg.ShardID, onApply)

	err := h.NodeHost.StartConcurrentReplica(members, join, CreateStateMachineFactory(h.DBFactory, h.Router), cfg)
	if err != nil {
		h.Router.Unregister(cfg.ShardID)
		return nil, fmt.Errorf("failed to start shard %d: %w", cfg.ShardID, err)
	}
	log.Infof("started replica %d of shard %d", cfg.ReplicaID, cfg.ShardID)

	s := NewDistributedStore(h.NodeHost, cfg.ShardID, cfg.ReplicaID, h.Timeout, h.Tracker).(*storeImpl)
	s.onClose = func() {
		h.Router.Unregister(cfg.ShardID)
		if h.Tracker != nil {
			h.Tracker.Forget(cfg.ShardID)
		}
	}
	return s, nil
}
