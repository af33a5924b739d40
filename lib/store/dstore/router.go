package dstore

import (
	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/lni/dragonboat/v4/raftio"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Apply Router
// --------------------------------------------------------------------------

// ApplyRouter connects the state machines of a node host with the apply listeners of their ranges.
// Dragonboat creates state machines through a factory, so the listener of a shard can not be
// passed to the machine directly. Instead every machine dispatches through the shared router.
//
// Thread-safety: All methods are safe for concurrent use.
type ApplyRouter struct {
	listeners *xsync.MapOf[uint64, store.ApplyFunc]
}

// NewApplyRouter creates an empty router.
func NewApplyRouter() *ApplyRouter {
	return &ApplyRouter{
		listeners: xsync.NewMapOf[uint64, store.ApplyFunc](),
	}
}

// Register sets the apply listener of a shard, replacing any previous one.
func (r *ApplyRouter) Register(shardID uint64, fn store.ApplyFunc) {
	r.listeners.Store(shardID, fn)
}

// Unregister removes the apply listener of a shard.
func (r *ApplyRouter) Unregister(shardID uint64) {
	r.listeners.Delete(shardID)
}

// Dispatch calls the listener of the shard with the applied record (if any).
func (r *ApplyRouter) Dispatch(shardID uint64, rec db.Record) {
	if fn, ok := r.listeners.Load(shardID); ok && fn != nil {
		fn(rec)
	}
}

// --------------------------------------------------------------------------
// Leader Tracker
// --------------------------------------------------------------------------

// LeaderTracker records the latest leader information of every shard of a node host.
// It implements raftio.IRaftEventListener and is installed as NodeHostConfig.RaftEventListener.
//
// Thread-safety: All methods are safe for concurrent use.
type LeaderTracker struct {
	leaders *xsync.MapOf[uint64, raftio.LeaderInfo]
}

// NewLeaderTracker creates an empty tracker.
func NewLeaderTracker() *LeaderTracker {
	return &LeaderTracker{
		leaders: xsync.NewMapOf[uint64, raftio.LeaderInfo](),
	}
}

// LeaderUpdated is called by dragonboat whenever the leader of a shard changes.
func (t *LeaderTracker) LeaderUpdated(info raftio.LeaderInfo) {
	log.Infof("shard %d: leader is replica %d (term %d, local replica %d)",
		info.ShardID, info.LeaderID, info.Term, info.ReplicaID)
	t.leaders.Store(info.ShardID, info)
}

// Leader returns the last known leader info of a shard.
// The second return value is false if no leader was reported yet.
func (t *LeaderTracker) Leader(shardID uint64) (raftio.LeaderInfo, bool) {
	info, ok := t.leaders.Load(shardID)
	if !ok || info.LeaderID == 0 {
		return raftio.LeaderInfo{}, false
	}
	return info, true
}

// Forget drops the leader info of a stopped shard.
func (t *LeaderTracker) Forget(shardID uint64) {
	t.leaders.Delete(shardID)
}
