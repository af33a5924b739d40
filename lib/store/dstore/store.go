package dstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/store/dstore/internal"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the IStore interface.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	replicaID uint64
	cs        *client.Session
	timeout   time.Duration
	tracker   *LeaderTracker
	onClose   func()
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes. The replica must already be started on the node host (see ShardHost.Start).
// The tracker may be nil, leadership is then queried from the node host on every call.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID, replicaID uint64, timeout time.Duration, tracker *LeaderTracker) store.IStore {
	return &storeImpl{
		nh:        nh,
		shardID:   shardID,
		replicaID: replicaID,
		cs:        nh.GetNoOPSession(shardID),
		timeout:   timeout,
		tracker:   tracker,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns the result data of the state machine or a *store.Error.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) ([]byte, error) {
	payload := cmd.Serialize()
	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)

		res, err := s.nh.SyncPropose(pctx, s.cs, payload)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			if errors.Is(err, dragonboat.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return nil, store.NewError(store.RetCTimeout, err.Error())
			}
			return nil, store.NewError(store.RetCProposalFailed, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return nil, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, store.NewError(store.RetCProposalFailed, "system busy")
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and a error (nil on success).
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			if errors.Is(err, dragonboat.ErrTimeout) {
				return zero, store.NewError(store.RetCTimeout, err.Error())
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCTimeout, "system busy")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(ctx context.Context, key, value []byte) (db.Record, error) {
	data, err := s.write(ctx, internal.Command{
		Type:  internal.CommandTPut,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return db.Record{}, err
	}
	version, err := internal.DecodePutResult(data)
	if err != nil {
		return db.Record{}, store.NewError(store.RetCInternalError, err.Error())
	}
	return db.Record{
		Key:     append([]byte(nil), key...),
		Value:   append([]byte(nil), value...),
		Version: version,
	}, nil
}

func (s *storeImpl) Get(key []byte) (db.Record, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return db.Record{}, false, err
	}
	return res.Record, res.Ok, nil
}

func (s *storeImpl) MultiGet(keys [][]byte) ([]db.Record, error) {
	return read[[]db.Record](s, internal.Query{
		Type: internal.QueryTMultiGet,
		Keys: keys,
	}, false)
}

func (s *storeImpl) Scan(prefix []byte, limit int) ([]db.Record, error) {
	return read[[]db.Record](s, internal.Query{
		Type:  internal.QueryTScanPrefix,
		Key:   prefix,
		Limit: limit,
	}, false)
}

func (s *storeImpl) Local() store.Reader {
	return staleReader{s}
}

func (s *storeImpl) Leader() (bool, uint64) {
	if s.tracker != nil {
		if info, ok := s.tracker.Leader(s.shardID); ok {
			return info.LeaderID == s.replicaID, info.Term
		}
	}
	leaderID, term, valid, err := s.nh.GetLeaderID(s.shardID)
	if err != nil || !valid {
		return false, term
	}
	return leaderID == s.replicaID, term
}

func (s *storeImpl) Version() (uint64, error) {
	return read[uint64](s, internal.Query{
		Type: internal.QueryTVersion,
	}, true)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Close stops the local replica of the shard.
func (s *storeImpl) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	if err := s.nh.StopShard(s.shardID); err != nil && !errors.Is(err, dragonboat.ErrShardNotFound) {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return nil
}

// staleReader reads the local replica with StaleRead, it never waits for the leader.
type staleReader struct {
	s *storeImpl
}

func (r staleReader) Get(key []byte) (db.Record, bool, error) {
	res, err := read[internal.QueryResult](r.s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, true)
	if err != nil {
		return db.Record{}, false, err
	}
	return res.Record, res.Ok, nil
}

func (r staleReader) ScanPrefix(prefix []byte, limit int) ([]db.Record, error) {
	return read[[]db.Record](r.s, internal.Query{
		Type:  internal.QueryTScanPrefix,
		Key:   prefix,
		Limit: limit,
	}, true)
}
