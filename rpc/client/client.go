package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/db/util"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/ValentinKolb/dWatch/rpc/serializer"
	"github.com/ValentinKolb/dWatch/rpc/transport"
	"github.com/cockroachdb/errors"
)

// RangeRef addresses a range and the table its keys belong to.
// The epoch is the one the client believes the range to be at.
type RangeRef struct {
	RangeID uint64
	TableID uint64
	Epoch   common.Epoch
}

// GetOptions selects how the key parts of a Get are interpreted.
// Without options the parts form one key.
type GetOptions struct {
	Prefix bool   // the parts form a key prefix
	Multi  bool   // every part is a key of its own
	Limit  uint32 // max records of a prefix read (0 = unbounded)
}

// WatchOptions selects what a watch waits for.
type WatchOptions struct {
	Prefix       bool          // the parts form a key prefix
	Multi        bool          // every part is a key of its own (first match wins)
	StartVersion uint64        // the last version the client has seen
	LongPull     time.Duration // 0 = DefaultLongPull
	WatchID      uint64        // id of the pending watch, used by Cancel (0 = random)
}

// DefaultLongPull is the long pull of watches that do not set one
const DefaultLongPull = 30 * time.Second

// WatchResult is the answer to a watch: the records newer than the start version,
// or Timeout if nothing changed during the long pull.
type WatchResult struct {
	WatchID uint64
	Records []db.Record
	Version uint64
	Timeout bool
}

// NewRPCClient creates a new client for the ranges of a dwatch cluster
// The function takes a client configuration, a transport and a serializer as parameters
func NewRPCClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCClient, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCClient{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// RPCClient sends put, get, watch and cancel requests to the ranges of a cluster.
//
// Thread-safety: All methods are safe for concurrent use.
type RPCClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Put writes value under the key formed by parts and returns the assigned version.
func (c *RPCClient) Put(ctx context.Context, ref RangeRef, parts [][]byte, value []byte) (uint64, error) {
	req := common.NewPutRequest(ref.Epoch, ref.TableID, parts, value)
	resp, err := invokeRPCRequest(ctx, ref.RangeID, req, c.transport, c.serializer)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Get reads the current records of a key, a key list or a prefix.
func (c *RPCClient) Get(ctx context.Context, ref RangeRef, parts [][]byte, opts GetOptions) ([]db.Record, error) {
	req := common.NewGetRequest(ref.Epoch, ref.TableID, parts, opts.Prefix, opts.Multi, opts.Limit)
	resp, err := invokeRPCRequest(ctx, ref.RangeID, req, c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	return resp.Records(), nil
}

// Watch waits until a matching record is newer than the start version or the long pull ends.
// If ctx has no deadline the wait is bounded by the long pull plus the client timeout.
// When ctx ends first the pending watch is canceled on the server.
func (c *RPCClient) Watch(ctx context.Context, ref RangeRef, parts [][]byte, opts WatchOptions) (WatchResult, error) {
	if opts.LongPull <= 0 {
		opts.LongPull = DefaultLongPull
	}
	if opts.WatchID == 0 {
		opts.WatchID = util.GenerateSeed() | 1
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.LongPull+time.Duration(c.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	req := common.NewWatchRequest(ref.Epoch, ref.TableID, parts, opts.Prefix, opts.Multi,
		opts.StartVersion, uint64(opts.LongPull/time.Millisecond), opts.WatchID)
	resp, err := invokeRPCRequest(ctx, ref.RangeID, req, c.transport, c.serializer)
	if err != nil {
		if ctx.Err() != nil {
			c.dropWatch(ctx, ref.RangeID, opts.WatchID)
		}
		return WatchResult{}, err
	}
	return WatchResult{
		WatchID: resp.WatchID,
		Records: resp.Records(),
		Version: resp.Version,
		Timeout: resp.Timeout,
	}, nil
}

// Follow watches continuously and calls fn for every change, advancing the start
// version to the highest version seen. Timeouts re-arm the watch silently.
// It returns when ctx is done, when fn returns an error or on the first failed request.
func (c *RPCClient) Follow(ctx context.Context, ref RangeRef, parts [][]byte, opts WatchOptions, fn func(WatchResult) error) error {
	for {
		res, err := c.Watch(ctx, ref, parts, opts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if res.Timeout {
			Logger.Debugf("watch %d on range %d timed out, re-arming", res.WatchID, ref.RangeID)
			continue
		}
		if err := fn(res); err != nil {
			return err
		}
		if res.Version > opts.StartVersion {
			opts.StartVersion = res.Version
		}
	}
}

// dropWatch cancels a watch its caller gave up on, so the server releases it before its long pull ends
func (c *RPCClient) dropWatch(ctx context.Context, rangeID, watchID uint64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(max(c.config.TimeoutSecond, 1))*time.Second)
	defer cancel()
	if _, err := c.Cancel(ctx, rangeID, watchID); err != nil {
		Logger.Debugf("cancel of watch %d on range %d failed: %v", watchID, rangeID, err)
	}
}

// Cancel drops a pending watch. It reports false if the watch was already resolved.
func (c *RPCClient) Cancel(ctx context.Context, rangeID, watchID uint64) (bool, error) {
	resp, err := invokeRPCRequest(ctx, rangeID, common.NewCancelRequest(watchID), c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Close closes the transport
func (c *RPCClient) Close() error {
	return c.transport.Close()
}

// IsRetryable reports whether err is worth a retry after refreshing the range
// routing (stale epoch, moved leadership) or after a timeout.
func IsRetryable(err error) bool {
	var storeErr *store.Error
	if !errors.As(err, &storeErr) {
		return false
	}
	switch storeErr.Code {
	case store.RetCEpochStale, store.RetCNotLeader, store.RetCTimeout, store.RetCProposalFailed:
		return true
	default:
		return false
	}
}
