package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dWatch/lib/ranges"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/watch"
	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// watchGrace is added to the long pull before the adapter gives up on a watcher
// the registry should already have resolved.
const watchGrace = time.Second

// NewRangesServerAdapter returns an adapter serving the ranges of the node.
// Puts are bounded by timeout (0 = no bound besides the store's own).
func NewRangesServerAdapter(node *ranges.Node, timeout time.Duration) IRPCServerAdapter {
	return &rangesServerAdapterImpl{
		node:     node,
		timeout:  timeout,
		canceled: xsync.NewMapOf[watchKey, chan struct{}](),
	}
}

// watchKey identifies a watch held by the adapter
type watchKey struct {
	rangeID, watchID uint64
}

type rangesServerAdapterImpl struct {
	node    *ranges.Node
	timeout time.Duration

	// closed when a cancel request drops the pending watcher of a long poll
	canceled *xsync.MapOf[watchKey, chan struct{}]
}

func (a *rangesServerAdapterImpl) Handle(rangeID uint64, req *common.Message) *common.Message {
	if a.node == nil {
		return common.NewErrorResponse("handler: node is nil")
	}

	header := ranges.Header{
		RangeID: rangeID,
		Epoch:   ranges.Epoch{ConfVer: req.Epoch.ConfVer, Version: req.Epoch.Version},
	}

	switch req.MsgType {
	case common.MsgTKVPut:
		return a.put(header, req)
	case common.MsgTKVGet:
		return a.get(header, req)
	case common.MsgTKVWatch:
		return a.watch(header, req)
	case common.MsgTKVCancel:
		return a.cancel(rangeID, req.WatchID)
	default:
		return common.NewPutResponse(0, store.NewError(store.RetCUnsupportedOperation,
			fmt.Sprintf("unsupported message type: %s", req.MsgType)))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (a *rangesServerAdapterImpl) put(header ranges.Header, req *common.Message) *common.Message {
	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	rec, err := a.node.Put(ctx, ranges.PutRequest{
		Header:  header,
		TableID: req.TableID,
		Parts:   req.Keys,
		Value:   req.Value,
	})
	return common.NewPutResponse(rec.Version, err)
}

func (a *rangesServerAdapterImpl) get(header ranges.Header, req *common.Message) *common.Message {
	mode := ranges.GetSingle
	switch {
	case req.Prefix && req.Multi:
		return common.NewGetResponse(nil, store.NewError(store.RetCInvalidOperation, "prefix and multi are exclusive"))
	case req.Prefix:
		mode = ranges.GetPrefix
	case req.Multi:
		mode = ranges.GetMulti
	}

	recs, err := a.node.Get(ranges.GetRequest{
		Header:  header,
		TableID: req.TableID,
		Parts:   req.Keys,
		Mode:    mode,
		Limit:   int(req.Limit),
	})
	return common.NewGetResponse(recs, err)
}

// watch registers a watcher and waits for its event (long poll)
func (a *rangesServerAdapterImpl) watch(header ranges.Header, req *common.Message) *common.Message {
	if req.Prefix && req.Multi {
		return common.NewWatchResponse(0, nil, 0, false, store.NewError(store.RetCInvalidOperation, "prefix and multi are exclusive"))
	}

	longPull := time.Duration(req.LongPullMs) * time.Millisecond
	if longPull <= 0 {
		longPull = a.node.DefaultLongPull()
	}

	// a client chosen id can be canceled as soon as the watcher is registered
	canceled := make(chan struct{})
	if req.WatchID != 0 {
		key := watchKey{rangeID: header.RangeID, watchID: req.WatchID}
		if _, loaded := a.canceled.LoadOrStore(key, canceled); loaded {
			return common.NewWatchResponse(0, nil, 0, false, store.NewError(store.RetCInvalidOperation,
				fmt.Sprintf("watch %d already registered", req.WatchID)))
		}
		defer a.release(key, canceled)
	}

	target := watch.NewChanTarget()
	res, err := a.node.Watch(ranges.WatchRequest{
		Header:       header,
		TableID:      req.TableID,
		Parts:        req.Keys,
		Multi:        req.Multi,
		Prefix:       req.Prefix,
		StartVersion: req.StartVersion,
		LongPull:     longPull,
		WatchID:      req.WatchID,
	}, target)
	if err != nil {
		return common.NewWatchResponse(0, nil, 0, false, err)
	}

	// Immediate answer, the watcher was never registered
	if !res.Registered {
		return common.NewWatchResponse(res.WatchID, res.Records, res.Version, false, nil)
	}

	if req.WatchID == 0 {
		key := watchKey{rangeID: header.RangeID, watchID: res.WatchID}
		a.canceled.Store(key, canceled)
		defer a.release(key, canceled)
	}

	timer := time.NewTimer(longPull + watchGrace)
	defer timer.Stop()

	select {
	case ev := <-target:
		return eventResponse(ev)
	case <-canceled:
		return canceledResponse(res.WatchID)
	case <-timer.C:
		// The sweeper did not resolve the watcher in time. If the cancel loses the
		// race the watcher was resolved by an event or by a cancel request.
		if ok, _ := a.node.Cancel(header.RangeID, res.WatchID); !ok {
			select {
			case ev := <-target:
				return eventResponse(ev)
			case <-canceled:
			case <-time.After(watchGrace):
				// canceled before the channel was stored
			}
			return canceledResponse(res.WatchID)
		}
		Logger.Warningf("watch %d of range %d was not resolved by its deadline", res.WatchID, header.RangeID)
		return common.NewWatchResponse(res.WatchID, nil, 0, true, nil)
	}
}

// release forgets the cancel channel of a finished long poll, unless the id was reused since
func (a *rangesServerAdapterImpl) release(key watchKey, ch chan struct{}) {
	a.canceled.Compute(key, func(old chan struct{}, loaded bool) (chan struct{}, bool) {
		return old, !loaded || old == ch
	})
}

// cancel drops a pending watcher and releases the long poll waiting for it
func (a *rangesServerAdapterImpl) cancel(rangeID, watchID uint64) *common.Message {
	ok, err := a.node.Cancel(rangeID, watchID)
	if ok {
		if ch, found := a.canceled.LoadAndDelete(watchKey{rangeID: rangeID, watchID: watchID}); found {
			close(ch)
		}
	}
	return common.NewCancelResponse(ok, err)
}

func canceledResponse(watchID uint64) *common.Message {
	return common.NewWatchResponse(watchID, nil, 0, false,
		store.NewError(store.RetCCanceled, fmt.Sprintf("watch %d canceled", watchID)))
}

// eventResponse converts the event of a registered watcher into a response
func eventResponse(ev watch.Event) *common.Message {
	err := ev.Err
	if errors.Is(err, watch.ErrRangeRemoved) {
		err = store.NewError(store.RetCRangeNotFound, err.Error())
	}
	return common.NewWatchResponse(ev.WatchID, ev.Records, ev.Version, ev.Timeout, err)
}
