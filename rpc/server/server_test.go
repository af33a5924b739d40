package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/rpc/client"
	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/ValentinKolb/dWatch/rpc/serializer"
	"github.com/ValentinKolb/dWatch/rpc/transport/unix"
)

// startTestServer serves range 1 = [01003, 01004) of table 1 on a unix socket
// and returns a connected client.
func startTestServer(t *testing.T, s serializer.IRPCSerializer) *client.RPCClient {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "dwatch.sock")
	srv := NewRPCServer(common.ServerConfig{
		Ranges: []common.RangeConfig{{
			ID:      1,
			TableID: 1,
			Start:   keys.MustEncode(1, "01003"),
			End:     keys.MustEncode(1, "01004"),
			ConfVer: 1,
			Version: 1,
			Type:    common.RangeTypeLocal,
		}},
		Engine:          EngineMemTree,
		SweepInterval:   5 * time.Millisecond,
		DefaultLongPull: time.Second,
		TimeoutSecond:   5,
		Transport:       common.ServerTransportConfig{Endpoint: socket},
		LogLevel:        "error",
	}, unix.NewUnixServerTransport(), s)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	t.Cleanup(func() {
		_ = srv.Close()
		if err := <-errCh; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	// the socket appears once the transport listens
	var c *client.RPCClient
	var err error
	for i := 0; i < 100; i++ {
		c, err = client.NewRPCClient(common.ClientConfig{
			TimeoutSecond: 5,
			Transport:     common.ClientTransportConfig{Endpoints: []string{socket}, RetryCount: 1},
		}, unix.NewUnixClientTransport(), s)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServerRoundTrip(t *testing.T) {
	for name, s := range map[string]serializer.IRPCSerializer{
		"binary": serializer.NewBinarySerializer(),
		"json":   serializer.NewJSONSerializer(),
	} {
		t.Run(name, func(t *testing.T) {
			c := startTestServer(t, s)
			ctx := context.Background()
			ref := client.RangeRef{RangeID: 1, TableID: 1, Epoch: testEpoch}

			version, err := c.Put(ctx, ref, parts("01003"), []byte("v1"))
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if version != 1 {
				t.Errorf("version = %d, want 1", version)
			}

			recs, err := c.Get(ctx, ref, parts("01003"), client.GetOptions{})
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(recs) != 1 || string(recs[0].Value) != "v1" {
				t.Errorf("get returned %+v", recs)
			}

			// the watch is pending on the server while the put travels on the same connection
			watchCh := make(chan client.WatchResult, 1)
			errCh := make(chan error, 1)
			go func() {
				res, err := c.Watch(ctx, ref, parts("01003"), client.WatchOptions{StartVersion: version, LongPull: 5 * time.Second})
				errCh <- err
				watchCh <- res
			}()
			time.Sleep(50 * time.Millisecond)

			if _, err := c.Put(ctx, ref, parts("01003"), []byte("v2")); err != nil {
				t.Fatalf("second put: %v", err)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("watch: %v", err)
			}
			res := <-watchCh
			if res.Timeout || res.Version != 2 || len(res.Records) != 1 || string(res.Records[0].Value) != "v2" {
				t.Errorf("unexpected watch result %+v", res)
			}

			// a stale epoch surfaces as a retryable store error
			stale := ref
			stale.Epoch.Version = 0
			_, err = c.Put(ctx, stale, parts("01003"), []byte("v3"))
			if got := store.CodeOf(err); got != store.RetCEpochStale {
				t.Errorf("code = %v, want %v", got, store.RetCEpochStale)
			}
			if !client.IsRetryable(err) {
				t.Error("a stale epoch should be retryable")
			}
		})
	}
}

func TestServerWatchTimeout(t *testing.T) {
	c := startTestServer(t, serializer.NewBinarySerializer())
	ref := client.RangeRef{RangeID: 1, TableID: 1, Epoch: testEpoch}

	res, err := c.Watch(context.Background(), ref, parts("01003"), client.WatchOptions{StartVersion: 800, LongPull: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !res.Timeout {
		t.Errorf("expected a timeout, got %+v", res)
	}
}

func TestClientFollow(t *testing.T) {
	c := startTestServer(t, serializer.NewBinarySerializer())
	ref := client.RangeRef{RangeID: 1, TableID: 1, Epoch: testEpoch}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the puts are spread over several long pulls, so Follow has to re-arm in between
	go func() {
		for _, v := range []string{"v1", "v2", "v3"} {
			time.Sleep(40 * time.Millisecond)
			if _, err := c.Put(ctx, ref, parts("01003", "a"), []byte(v)); err != nil {
				t.Errorf("put %s: %v", v, err)
				return
			}
		}
	}()

	errDone := errors.New("done")
	var seen []uint64
	err := c.Follow(ctx, ref, parts("01003"), client.WatchOptions{Prefix: true, LongPull: 15 * time.Millisecond}, func(res client.WatchResult) error {
		if len(res.Records) == 0 {
			t.Errorf("change without records: %+v", res)
		}
		seen = append(seen, res.Version)
		if res.Version >= 3 {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("follow returned %v", err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("versions not increasing: %v", seen)
		}
	}
}

func TestClientWatchCancel(t *testing.T) {
	c := startTestServer(t, serializer.NewBinarySerializer())
	ref := client.RangeRef{RangeID: 1, TableID: 1, Epoch: testEpoch}
	ctx := context.Background()

	t.Run("cancel request", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := c.Watch(ctx, ref, parts("01003"), client.WatchOptions{LongPull: 5 * time.Second, WatchID: 77})
			done <- err
		}()
		time.Sleep(50 * time.Millisecond)

		ok, err := c.Cancel(ctx, 1, 77)
		if err != nil || !ok {
			t.Fatalf("cancel: ok=%v err=%v", ok, err)
		}
		select {
		case err := <-done:
			if got := store.CodeOf(err); got != store.RetCCanceled {
				t.Errorf("watch returned %v, want code %v", err, store.RetCCanceled)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("canceled watch did not return")
		}
	})

	t.Run("context done", func(t *testing.T) {
		wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if _, err := c.Watch(wctx, ref, parts("01003"), client.WatchOptions{LongPull: 5 * time.Second, WatchID: 78}); err == nil {
			t.Fatal("expected the watch to fail with its context")
		}

		// the client already dropped the watch on the server
		if ok, err := c.Cancel(ctx, 1, 78); err != nil || ok {
			t.Errorf("watch still pending after its context ended: ok=%v err=%v", ok, err)
		}
		res, err := c.Watch(ctx, ref, parts("01003"), client.WatchOptions{LongPull: 10 * time.Millisecond, WatchID: 78})
		if err != nil || !res.Timeout {
			t.Errorf("reused id: expected a timeout, got %+v (err=%v)", res, err)
		}
	})
}
