package server

import (
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dWatch/lib/ranges"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/ValentinKolb/dWatch/lib/store/dstore"
	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/ValentinKolb/dWatch/rpc/serializer"
	"github.com/ValentinKolb/dWatch/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

var requestDuration = metrics.GetOrCreateHistogram(`dwatch_rpc_request_duration_seconds`)

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
	}
}

// RPCServer serves the ranges of one node over a transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer

	node     *ranges.Node
	adapter  IRPCServerAdapter
	nodeHost *dragonboat.NodeHost
	metrics  *http.Server

	closeOnce sync.Once
}

// Node returns the range host of the server (nil before Init)
func (s *RPCServer) Node() *ranges.Node {
	return s.node
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(rangeID uint64, req []byte) []byte {
		start := time.Now()
		defer requestDuration.UpdateDuration(start)

		var msg common.Message
		var respMsg *common.Message

		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = s.adapter.Handle(rangeID, &msg)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// Init creates the stores and ranges of the configuration and registers the transport handler.
// Serve calls it, tests may call it directly to use the server without a transport.
func (s *RPCServer) Init() error {
	common.InitLoggers(s.config)

	dbFactory, err := NewDBFactory(s.config.Engine, s.config.DataDir)
	if err != nil {
		return err
	}

	local := ranges.LocalStores(dbFactory)
	var raft ranges.StoreFactory

	// Only create the NodeHost if we have raft ranges
	if s.config.HasRaftRange() {
		tracker := dstore.NewLeaderTracker()
		s.nodeHost, err = dragonboat.NewNodeHost(s.config.ToNodeHostConfig(tracker))
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}

		host := &dstore.ShardHost{
			NodeHost:  s.nodeHost,
			Router:    dstore.NewApplyRouter(),
			Tracker:   tracker,
			DBFactory: dbFactory,
			Timeout:   time.Duration(s.config.TimeoutSecond) * time.Second,
		}
		raft = ranges.RaftStores(host, s.config.ClusterMembers, func(rangeID uint64) config.Config {
			return s.config.ToDragonboatConfig(rangeID)
		})
	}

	// Every range picks its store type from the configuration
	types := make(map[uint64]common.RangeType, len(s.config.Ranges))
	for _, rc := range s.config.Ranges {
		types[rc.ID] = rc.Type
	}
	factory := func(cfg ranges.Config, onApply store.ApplyFunc) (store.IStore, error) {
		if types[cfg.ID] == common.RangeTypeRaft {
			if raft == nil {
				return nil, fmt.Errorf("node host is nil, cannot create raft range %d", cfg.ID)
			}
			return raft(cfg, onApply)
		}
		return local(cfg, onApply)
	}

	s.node = ranges.NewNode(factory, &ranges.Options{
		DefaultLongPull: s.config.DefaultLongPull,
		SweepInterval:   s.config.SweepInterval,
	})
	s.adapter = NewRangesServerAdapter(s.node, time.Duration(s.config.TimeoutSecond)*time.Second)

	for _, rc := range s.config.Ranges {
		if _, err := s.node.CreateRange(ranges.Config{
			ID:      rc.ID,
			TableID: rc.TableID,
			Start:   rc.Start,
			End:     rc.End,
			Epoch:   ranges.Epoch{ConfVer: rc.ConfVer, Version: rc.Version},
		}); err != nil {
			return fmt.Errorf("failed to create range %d: %w", rc.ID, err)
		}
		Logger.Infof("created %s range %d", rc.Type, rc.ID)
	}

	Logger.Infof("dWatch setup completed successfully")

	s.registerTransportHandler()
	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the ranges and start the transport layer
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	s.serveMetrics()
	return s.transport.Listen(s.config)
}

// Close stops the transport, the ranges (resolving all pending watches) and the node host.
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
		if s.metrics != nil {
			err = errors.CombineErrors(err, s.metrics.Close())
		}
		if s.node != nil {
			err = errors.CombineErrors(err, s.node.Close())
		}
		if s.nodeHost != nil {
			s.nodeHost.Close()
		}
	})
	return err
}

// serveMetrics exposes the prometheus metrics on their own listener
func (s *RPCServer) serveMetrics() {
	if s.config.MetricsEndpoint == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metrics = &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		Logger.Infof("Serving metrics on %s", s.config.MetricsEndpoint)
		if err := s.metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
}
