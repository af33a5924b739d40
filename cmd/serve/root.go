package serve

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	cmdUtil "github.com/ValentinKolb/dWatch/cmd/util"
	"github.com/ValentinKolb/dWatch/lib/db/util"
	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/ValentinKolb/dWatch/rpc/server"
	"github.com/ValentinKolb/dWatch/rpc/transport"
	"github.com/ValentinKolb/dWatch/rpc/transport/http"
	"github.com/ValentinKolb/dWatch/rpc/transport/tcp"
	"github.com/ValentinKolb/dWatch/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dwatch server",
		Long:    `Start the dwatch server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DWATCH_<flag> (e.g. DWATCH_SWEEP_INTERVAL=2s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "ranges"
	ServeCmd.PersistentFlags().String(key, "1=local:1::", cmdUtil.WrapString("Comma-separated list of ranges to serve. Format: ID=TYPE:TABLE:START:END where TYPE is one of: local, raft. START and END are the first key part of the range bounds (empty = start or end of the table)"))

	key = "epoch"
	ServeCmd.PersistentFlags().String(key, "1:1", cmdUtil.WrapString("Initial epoch of all ranges. Format: CONF_VER:VERSION"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, server.EngineMemTree, cmdUtil.WrapString("Storage engine of the ranges (memtree, pebble, badger)"))

	key = "sweep-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Second, cmdUtil.WrapString("How often expired watchers are removed"))

	key = "default-long-pull"
	ServeCmd.PersistentFlags().Duration(key, 30*time.Second, cmdUtil.WrapString("Long pull of watches that do not set one"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft ranges) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(raft ranges) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(raft ranges) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for the raft logs, the snapshots and the files of the pebble and badger engines"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft ranges) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft ranges) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds of raft proposals and reads"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dwatch.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 128, cmdUtil.WrapString("How many requests of one connection are handled at once (tcp and unix only). Every pending watch occupies a worker"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("The size of the read buffer of a connection (in KB, ignored for http)"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("The size of the write buffer of a connection (in KB, ignored for http)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (tcp only)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time in seconds (tcp only)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address on which the prometheus metrics are served (empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse the epoch
	confVer, version, err := parseEpoch(viper.GetString("epoch"))
	if err != nil {
		return err
	}

	// parse ranges
	serveCmdConfig.Ranges = []common.RangeConfig{}
	for _, rangeConfig := range strings.Split(viper.GetString("ranges"), ",") {
		rc, err := parseRange(strings.TrimSpace(rangeConfig))
		if err != nil {
			return err
		}
		rc.ConfVer, rc.Version = confVer, version
		serveCmdConfig.Ranges = append(serveCmdConfig.Ranges, rc)
	}

	switch engine := viper.GetString("engine"); engine {
	case server.EngineMemTree, server.EnginePebble, server.EngineBadger:
		serveCmdConfig.Engine = engine
	default:
		return fmt.Errorf("invalid engine %s (expected one of: memtree, pebble, badger)", engine)
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.SweepInterval = viper.GetDuration("sweep-interval")
	serveCmdConfig.DefaultLongPull = viper.GetDuration("default-long-pull")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = util.HashString(id, 0)
	} else if serveCmdConfig.HasRaftRange() {
		// error only if cluster mode
		return fmt.Errorf("ReplicaId is required for raft ranges")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			serveCmdConfig.ClusterMembers[util.HashString(parts[0], 0)] = parts[1]
		}
	} else if serveCmdConfig.HasRaftRange() {
		// error only if cluster mode
		return fmt.Errorf("ClusterMembers is required for raft ranges")
	}

	// test if the replica id is in the cluster members (only for cluster mode)
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRaftRange() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// parseRange parses one range of the form ID=TYPE:TABLE:START:END
func parseRange(s string) (common.RangeConfig, error) {
	idAndRest := strings.SplitN(s, "=", 2)
	if len(idAndRest) != 2 {
		return common.RangeConfig{}, fmt.Errorf("invalid range format: %s (expected ID=TYPE:TABLE:START:END)", s)
	}

	rangeID, err := strconv.ParseUint(strings.TrimSpace(idAndRest[0]), 10, 64)
	if err != nil {
		return common.RangeConfig{}, fmt.Errorf("invalid range ID %s: %v", idAndRest[0], err)
	}

	fields := strings.Split(idAndRest[1], ":")
	if len(fields) != 4 {
		return common.RangeConfig{}, fmt.Errorf("invalid range format: %s (expected ID=TYPE:TABLE:START:END)", s)
	}

	var rangeType common.RangeType
	switch t := common.RangeType(fields[0]); t {
	case common.RangeTypeLocal, common.RangeTypeRaft:
		rangeType = t
	default:
		return common.RangeConfig{}, fmt.Errorf("invalid range type: %s (expected one of: local, raft)", fields[0])
	}

	tableID, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return common.RangeConfig{}, fmt.Errorf("invalid table ID %s: %v", fields[1], err)
	}

	// empty bounds cover the whole table
	start := keys.TablePrefix(tableID)
	if fields[2] != "" {
		start = keys.MustEncode(tableID, fields[2])
	}
	end := keys.PrefixEnd(keys.TablePrefix(tableID))
	if fields[3] != "" {
		end = keys.MustEncode(tableID, fields[3])
	}

	return common.RangeConfig{
		ID:      rangeID,
		TableID: tableID,
		Start:   start,
		End:     end,
		Type:    rangeType,
	}, nil
}

// parseEpoch parses an epoch of the form CONF_VER:VERSION
func parseEpoch(s string) (uint64, uint64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid epoch format: %s (expected CONF_VER:VERSION)", s)
	}
	confVer, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid conf version %s: %v", parts[0], err)
	}
	version, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version %s: %v", parts[1], err)
	}
	return confVer, version, nil
}

// run starts the dwatch server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport()
	case "unix":
		t = unix.NewUnixServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dwatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

}
