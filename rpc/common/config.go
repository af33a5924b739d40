package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/raftio"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat Config of one raft range
func (c *ServerConfig) ToDragonboatConfig(rangeID uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            rangeID,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat.
// The listener receives the leadership changes of all raft ranges of this node.
func (c *ServerConfig) ToNodeHostConfig(listener raftio.IRaftEventListener) config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:            c.DataDir,
		NodeHostDir:       c.DataDir,
		RTTMillisecond:    c.RTTMillisecond,
		RaftAddress:       c.ClusterMembers[c.ReplicaID],
		RaftEventListener: listener,
	}
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf holds the buffer sizes of socket based transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds the tcp specific options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ServerTransportConfig configures the listening side of a transport
type ServerTransportConfig struct {
	// Endpoint is the address the server listens on (e.g. 0.0.0.0:8080, /tmp/dwatch.sock)
	Endpoint string
	// WorkersPerConn limits the concurrently handled requests per connection
	WorkersPerConn int
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the connecting side of a transport
type ClientTransportConfig struct {
	RetryCount             int
	Endpoints              []string
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// RangeType decides where the data of a range lives
type RangeType string

const (
	RangeTypeLocal RangeType = "local" // single process store
	RangeTypeRaft  RangeType = "raft"  // replicated through a dragonboat shard
)

// RangeConfig describes one range served by the node
type RangeConfig struct {
	ID      uint64
	TableID uint64
	Start   []byte // encoded key, inclusive
	End     []byte // encoded key, exclusive, empty means unbounded
	ConfVer uint64
	Version uint64
	Type    RangeType
}

// ServerConfig holds all configuration parameters of a dwatch node.
type ServerConfig struct {
	// Ranges served at startup
	Ranges []RangeConfig

	// Storage engine of every range (memtree, pebble, badger)
	Engine string

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Watch parameters
	SweepInterval   time.Duration
	DefaultLongPull time.Duration

	// raft store parameters
	TimeoutSecond int64

	// Transport settings
	Transport ServerTransportConfig

	// MetricsEndpoint serves the prometheus metrics (empty disables it)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// HasRaftRange checks if the configuration contains any raft backed range
func (c *ServerConfig) HasRaftRange() bool {
	for _, r := range c.Ranges {
		if r.Type == RangeTypeRaft {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Watch
	addSection("Watch")
	addField("Sweep Interval", c.SweepInterval.String())
	addField("Default Long Pull", c.DefaultLongPull.String())

	// Ranges
	addSection("Ranges")
	addField("Engine", c.Engine)
	for _, r := range c.Ranges {
		addField(strconv.FormatUint(r.ID, 10), fmt.Sprintf("%s table=%d [%x, %x) epoch=%d/%d",
			r.Type, r.TableID, r.Start, r.End, r.ConfVer, r.Version))
	}

	if c.HasRaftRange() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		// Cluster configuration
		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")
		for _, k := range sortedKeys(c.ClusterMembers) {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Conn Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))
	addField("Write Buffer", fmt.Sprintf("%d B", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d B", c.Transport.ReadBufferSize))
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
