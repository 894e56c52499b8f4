package serve

import (
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/ValentinKolb/dOBJ/lib/util"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/ValentinKolb/dOBJ/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("serve")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dOBJ server",
		Long:    `Start the dOBJ server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DOBJ_<flag> (e.g. DOBJ_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "shards"
	ServeCmd.PersistentFlags().String(key, "1=local", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: local, replicated"))

	key = "group"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Server group name of the engines, pools of other groups are rejected. Empty accepts any group"))

	key = "rank"
	ServeCmd.PersistentFlags().Uint32(key, 0, cmdUtil.WrapString("Rank of this server within its group"))

	key = "default-targets"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Number of targets a pool gets when it is created without explicit targets"))

	key = "bootstrap"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional YAML file listing pools and containers to create before the server starts listening"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(Replicated shards) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(Replicated shards) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(Replicated shards) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(Replicated shards) DataDir is the directory used for storing the raft log and the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Replicated shards) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Replicated shards) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(Replicated shards) Timeout of a proposal in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dobj.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of goroutines serving the requests of one connection (tcp and unix only)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY on accepted connections (only for tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("The keepalive interval of accepted connections (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("The linger time of accepted connections (in seconds, only for tcp, negative keeps the OS default)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer per connection (in KB, ignored for http)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer per connection (in KB, ignored for http)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Group = viper.GetString("group")
	serveCmdConfig.Rank = viper.GetUint32("rank")
	serveCmdConfig.DefaultTargets = viper.GetInt("default-targets")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Transport = common.DefaultTransportConfig()
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.Transport.TCPNoDelay = viper.GetBool("transport-tcp-nodelay")
	serveCmdConfig.Transport.TCPKeepAliveSec = viper.GetInt("transport-tcp-keepalive")
	serveCmdConfig.Transport.TCPLingerSec = viper.GetInt("transport-tcp-linger")
	serveCmdConfig.Transport.WriteBufferSize = viper.GetInt("transport-write-buffer") * 1024
	serveCmdConfig.Transport.ReadBufferSize = viper.GetInt("transport-read-buffer") * 1024

	return parseCluster(serveCmdConfig, viper.GetString("replica-id"), viper.GetString("cluster-members"))
}

// parseShards parses the ID=TYPE list of the --shards flag
func parseShards(s string) ([]common.ServerShard, error) {
	shards := []common.ServerShard{}
	seen := make(map[uint64]bool)
	for _, shardConfig := range strings.Split(s, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		// Parse shard ID
		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}
		if seen[shardID] {
			return nil, fmt.Errorf("shard %d is listed twice", shardID)
		}
		seen[shardID] = true

		shardType, err := common.ParseShardType(parts[1])
		if err != nil {
			return nil, err
		}

		shards = append(shards, common.ServerShard{
			ShardID: shardID,
			Type:    shardType,
		})
	}
	return shards, nil
}

// parseCluster sets the replica id and the cluster members. Both are only
// required when a replicated shard is served. Names are hashed into raft replica ids.
func parseCluster(conf *common.ServerConfig, replicaID, members string) error {
	// parse replica id
	if replicaID != "" {
		conf.ReplicaID = util.HashKey([]byte(replicaID), 0)
	} else if conf.HasReplicatedShard() {
		return fmt.Errorf("ReplicaId is required for replicated shards")
	}

	// parse cluster members
	if members != "" {
		conf.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(members, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			conf.ClusterMembers[util.HashKey([]byte(parts[0]), 0)] = parts[1]
		}
	} else if conf.HasReplicatedShard() {
		return fmt.Errorf("ClusterMembers is required for replicated shards")
	}

	// test if the replica id is in the cluster members (only for replicated shards)
	if _, ok := conf.ClusterMembers[conf.ReplicaID]; !ok && conf.HasReplicatedShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", conf.ReplicaID)
	}
	return nil
}

// run starts the dOBJ server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	var bootstrap *Bootstrap
	if path := viper.GetString("bootstrap"); path != "" {
		if bootstrap, err = LoadBootstrap(path); err != nil {
			return err
		}
	}

	fmt.Println(serveCmdConfig.String())

	serv := server.NewRPCServer(*serveCmdConfig, t, s)
	if err := serv.Init(); err != nil {
		return err
	}
	defer func() {
		if err := serv.Close(); err != nil {
			Logger.Warningf("failed to close server: %v", err)
		}
	}()

	if bootstrap != nil {
		if err := bootstrap.Apply(serv.Engine); err != nil {
			return err
		}
	}

	return serv.Listen()
}
