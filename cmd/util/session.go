package util

import (
	"github.com/ValentinKolb/dOBJ/lib/dobj"
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/client"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

// Session holds the client objects of one CLI invocation. Pool and Cont are nil
// until ConnectPool and OpenContainer were called.
type Session struct {
	Ctx  *dobj.Context
	Pool *dobj.Pool
	Cont *dobj.Container
}

// SetupPoolFlags adds the flags addressing a pool connection
func SetupPoolFlags(cmd *cobra.Command) {
	key := "pool"
	cmd.PersistentFlags().String(key, "", WrapString("UUID of the pool"))

	key = "group"
	cmd.PersistentFlags().String(key, "", WrapString("Server group of the pool"))

	key = "svc"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated service ranks of the pool, empty accepts any"))
}

// SetupContainerFlags adds the flags addressing a container
func SetupContainerFlags(cmd *cobra.Command) {
	SetupPoolFlags(cmd)

	key := "cont"
	cmd.PersistentFlags().String(key, "", WrapString("UUID of the container"))
}

// NewSession connects to the engine of the configured shard
func NewSession() (*Session, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}

	e, err := client.NewRPCEngine(GetShardID(), *GetClientConfig(), t, s)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to shard %d", GetShardID())
	}

	ctx, err := dobj.NewContext(e, dobj.WithOwnedEngine(), dobj.WithLogger(Logger))
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return &Session{Ctx: ctx}, nil
}

// ConnectPool connects the pool given by the --pool, --group and --svc flags
func (s *Session) ConnectPool(flags uint64) error {
	id, err := uuid.Parse(viper.GetString("pool"))
	if err != nil {
		return errors.Wrap(err, "invalid pool uuid")
	}
	svc, err := ParseRanks(viper.GetString("svc"))
	if err != nil {
		return err
	}

	pool := dobj.NewPool(s.Ctx)
	pool.UUID, pool.Group, pool.Svc = id, viper.GetString("group"), svc
	if err := pool.Connect(flags, nil); err != nil {
		return errors.Wrapf(err, "connect pool %s", id)
	}
	s.Pool = pool
	return nil
}

// OpenContainer connects the pool and opens the container given by the --cont flag
func (s *Session) OpenContainer(flags uint64) error {
	poolFlags := engine.PoolConnectRW
	if flags&engine.ContOpenRO != 0 {
		poolFlags = engine.PoolConnectRO
	}
	if err := s.ConnectPool(poolFlags); err != nil {
		return err
	}

	id, err := uuid.Parse(viper.GetString("cont"))
	if err != nil {
		return errors.Wrap(err, "invalid container uuid")
	}
	cont := dobj.NewContainer(s.Ctx)
	if err := cont.Open(s.Pool.Handle, id, flags, nil); err != nil {
		return errors.Wrapf(err, "open container %s", id)
	}
	s.Cont = cont
	return nil
}

// Close closes the container, disconnects the pool and closes the context
func (s *Session) Close() {
	if s.Cont != nil && s.Cont.Handle.IsValid() {
		if err := s.Cont.Close(nil); err != nil {
			Logger.Warningf("failed to close container: %v", err)
		}
	}
	if s.Pool != nil && s.Pool.Handle.IsValid() {
		if err := s.Pool.Disconnect(nil); err != nil {
			Logger.Warningf("failed to disconnect pool: %v", err)
		}
	}
	if err := s.Ctx.Close(); err != nil {
		Logger.Warningf("failed to close context: %v", err)
	}
}
