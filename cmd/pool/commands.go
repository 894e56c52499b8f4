package pool

import (
	"encoding/hex"
	"fmt"

	"github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/ValentinKolb/dOBJ/lib/dobj"
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Creates a pool and prints its uuid and service ranks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := util.ParseRanks(viper.GetString("targets"))
			if err != nil {
				return err
			}
			p := dobj.NewPool(session.Ctx)
			if err := p.Create(
				viper.GetUint32("mode"),
				viper.GetUint32("uid"),
				viper.GetUint32("gid"),
				viper.GetUint64("scm-size")*1024*1024,
				viper.GetString("group"),
				targets,
				viper.GetUint32("svc-nr"),
				nil,
			); err != nil {
				return err
			}
			fmt.Printf("pool=%s svc=%s\n", p.UUID, util.FormatRanks(p.Svc))
			return nil
		},
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy [uuid]",
		Short: "Destroys a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := poolFromArgs(args)
			if err != nil {
				return err
			}
			if err := p.Destroy(viper.GetBool("force"), nil); err != nil {
				return err
			}
			fmt.Println("destroyed successfully")
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [uuid]",
		Short: "Prints the pool info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := connect(args, engine.PoolConnectRO)
			if err != nil {
				return err
			}
			if err := p.Query(nil); err != nil {
				return err
			}
			printPoolInfo(p.Info)
			return nil
		},
	}
	excludeCmd = &cobra.Command{
		Use:   "exclude [uuid] [ranks]",
		Short: "Marks targets down",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRanks(args, (*dobj.Pool).Exclude, "excluded")
		},
	}
	excludeOutCmd = &cobra.Command{
		Use:   "exclude-out [uuid] [ranks]",
		Short: "Marks targets out, removing them from placement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRanks(args, (*dobj.Pool).ExcludeOut, "excluded out")
		},
	}
	addTargetCmd = &cobra.Command{
		Use:   "add-target [uuid] [ranks]",
		Short: "Brings targets (back) into the pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRanks(args, (*dobj.Pool).AddTarget, "added")
		},
	}
	evictCmd = &cobra.Command{
		Use:   "evict [uuid]",
		Short: "Invalidates every connection to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := poolFromArgs(args)
			if err != nil {
				return err
			}
			if err := p.Evict(nil); err != nil {
				return err
			}
			fmt.Println("evicted successfully")
			return nil
		},
	}
	stopCmd = &cobra.Command{
		Use:   "stop [uuid]",
		Short: "Stops the pool service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := connect(args, engine.PoolConnectRW)
			if err != nil {
				return err
			}
			if err := p.StopService(nil); err != nil {
				return err
			}
			fmt.Println("stopped successfully")
			return nil
		},
	}
	globalCmd = &cobra.Command{
		Use:   "global [uuid]",
		Short: "Prints a global handle of a new pool connection (hex)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := connect(args, engine.PoolConnectRW)
			if err != nil {
				return err
			}
			gh, err := p.Local2Global()
			if err != nil {
				return err
			}
			data, err := gh.MarshalBinary()
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(data))
			return nil
		},
	}
)

func init() {
	key := "mode"
	createCmd.Flags().Uint32(key, 0o731, util.WrapString("Access mode of the pool"))
	key = "uid"
	createCmd.Flags().Uint32(key, 0, util.WrapString("Owner user id"))
	key = "gid"
	createCmd.Flags().Uint32(key, 0, util.WrapString("Owner group id"))
	key = "scm-size"
	createCmd.Flags().Uint64(key, 1024, util.WrapString("Size of the pool (in MB)"))
	key = "targets"
	createCmd.Flags().String(key, "", util.WrapString("Comma-separated target ranks, empty uses the server default"))
	key = "svc-nr"
	createCmd.Flags().Uint32(key, 1, util.WrapString("Number of service ranks"))

	key = "force"
	destroyCmd.Flags().Bool(key, false, util.WrapString("Destroy the pool even if it has open connections"))
}

// poolFromArgs returns a pool object addressing the pool given as first argument
func poolFromArgs(args []string) (*dobj.Pool, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "invalid pool uuid")
	}
	svc, err := util.ParseRanks(viper.GetString("svc"))
	if err != nil {
		return nil, err
	}
	p := dobj.NewPool(session.Ctx)
	p.UUID, p.Group, p.Svc = id, viper.GetString("group"), svc
	return p, nil
}

// connect connects the pool given as first argument, the session disconnects it
func connect(args []string, flags uint64) (*dobj.Pool, error) {
	p, err := poolFromArgs(args)
	if err != nil {
		return nil, err
	}
	if err := p.Connect(flags, nil); err != nil {
		return nil, err
	}
	session.Pool = p
	return p, nil
}

func withRanks(args []string, op func(*dobj.Pool, []engine.Rank, dobj.Callback) error, done string) error {
	p, err := poolFromArgs(args)
	if err != nil {
		return err
	}
	ranks, err := util.ParseRanks(args[1])
	if err != nil {
		return err
	}
	if err := op(p, ranks, nil); err != nil {
		return err
	}
	fmt.Printf("%s %s successfully\n", util.FormatRanks(ranks), done)
	return nil
}

func printPoolInfo(info engine.PoolInfo) {
	fmt.Printf("uuid=%s group=%q mode=%o uid=%d gid=%d\n", info.UUID, info.Group, info.Mode, info.UID, info.GID)
	fmt.Printf("scm-size=%d map-version=%d containers=%d svc=%s\n", info.ScmSize, info.MapVersion, info.Conts, util.FormatRanks(info.Svc))
	fmt.Printf("targets=%d disabled=%d\n", len(info.Targets), info.Disabled)
	for _, t := range info.Targets {
		fmt.Printf("  rank=%d state=%s\n", t.Rank, t.State)
	}
}
