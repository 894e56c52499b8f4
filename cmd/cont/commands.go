package cont

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dOBJ/lib/dobj"
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [uuid]",
		Short: "Creates a container, with a random uuid if none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.Nil
			if len(args) == 1 {
				var err error
				if id, err = uuid.Parse(args[0]); err != nil {
					return errors.Wrap(err, "invalid container uuid")
				}
			}
			if err := session.ConnectPool(engine.PoolConnectRW); err != nil {
				return err
			}
			c := dobj.NewContainer(session.Ctx)
			if err := c.Create(session.Pool.Handle, id, nil); err != nil {
				return err
			}
			fmt.Printf("cont=%s\n", c.UUID)
			return nil
		},
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy [uuid]",
		Short: "Destroys a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "invalid container uuid")
			}
			if err := session.ConnectPool(engine.PoolConnectRW); err != nil {
				return err
			}
			c := dobj.NewContainer(session.Ctx)
			if err := c.Destroy(session.Pool.Handle, id, viper.GetBool("force"), nil); err != nil {
				return err
			}
			fmt.Println("destroyed successfully")
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Prints the container info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRO); err != nil {
				return err
			}
			if err := session.Cont.Query(nil); err != nil {
				return err
			}
			info := session.Cont.Info
			fmt.Printf("uuid=%s objects=%d snapshots=%d\n", info.UUID, info.Objects, info.Snapshots)
			fmt.Printf("epochs: %s\n", info.Epoch)
			return nil
		},
	}
	attrListCmd = &cobra.Command{
		Use:   "attr-list",
		Short: "Lists the attribute names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRO); err != nil {
				return err
			}
			names, err := session.Cont.ListAttr()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	attrGetCmd = &cobra.Command{
		Use:   "attr-get [name...]",
		Short: "Prints the values of attributes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRO); err != nil {
				return err
			}
			values, err := session.Cont.GetAttr(args)
			if err != nil {
				return err
			}
			for _, n := range args {
				fmt.Printf("%s=%s\n", n, values[n])
			}
			return nil
		},
	}
	attrSetCmd = &cobra.Command{
		Use:   "attr-set [name] [value]",
		Short: "Sets an attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRW); err != nil {
				return err
			}
			if err := session.Cont.SetAttr(map[string][]byte{args[0]: []byte(args[1])}, nil); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	holdCmd = &cobra.Command{
		Use:   "hold",
		Short: "Holds the next writable epoch and prints it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRW); err != nil {
				return err
			}
			epoch, err := session.Cont.Epochs().Hold()
			if err != nil {
				return err
			}
			fmt.Printf("epoch=%d\n", epoch)
			return nil
		},
	}
	commitCmd = &cobra.Command{
		Use:   "commit [epoch]",
		Short: "Commits a held epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(args, (*dobj.EpochManager).Commit, "committed")
		},
	}
	slipCmd = &cobra.Command{
		Use:   "slip [epoch]",
		Short: "Raises the lowest referenced epoch, reclaiming older versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(args, (*dobj.EpochManager).Slip, "slipped")
		},
	}
)

func init() {
	key := "force"
	destroyCmd.Flags().Bool(key, false, "Destroy the container even if it is open")
}

func withEpoch(args []string, op func(*dobj.EpochManager, engine.Epoch) error, done string) error {
	e, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("epoch must be a number: %w", err)
	}
	if err := session.OpenContainer(engine.ContOpenRW); err != nil {
		return err
	}
	if err := op(session.Cont.Epochs(), engine.Epoch(e)); err != nil {
		return err
	}
	state, err := session.Cont.Epochs().Query()
	if err != nil {
		return err
	}
	fmt.Printf("%s %d successfully: %s\n", done, e, state)
	return nil
}
