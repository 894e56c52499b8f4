package obj

import (
	"fmt"

	"github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/ValentinKolb/dOBJ/lib/dobj"
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	writeCmd = &cobra.Command{
		Use:   "write [dkey] [akey] [value]",
		Short: "Writes a single value in a new epoch and prints the object id and epoch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRW); err != nil {
				return err
			}
			obj, rank, class, err := target()
			if err != nil {
				return err
			}
			obj, epoch, err := session.Cont.WriteObject([]byte(args[2]), []byte(args[0]), []byte(args[1]), obj, rank, class)
			if err != nil {
				return err
			}
			defer closeObject(obj)
			fmt.Printf("oid=%s epoch=%d\n", obj.OID, epoch)
			return nil
		},
	}
	readCmd = &cobra.Command{
		Use:   "read [oid] [dkey] [akey]",
		Short: "Reads a single value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, epoch, err := readTarget(args[0])
			if err != nil {
				return err
			}
			defer closeObject(obj)
			value, err := session.Cont.ReadObject(viper.GetUint64("size"), []byte(args[1]), []byte(args[2]), obj, epoch)
			if err != nil {
				return err
			}
			fmt.Printf("epoch=%d size=%d value=%s\n", epoch, len(value), value)
			return nil
		},
	}
	writeArrayCmd = &cobra.Command{
		Use:   "write-array [dkey] [akey] [value...]",
		Short: "Writes array records 0..n-1 in a new epoch and prints the object id and epoch",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.OpenContainer(engine.ContOpenRW); err != nil {
				return err
			}
			obj, rank, class, err := target()
			if err != nil {
				return err
			}
			values := make([][]byte, len(args)-2)
			for i, v := range args[2:] {
				values[i] = []byte(v)
			}
			obj, epoch, err := session.Cont.WriteArray(values, []byte(args[0]), []byte(args[1]), obj, rank, class)
			if err != nil {
				return err
			}
			defer closeObject(obj)
			fmt.Printf("oid=%s epoch=%d records=%d\n", obj.OID, epoch, len(values))
			return nil
		},
	}
	readArrayCmd = &cobra.Command{
		Use:   "read-array [oid] [dkey] [akey] [count]",
		Short: "Reads array records 0..count-1",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var count uint64
			if _, err := fmt.Sscanf(args[3], "%d", &count); err != nil {
				return fmt.Errorf("count must be a number: %w", err)
			}
			obj, epoch, err := readTarget(args[0])
			if err != nil {
				return err
			}
			defer closeObject(obj)
			records, err := session.Cont.ReadArray(count, viper.GetUint64("size"), []byte(args[1]), []byte(args[2]), obj, epoch)
			if err != nil {
				return err
			}
			for i, r := range records {
				fmt.Printf("[%d] %s\n", i, r)
			}
			return nil
		},
	}
	punchCmd = &cobra.Command{
		Use:   "punch [oid] [dkey] [akey...]",
		Short: "Punches the object, a dkey or akeys under a dkey in a new epoch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := engine.ParseOID(args[0])
			if err != nil {
				return err
			}
			if err := session.OpenContainer(engine.ContOpenRW); err != nil {
				return err
			}
			obj := dobj.NewObject(session.Cont, oid)
			defer closeObject(obj)

			epochs := session.Cont.Epochs()
			epoch, err := epochs.Hold()
			if err != nil {
				return err
			}
			switch {
			case len(args) == 1:
				err = obj.Punch(epoch, nil)
			case len(args) == 2:
				err = obj.PunchDkeys(epoch, [][]byte{[]byte(args[1])}, nil)
			default:
				akeys := make([][]byte, len(args)-2)
				for i, a := range args[2:] {
					akeys[i] = []byte(a)
				}
				err = obj.PunchAkeys(epoch, []byte(args[1]), akeys, nil)
			}
			if err != nil {
				return err
			}
			if err := epochs.Commit(epoch); err != nil {
				return err
			}
			fmt.Printf("punched successfully at epoch %d\n", epoch)
			return nil
		},
	}
	layoutCmd = &cobra.Command{
		Use:   "layout [oid]",
		Short: "Prints the placement of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := engine.ParseOID(args[0])
			if err != nil {
				return err
			}
			if err := session.OpenContainer(engine.ContOpenRO); err != nil {
				return err
			}
			obj := dobj.NewObject(session.Cont, oid)
			defer closeObject(obj)
			if err := obj.GetLayout(); err != nil {
				return err
			}
			fmt.Printf("oid=%s class=%s shards=%d\n", obj.OID, obj.Layout.Class, len(obj.Layout.Shards))
			for i, s := range obj.Layout.Shards {
				fmt.Printf("  shard %d: %s\n", i, util.FormatRanks(s.Ranks))
			}
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{writeCmd, writeArrayCmd} {
		cmd.Flags().String("oid", "", util.WrapString("Object to write to, a new object is created if empty"))
		cmd.Flags().String("class", engine.DefaultClass.String(), util.WrapString("Class of a new object (tiny_rw, small_rw, large_rw, repl_2_rw, repl_3_rw, repl_max_rw)"))
		cmd.Flags().Int("rank", -1, util.WrapString("Rank hint of a new object, negative for none"))
	}
	for _, cmd := range []*cobra.Command{readCmd, readArrayCmd} {
		cmd.Flags().Uint64("size", 4096, util.WrapString("Receive buffer size per value (in bytes)"))
		cmd.Flags().Uint64("epoch", 0, util.WrapString("Epoch to read at, 0 reads the highest committed epoch"))
	}
}

// target returns the object given by --oid or the placement of a new object
func target() (*dobj.Object, *engine.Rank, engine.ObjClass, error) {
	class, err := engine.ParseObjClass(viper.GetString("class"))
	if err != nil {
		return nil, nil, 0, err
	}
	var rank *engine.Rank
	if r := viper.GetInt("rank"); r >= 0 {
		hint := engine.Rank(r)
		rank = &hint
	}
	if s := viper.GetString("oid"); s != "" {
		oid, err := engine.ParseOID(s)
		if err != nil {
			return nil, nil, 0, err
		}
		return dobj.NewObject(session.Cont, oid), nil, oid.Class(), nil
	}
	return nil, rank, class, nil
}

// readTarget opens the container read-only and resolves the read epoch
func readTarget(oidArg string) (*dobj.Object, engine.Epoch, error) {
	oid, err := engine.ParseOID(oidArg)
	if err != nil {
		return nil, 0, err
	}
	if err := session.OpenContainer(engine.ContOpenRO); err != nil {
		return nil, 0, err
	}
	epoch := engine.Epoch(viper.GetUint64("epoch"))
	if epoch == 0 {
		state, err := session.Cont.Epochs().Query()
		if err != nil {
			return nil, 0, errors.Wrap(err, "query epoch state")
		}
		epoch = state.HCE
	}
	return dobj.NewObject(session.Cont, oid), epoch, nil
}

func closeObject(obj *dobj.Object) {
	if obj == nil {
		return
	}
	if err := obj.Close(); err != nil {
		util.Logger.Warningf("failed to close object %s: %v", obj.OID, err)
	}
}
