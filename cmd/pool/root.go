package pool

import (
	"github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/spf13/cobra"
)

var (
	session *util.Session

	// PoolCommands represents the pool command group
	PoolCommands = &cobra.Command{
		Use:                "pool",
		Short:              "Manage pools",
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the pool command
	util.SetupRPCClientFlags(PoolCommands)

	key := "group"
	PoolCommands.PersistentFlags().String(key, "", util.WrapString("Server group of the pool"))

	key = "svc"
	PoolCommands.PersistentFlags().String(key, "", util.WrapString("Comma-separated service ranks of the pool, empty accepts any"))

	// Add subcommands
	PoolCommands.AddCommand(createCmd)
	PoolCommands.AddCommand(destroyCmd)
	PoolCommands.AddCommand(queryCmd)
	PoolCommands.AddCommand(excludeCmd)
	PoolCommands.AddCommand(excludeOutCmd)
	PoolCommands.AddCommand(addTargetCmd)
	PoolCommands.AddCommand(evictCmd)
	PoolCommands.AddCommand(stopCmd)
	PoolCommands.AddCommand(globalCmd)
}

// setupSession connects to the engine of the configured shard
func setupSession(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	session, err = util.NewSession()
	return err
}

func closeSession(*cobra.Command, []string) error {
	if session != nil {
		session.Close()
	}
	return nil
}
