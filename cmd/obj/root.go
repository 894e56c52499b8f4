package obj

import (
	"github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/spf13/cobra"
)

var (
	session *util.Session

	// ObjectCommands represents the object command group
	ObjectCommands = &cobra.Command{
		Use:                "obj",
		Short:              "Read and write objects",
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags and the container address
	util.SetupRPCClientFlags(ObjectCommands)
	util.SetupContainerFlags(ObjectCommands)

	// Add subcommands
	ObjectCommands.AddCommand(writeCmd)
	ObjectCommands.AddCommand(readCmd)
	ObjectCommands.AddCommand(writeArrayCmd)
	ObjectCommands.AddCommand(readArrayCmd)
	ObjectCommands.AddCommand(punchCmd)
	ObjectCommands.AddCommand(layoutCmd)
	ObjectCommands.AddCommand(perfTestCmd)
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
