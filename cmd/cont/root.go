package cont

import (
	"github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/spf13/cobra"
)

var (
	session *util.Session

	// ContainerCommands represents the container command group
	ContainerCommands = &cobra.Command{
		Use:                "cont",
		Short:              "Manage containers, their attributes and epochs",
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags and the container address
	util.SetupRPCClientFlags(ContainerCommands)
	util.SetupContainerFlags(ContainerCommands)

	// Add subcommands
	ContainerCommands.AddCommand(createCmd)
	ContainerCommands.AddCommand(destroyCmd)
	ContainerCommands.AddCommand(queryCmd)
	ContainerCommands.AddCommand(attrListCmd)
	ContainerCommands.AddCommand(attrGetCmd)
	ContainerCommands.AddCommand(attrSetCmd)
	ContainerCommands.AddCommand(holdCmd)
	ContainerCommands.AddCommand(commitCmd)
	ContainerCommands.AddCommand(slipCmd)
}

// setupSession connects to the engine of the configured shard and the pool
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
