package main

import (
	"os"

	"github.com/custodia-network/vaultd/cmd/vaultd/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vaultd",
		Short: "A custodial vault daemon",
		Long: `A custodial vault daemon that holds native-asset and token deposits for
registered clients, enforces a USD deposit ceiling via an external price feed,
and anchors its audit log to a data availability layer.`,
	}

	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.KeysCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
