package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/cmd/fee"
	"github.com/SafeMPC/stealth-sap/cmd/identity"
	"github.com/SafeMPC/stealth-sap/cmd/probe"
	"github.com/SafeMPC/stealth-sap/cmd/scan"
	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

var rootCmd = &cobra.Command{
	Use:           "stealthsap",
	Short:         "Stealth address payments: identity, announcement scanning and fee quotes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(command.ConfigFlag, "", "Path to config file (yaml); SAP_* env vars override")
	rootCmd.AddCommand(
		identity.New(),
		scan.New(),
		fee.New(),
		probe.New(),
	)
}

// Execute 入口
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
