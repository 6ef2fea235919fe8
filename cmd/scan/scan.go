package scan

import (
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

const (
	chainFlag = "chain"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("scan",
		newRun(),
		newHistory(),
	)
}
