package scan

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/app"
	"github.com/SafeMPC/stealth-sap/internal/keypair"
	"github.com/SafeMPC/stealth-sap/internal/storage"
	"github.com/SafeMPC/stealth-sap/internal/types"
	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

const (
	pageFlag     = "page"
	pageSizeFlag = "page-size"
	typeFlag     = "type"
	ascFlag      = "asc"
)

type historyOutput struct {
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Records []*storage.Record `json:"records"`
}

func newHistory() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <owner>",
		Short: "List stored receive history of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := keypair.ParseAddress(args[0])
			if err != nil {
				return err
			}
			f := filterFromFlags(cmd, owner)
			return command.Run(cmd, func(ctx context.Context, a *app.App) error {
				records, total, err := a.History.Query(ctx, f)
				if err != nil {
					return err
				}
				return command.PrintJSON(cmd, historyOutput{Total: total, Page: f.Page, Records: records})
			})
		},
	}
	cmd.Flags().Uint64(chainFlag, 0, "Chain id (required)")
	cmd.Flags().Int(pageFlag, 1, "Page number, starting at 1")
	cmd.Flags().Int(pageSizeFlag, storage.DefaultPageSize, "Records per page")
	cmd.Flags().String(typeFlag, "", "Filter by type: Transfer or Bridge")
	cmd.Flags().Bool(ascFlag, false, "Oldest first")
	return cmd
}

func filterFromFlags(cmd *cobra.Command, owner common.Address) storage.Filter {
	chainID, _ := cmd.Flags().GetUint64(chainFlag)
	page, _ := cmd.Flags().GetInt(pageFlag)
	size, _ := cmd.Flags().GetInt(pageSizeFlag)
	tag, _ := cmd.Flags().GetString(typeFlag)
	asc, _ := cmd.Flags().GetBool(ascFlag)
	if page < 1 {
		page = 1
	}
	return storage.Filter{
		Owner:     owner,
		ChainID:   chainID,
		Tag:       types.ChainTag(tag),
		Page:      page,
		PageSize:  size,
		Ascending: asc,
	}
}
