package probe

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/app"
	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

const (
	chainFlag   = "chain"
	timeoutFlag = "timeout"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newRPC(),
	)
}

type rpcStatus struct {
	ChainID     uint64 `json:"chainId"`
	Reported    uint64 `json:"reportedChainId"`
	BlockNumber uint64 `json:"blockNumber"`
	LatencyMs   int64  `json:"latencyMs"`
}

func newRPC() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Check RPC endpoints of configured chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			only, _ := cmd.Flags().GetUint64(chainFlag)
			timeout, _ := cmd.Flags().GetDuration(timeoutFlag)
			return command.Run(cmd, func(ctx context.Context, a *app.App) error {
				statuses := make([]rpcStatus, 0, len(a.Config.Chains))
				var failed bool
				for _, ch := range a.Config.Chains {
					if only != 0 && ch.ChainID != only {
						continue
					}
					st, err := probeChain(ctx, a, ch.ChainID, timeout)
					if err != nil {
						log.Error().Err(err).Uint64("chainId", ch.ChainID).Msg("RPC probe failed")
						failed = true
						continue
					}
					statuses = append(statuses, st)
				}
				if err := command.PrintJSON(cmd, statuses); err != nil {
					return err
				}
				if failed {
					return errors.New("one or more chains failed the RPC probe")
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64(chainFlag, 0, "Only probe this chain")
	cmd.Flags().Duration(timeoutFlag, 10*time.Second, "Timeout per chain")
	return cmd
}

func probeChain(ctx context.Context, a *app.App, chainID uint64, timeout time.Duration) (rpcStatus, error) {
	adapter, _, err := a.Adapter(chainID)
	if err != nil {
		return rpcStatus{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reported, err := adapter.RPC().ChainID(ctx)
	if err != nil {
		return rpcStatus{}, err
	}
	if reported.Uint64() != chainID {
		return rpcStatus{}, errors.Errorf("endpoint reports chain %d, configured %d", reported.Uint64(), chainID)
	}
	block, err := adapter.RPC().BlockNumber(ctx)
	if err != nil {
		return rpcStatus{}, err
	}
	return rpcStatus{
		ChainID:     chainID,
		Reported:    reported.Uint64(),
		BlockNumber: block,
		LatencyMs:   time.Since(start).Milliseconds(),
	}, nil
}
