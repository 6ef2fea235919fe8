package scan

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/app"
	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/scan"
	"github.com/SafeMPC/stealth-sap/internal/storage"
	"github.com/SafeMPC/stealth-sap/internal/types"
	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

const (
	startFlag      = "start"
	endFlag        = "end"
	txFlag         = "tx"
	resumeFlag     = "resume"
	bridgeFromFlag = "bridge-from"
	metricsFlag    = "metrics"
	noSaveFlag     = "no-save"
)

type progressOutput struct {
	SessionID string            `json:"sessionId"`
	Total     int               `json:"total"`
	Windows   int               `json:"windows"`
	Current   float64           `json:"current"`
	Block     uint64            `json:"block"`
	Scanned   int               `json:"scanned"`
	Data      []*storage.Record `json:"data"`
}

func newRun() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan announcements addressed to the configured wallet",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	cmd.Flags().Uint64(chainFlag, 0, "Chain to scan (required)")
	cmd.Flags().Uint64(startFlag, 0, "First block to scan")
	cmd.Flags().Uint64(endFlag, 0, "Last block to scan (defaults to latest)")
	cmd.Flags().String(txFlag, "", "Only scan announcements of this transaction")
	cmd.Flags().Bool(resumeFlag, false, "Continue from the stored checkpoint")
	cmd.Flags().StringSlice(bridgeFromFlag, nil, "Bridged source range as chain:start[:end], repeatable")
	cmd.Flags().Bool(metricsFlag, false, "Serve /metrics while scanning")
	cmd.Flags().Bool(noSaveFlag, false, "Do not write matches to history")
	return cmd
}

// parseBridgeRanges 解析 chain:start[:end]
func parseBridgeRanges(values []string) ([]scan.BridgeRange, error) {
	ranges := make([]scan.BridgeRange, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, errors.Errorf("invalid bridge range %q, expected chain:start[:end]", v)
		}
		nums := make([]uint64, len(parts))
		for i, p := range parts {
			n, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid bridge range %q", v)
			}
			nums[i] = n
		}
		r := scan.BridgeRange{SourceChain: nums[0], StartBlock: nums[1]}
		if len(nums) == 3 {
			r.EndBlock = nums[2]
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func buildPayload(cmd *cobra.Command) *types.ScanPayload {
	payload := &types.ScanPayload{}
	if cmd.Flags().Changed(startFlag) {
		v, _ := cmd.Flags().GetUint64(startFlag)
		payload.StartBlock = &v
	}
	if cmd.Flags().Changed(endFlag) {
		v, _ := cmd.Flags().GetUint64(endFlag)
		payload.EndBlock = &v
	}
	payload.TxHash, _ = cmd.Flags().GetString(txFlag)
	return payload
}

func runScan(cmd *cobra.Command, _ []string) error {
	chainID, _ := cmd.Flags().GetUint64(chainFlag)
	if chainID == 0 {
		return errors.New("--chain is required")
	}
	resume, _ := cmd.Flags().GetBool(resumeFlag)
	serveMetrics, _ := cmd.Flags().GetBool(metricsFlag)
	noSave, _ := cmd.Flags().GetBool(noSaveFlag)
	rawRanges, _ := cmd.Flags().GetStringSlice(bridgeFromFlag)
	ranges, err := parseBridgeRanges(rawRanges)
	if err != nil {
		return err
	}
	payload := buildPayload(cmd)

	return command.Run(cmd, func(ctx context.Context, a *app.App) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if serveMetrics {
			go func() {
				if err := a.MetricsServer.Start(ctx); err != nil {
					log.Error().Err(err).Msg("Metrics server stopped")
				}
			}()
		}

		s, err := a.Signer(chainID)
		if err != nil {
			return err
		}
		id, err := identity.DeriveIdentity(ctx, s, a.IdentityOptions()...)
		if err != nil {
			return err
		}

		req, err := scan.NewRequest(id, chainID, payload)
		if err != nil {
			return err
		}
		req.Bridges = ranges
		if resume {
			req.Start = scan.StartCheckpoint
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		return a.Engine.Run(ctx, req, func(p *scan.Progress) error {
			records := make([]*storage.Record, 0, len(p.Data))
			for _, m := range p.Data {
				records = append(records, storage.RecordFromMatch(id.Owner, m))
			}
			if !noSave && len(records) > 0 {
				if err := a.History.Save(ctx, records...); err != nil {
					return err
				}
			}
			return enc.Encode(progressOutput{
				SessionID: p.SessionID,
				Total:     p.Total,
				Windows:   p.Windows,
				Current:   p.Current,
				Block:     p.Block,
				Scanned:   p.Scanned,
				Data:      records,
			})
		})
	})
}
