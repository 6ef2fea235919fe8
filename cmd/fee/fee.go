package fee

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/app"
	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/fee"
	"github.com/SafeMPC/stealth-sap/internal/types"
	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

const (
	chainFlag      = "chain"
	balanceFlag    = "balance"
	relayerGasFlag = "relayer-gas"
	txGasFlag      = "tx-gas"
	bridgeGasFlag  = "bridge-gas"
	amountFlag     = "amount"
	rateFlag       = "rate"
	capFlag        = "cap"
	floorFlag      = "floor"
	decimalsFlag   = "decimals"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("fee",
		newMax(),
		newCalc(),
	)
}

// readPayload 参数以 @ 开头时从文件读取
func readPayload(arg string) (*types.SendPayload, error) {
	raw := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to read payload file")
		}
		raw = b
	}
	var p types.SendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode payload")
	}
	if err := p.Validate(strfmt.Default); err != nil {
		return nil, errors.Wrap(err, "invalid payload")
	}
	return &p, nil
}

func parseFlagUnits(cmd *cobra.Command, name string, decimals uint8) (*big.Int, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return new(big.Int), nil
	}
	v, err := fee.ParseUnits(s, decimals)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --%s", name)
	}
	return v, nil
}

// quoteFromFlags relayer gas 使用代币精度，其余为原生代币
func quoteFromFlags(cmd *cobra.Command, p *types.SendPayload) (*types.FeeQuote, error) {
	relayer, err := parseFlagUnits(cmd, relayerGasFlag, p.TokenDecimals())
	if err != nil {
		return nil, err
	}
	tx, err := parseFlagUnits(cmd, txGasFlag, fee.NativeDecimals)
	if err != nil {
		return nil, err
	}
	bridgeGas, err := parseFlagUnits(cmd, bridgeGasFlag, fee.NativeDecimals)
	if err != nil {
		return nil, err
	}
	return fee.NewQuote(p.IsFromSA(), types.IsNativeToken(p.TokenAddress()), relayer, tx, bridgeGas), nil
}

func newMax() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "max <payload-json | @file>",
		Short: "Compute the maximum sendable amount for a send payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readPayload(args[0])
			if err != nil {
				return err
			}
			chainID, _ := cmd.Flags().GetUint64(chainFlag)
			if chainID == 0 {
				return errors.New("--chain is required")
			}
			quote, err := quoteFromFlags(cmd, p)
			if err != nil {
				return err
			}
			balance, err := parseFlagUnits(cmd, balanceFlag, p.TokenDecimals())
			if err != nil {
				return err
			}
			balanceSet := cmd.Flags().Changed(balanceFlag)

			return command.Run(cmd, func(ctx context.Context, a *app.App) error {
				var bridgeTo uint64
				if p.Bridge != nil {
					bridgeTo = p.Bridge.ChainID
				}
				resolver, route, err := a.FeeRoute(chainID, bridgeTo)
				if err != nil {
					return err
				}
				params, err := resolver.FetchForPayload(ctx, p, route)
				if err != nil {
					return err
				}

				if !balanceSet {
					if !p.IsFromSA() {
						return errors.New("--balance is required when sending from an EOA")
					}
					adapter, _, err := a.Adapter(chainID)
					if err != nil {
						return err
					}
					_, balance, err = chain.NewClientContract(adapter, route.Client).
						GetSA(ctx, common.HexToAddress(p.From), p.TokenAddress())
					if err != nil {
						return err
					}
				}

				res, err := fee.MaxBalance(balance, params, quote, p.TokenDecimals())
				if err != nil {
					return err
				}
				return command.PrintJSON(cmd, res)
			})
		},
	}
	cmd.Flags().Uint64(chainFlag, 0, "Source chain id (required)")
	cmd.Flags().String(balanceFlag, "", "Spendable balance in token units (read from the SA when omitted)")
	cmd.Flags().String(relayerGasFlag, "", "Relayer gas in token units")
	cmd.Flags().String(txGasFlag, "", "Transaction gas in native units")
	cmd.Flags().String(bridgeGasFlag, "", "Bridge gas in native units")
	return cmd
}

func newCalc() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Compute the fee charged for an amount with the given parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			decimals, _ := cmd.Flags().GetUint8(decimalsFlag)
			rate, _ := cmd.Flags().GetUint32(rateFlag)
			amount, err := parseFlagUnits(cmd, amountFlag, decimals)
			if err != nil {
				return err
			}
			capValue, err := parseFlagUnits(cmd, capFlag, decimals)
			if err != nil {
				return err
			}
			floor, err := parseFlagUnits(cmd, floorFlag, decimals)
			if err != nil {
				return err
			}
			params := &types.FeeParams{Rate: rate, Cap: capValue, Floor: floor}
			v := fee.CalcFee(amount, params)
			return command.PrintJSON(cmd, map[string]string{
				"amount": fee.FormatUnits(amount, decimals),
				"fee":    fee.FormatUnits(v, decimals),
			})
		},
	}
	cmd.Flags().String(amountFlag, "0", "Amount in token units")
	cmd.Flags().Uint32(rateFlag, 0, "Fee rate in parts per million")
	cmd.Flags().String(capFlag, "", "Fee cap in token units (empty means none)")
	cmd.Flags().String(floorFlag, "", "Fee floor in token units")
	cmd.Flags().Uint8(decimalsFlag, types.DefaultTokenDecimals, "Token decimals")
	return cmd
}
