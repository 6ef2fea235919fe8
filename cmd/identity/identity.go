package identity

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/app"
	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/keypair"
	"github.com/SafeMPC/stealth-sap/internal/signer"
	"github.com/SafeMPC/stealth-sap/internal/types"
	"github.com/SafeMPC/stealth-sap/internal/util/command"
)

const (
	chainFlag       = "chain"
	revealFlag      = "reveal"
	sendFlag        = "send"
	gasLimitFlag    = "gas-limit"
	defaultGasLimit = 600000
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("identity",
		newDerive(),
		newRegisterPayload(),
		newStatus(),
	)
}

type identityOutput struct {
	Owner        common.Address `json:"owner"`
	OpPublicKey  string         `json:"opPubKey"`
	OpAddress    common.Address `json:"opAddress"`
	EncPublicKey string         `json:"encPubKey"`
	OpPrivateKey string         `json:"opPrivateKey,omitempty"`
}

// deriveIdentity 使用配置钱包在指定链上签名派生身份
func deriveIdentity(ctx context.Context, a *app.App, chainID uint64) (*identity.Identity, error) {
	s, err := a.Signer(chainID)
	if err != nil {
		return nil, err
	}
	return identity.DeriveIdentity(ctx, s, a.IdentityOptions()...)
}

// registryChain 未指定时使用注册链
func registryChain(cmd *cobra.Command, a *app.App) uint64 {
	if id, _ := cmd.Flags().GetUint64(chainFlag); id != 0 {
		return id
	}
	return a.Config.Registry.ChainID
}

func newDerive() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the stealth identity of the configured wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reveal, _ := cmd.Flags().GetBool(revealFlag)
			return command.Run(cmd, func(ctx context.Context, a *app.App) error {
				id, err := deriveIdentity(ctx, a, registryChain(cmd, a))
				if err != nil {
					return err
				}
				out := identityOutput{
					Owner:        id.Owner,
					OpPublicKey:  id.Op.PublicKeyHex(),
					OpAddress:    id.Op.Address(),
					EncPublicKey: id.Enc.PublicKeyHex(),
				}
				if reveal {
					out.OpPrivateKey = id.Op.PrivateKeyHex()
				}
				return command.PrintJSON(cmd, out)
			})
		},
	}
	cmd.Flags().Uint64(chainFlag, 0, "Chain used for the wallet signer (defaults to registry chain)")
	cmd.Flags().Bool(revealFlag, false, "Print the op private key")
	return cmd
}

func newRegisterPayload() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register-payload",
		Short: "Build the registration payload, optionally sending setKeys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			send, _ := cmd.Flags().GetBool(sendFlag)
			gasLimit, _ := cmd.Flags().GetUint64(gasLimitFlag)
			return command.Run(cmd, func(ctx context.Context, a *app.App) error {
				chainID := registryChain(cmd, a)
				id, err := deriveIdentity(ctx, a, chainID)
				if err != nil {
					return err
				}
				reg, err := identity.BuildRegistration(id, a.IdentityOptions()...)
				if err != nil {
					return err
				}
				if !send {
					return command.PrintJSON(cmd, reg.Hex())
				}

				if a.Registry == nil {
					return errors.Wrap(types.ErrInvalidChainConfig, "registry contract not configured")
				}
				if chainID != a.Config.Registry.ChainID {
					return errors.Errorf("registry lives on chain %d, not %d", a.Config.Registry.ChainID, chainID)
				}
				data, err := chain.PackSetKeys(reg.Words())
				if err != nil {
					return err
				}
				s, err := a.Signer(chainID)
				if err != nil {
					return err
				}
				hash, err := s.SendTransaction(ctx, &signer.TxRequest{
					To:       a.Registry.Address(),
					Data:     data,
					Value:    new(big.Int),
					GasLimit: gasLimit,
				})
				if err != nil {
					return err
				}
				return command.PrintJSON(cmd, map[string]interface{}{
					"payload": reg.Hex(),
					"txHash":  hash,
				})
			})
		},
	}
	cmd.Flags().Uint64(chainFlag, 0, "Chain used for the wallet signer (defaults to registry chain)")
	cmd.Flags().Bool(sendFlag, false, "Send setKeys to the registry contract")
	cmd.Flags().Uint64(gasLimitFlag, defaultGasLimit, "Gas limit for the setKeys transaction")
	return cmd
}

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status <address>",
		Short: "Show whether an address has registered stealth keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := keypair.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return command.Run(cmd, func(ctx context.Context, a *app.App) error {
				registry, err := a.RegistryReader()
				if err != nil {
					return err
				}
				words, err := registry.GetKeys(ctx, owner)
				if err != nil {
					return err
				}
				out := map[string]interface{}{
					"address":    owner,
					"registered": identity.IsRegistered(words),
				}
				if keys, err := identity.DecodeRegisteredKeys(words); err == nil {
					out["opPubKey"] = keys.Op.PublicKeyHex()
					out["encPubKey"] = keys.Enc.PublicKeyHex()
					if block, ok, err := registry.RegistrationBlock(ctx, owner); err == nil && ok {
						out["registrationBlock"] = block
					}
				}
				return command.PrintJSON(cmd, out)
			})
		},
	}
}
