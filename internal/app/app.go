package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SafeMPC/stealth-sap/internal/bridge"
	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/config"
	"github.com/SafeMPC/stealth-sap/internal/fee"
	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/metrics"
	"github.com/SafeMPC/stealth-sap/internal/scan"
	"github.com/SafeMPC/stealth-sap/internal/signer"
	"github.com/SafeMPC/stealth-sap/internal/storage"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// Adapters 按链 ID 索引的链适配器
type Adapters map[uint64]*chain.EthereumAdapter

// App 组装完成的运行时依赖
type App struct {
	Config        config.Config
	Adapters      Adapters
	Registry      *chain.Registry
	Bridges       *bridge.Config
	Engine        *scan.Engine
	History       storage.History
	Metrics       *metrics.ScanMetrics
	Gatherer      *prometheus.Registry
	MetricsServer *metrics.Server
}

func newApp(
	cfg config.Config,
	adapters Adapters,
	registry *chain.Registry,
	bridges *bridge.Config,
	engine *scan.Engine,
	history storage.History,
	m *metrics.ScanMetrics,
	gatherer *prometheus.Registry,
	server *metrics.Server,
) *App {
	return &App{
		Config:        cfg,
		Adapters:      adapters,
		Registry:      registry,
		Bridges:       bridges,
		Engine:        engine,
		History:       history,
		Metrics:       m,
		Gatherer:      gatherer,
		MetricsServer: server,
	}
}

// Adapter 返回链适配器及其配置
func (a *App) Adapter(chainID uint64) (*chain.EthereumAdapter, config.Chain, error) {
	ch, err := a.Config.Chain(chainID)
	if err != nil {
		return nil, config.Chain{}, err
	}
	return a.Adapters[chainID], ch, nil
}

// RegistryReader 未配置注册合约时返回 ErrInvalidChainConfig
func (a *App) RegistryReader() (chain.RegistryReader, error) {
	if a.Registry == nil {
		return nil, errors.Wrap(types.ErrInvalidChainConfig, "registry contract not configured")
	}
	return a.Registry, nil
}

// FeeRoute 由源链与可选目标链确定费率参数来源
func (a *App) FeeRoute(chainID uint64, bridgeTo uint64) (*fee.Resolver, fee.Route, error) {
	adapter, ch, err := a.Adapter(chainID)
	if err != nil {
		return nil, fee.Route{}, err
	}
	route := fee.Route{Client: ch.Client(), Bridge: ch.Bridge()}
	if bridgeTo != 0 && bridgeTo != chainID {
		if route.Bridge == (common.Address{}) {
			return nil, fee.Route{}, errors.Wrapf(types.ErrInvalidChainConfig, "chain %d has no bridge contract", chainID)
		}
		if route.Selector, err = a.Bridges.Selector(bridgeTo); err != nil {
			return nil, fee.Route{}, err
		}
	}
	return fee.NewResolver(adapter), route, nil
}

// Signer 使用配置中的钱包私钥
func (a *App) Signer(chainID uint64) (*signer.WalletSigner, error) {
	if a.Config.Wallet.PrivateKey == "" {
		return nil, errors.New("wallet private key not configured (SAP_WALLET_PRIVATE_KEY)")
	}
	adapter, ch, err := a.Adapter(chainID)
	if err != nil {
		return nil, err
	}
	price, err := ch.FixedGasPrice()
	if err != nil {
		return nil, err
	}
	var backend signer.Backend = adapter
	if price != nil {
		backend = fixedGasPrice{EthereumAdapter: adapter, price: price}
	}
	return signer.NewWalletSigner(a.Config.Wallet.PrivateKey, new(big.Int).SetUint64(chainID), backend)
}

// IdentityOptions 注册相关参数
func (a *App) IdentityOptions() []identity.Option {
	return []identity.Option{
		identity.WithModulusBits(a.Config.Registration.ModulusBits),
		identity.WithMaxAttempts(a.Config.Registration.MaxAttempts),
	}
}

type fixedGasPrice struct {
	*chain.EthereumAdapter
	price *big.Int
}

func (f fixedGasPrice) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.price), nil
}
