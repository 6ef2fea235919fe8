package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/bridge"
	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/config"
	"github.com/SafeMPC/stealth-sap/internal/index"
	"github.com/SafeMPC/stealth-sap/internal/metrics"
	"github.com/SafeMPC/stealth-sap/internal/scan"
	"github.com/SafeMPC/stealth-sap/internal/storage"
)

// PROVIDERS - providers that wrap sub-configs so the injector only needs config.Config.

func NewAdapters(cfg config.Config) Adapters {
	out := make(Adapters, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		out[ch.ChainID] = chain.NewEthereumAdapter(new(big.Int).SetUint64(ch.ChainID), ch.RPCURLs...)
	}
	return out
}

// NewRegistry 未配置注册合约时返回 nil
func NewRegistry(cfg config.Config, adapters Adapters) *chain.Registry {
	if cfg.Registry.Address == "" {
		return nil
	}
	reader, ok := adapters[cfg.Registry.ChainID]
	if !ok || len(cfg.Registry.RPCURLs) > 0 {
		reader = chain.NewEthereumAdapter(new(big.Int).SetUint64(cfg.Registry.ChainID), cfg.RegistryRPCURLs()...)
	}
	return chain.NewRegistry(reader, common.HexToAddress(cfg.Registry.Address))
}

func NewBridgeConfig(cfg config.Config) (*bridge.Config, error) {
	return cfg.BridgeConfig()
}

func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func NewScanMetrics(reg *prometheus.Registry) *metrics.ScanMetrics {
	return metrics.NewScanMetrics(reg)
}

func NewMetricsServer(cfg config.Config, reg *prometheus.Registry) *metrics.Server {
	return metrics.NewServer(cfg.Metrics.ListenAddress, reg)
}

// NewRedisClient 未配置地址时返回 nil
func NewRedisClient(cfg config.Config) (*redis.Client, func(), error) {
	if cfg.Storage.RedisAddr == "" {
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Storage.RedisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "failed to ping redis")
	}

	return client, func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}, nil
}

func NewCheckpoints(client *redis.Client) scan.Checkpoints {
	if client == nil {
		return nil
	}
	return storage.NewRedisCheckpoints(client)
}

func NewHistory(cfg config.Config, reg *prometheus.Registry) (storage.History, func(), error) {
	var (
		h   storage.History
		err error
	)
	switch cfg.Storage.HistoryDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var pg *storage.PostgresHistory
		if pg, err = storage.OpenPostgresHistory(ctx, cfg.Storage.PostgresDSN); err == nil {
			if err = pg.RegisterStats(reg); err != nil {
				pg.Close()
			}
		}
		h = pg
	default:
		h, err = storage.OpenLevelDBHistory(cfg.Storage.LevelDBPath)
	}
	if err != nil {
		return nil, nil, err
	}
	return h, func() {
		if err := h.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history store")
		}
	}, nil
}

func NewIndexClient(cfg config.Config) (index.Client, error) {
	wallets, err := cfg.IndexWallets()
	if err != nil {
		return nil, err
	}
	return index.NewArseedClient(cfg.Index.BaseURL, cfg.Index.OrderURL, wallets), nil
}

// NewTracker 未配置地址时返回 nil
func NewTracker(cfg config.Config) bridge.Tracker {
	if cfg.Tracker.BaseURL == "" {
		return nil
	}
	return bridge.NewHTTPTracker(cfg.Tracker.BaseURL)
}

func NewEngine(
	cfg config.Config,
	adapters Adapters,
	bridges *bridge.Config,
	registry *chain.Registry,
	idx index.Client,
	tracker bridge.Tracker,
	checkpoints scan.Checkpoints,
	m *metrics.ScanMetrics,
) (*scan.Engine, error) {
	networks := make([]*scan.Network, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		networks = append(networks, &scan.Network{
			ChainID:    ch.ChainID,
			Reader:     adapters[ch.ChainID],
			Client:     ch.Client(),
			Bridge:     ch.Bridge(),
			StartBlock: ch.StartBlock,
		})
	}

	opts := []scan.Option{
		scan.WithOptions(cfg.ScanOptions()),
		scan.WithIndex(idx),
		scan.WithMetrics(m),
	}
	if registry != nil {
		opts = append(opts, scan.WithRegistry(registry, cfg.Registry.ChainID))
	}
	if tracker != nil {
		opts = append(opts, scan.WithTracker(tracker))
	}
	if checkpoints != nil {
		opts = append(opts, scan.WithCheckpoints(checkpoints))
	}
	return scan.NewEngine(networks, bridges, opts...)
}
