package config

import (
	"io/fs"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/SafeMPC/stealth-sap/internal/bridge"
	"github.com/SafeMPC/stealth-sap/internal/index"
	"github.com/SafeMPC/stealth-sap/internal/scan"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const EnvPrefix = "SAP"

type Logger struct {
	Level              string `mapstructure:"level"`
	PrettyPrintConsole bool   `mapstructure:"pretty_print_console"`
}

// Chain 一条可用链的部署信息
type Chain struct {
	ChainID       uint64   `mapstructure:"chain_id"`
	Name          string   `mapstructure:"name"`
	RPCURLs       []string `mapstructure:"rpc_urls"`
	ClientAddress string   `mapstructure:"client_address"`
	BridgeAddress string   `mapstructure:"bridge_address"`
	StartBlock    uint64   `mapstructure:"start_block"`
	// GasPrice 固定 gas price（wei），为空时从节点读取
	GasPrice string `mapstructure:"gas_price"`
}

func (c Chain) Client() common.Address {
	return common.HexToAddress(c.ClientAddress)
}

// Bridge 未部署跨链合约时为零地址
func (c Chain) Bridge() common.Address {
	if c.BridgeAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.BridgeAddress)
}

// Registry 注册合约所在链
type Registry struct {
	ChainID uint64   `mapstructure:"chain_id"`
	Address string   `mapstructure:"address"`
	RPCURLs []string `mapstructure:"rpc_urls"`
}

type BridgeToken struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
}

type BridgePeer struct {
	ChainID  uint64        `mapstructure:"chain_id"`
	Name     string        `mapstructure:"name"`
	Selector uint64        `mapstructure:"selector"`
	Tokens   []BridgeToken `mapstructure:"tokens"`
}

type Index struct {
	BaseURL  string `mapstructure:"base_url"`
	OrderURL string `mapstructure:"order_url"`
	// Wallets chainId -> 索引上传钱包，为空时使用默认值
	Wallets map[string]string `mapstructure:"wallets"`
}

type Tracker struct {
	BaseURL string `mapstructure:"base_url"`
}

type Scan struct {
	ChunkSize  int           `mapstructure:"chunk_size"`
	WindowSize uint64        `mapstructure:"window_size"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
	Workers    int           `mapstructure:"workers"`
}

type Registration struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	ModulusBits int `mapstructure:"modulus_bits"`
}

type Storage struct {
	// HistoryDriver leveldb 或 postgres
	HistoryDriver string `mapstructure:"history_driver"`
	LevelDBPath   string `mapstructure:"leveldb_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
}

type Metrics struct {
	ListenAddress string `mapstructure:"listen_address"`
}

type Wallet struct {
	PrivateKey string `mapstructure:"private_key"`
}

// Config 运行配置，加载后不再修改
type Config struct {
	Logger       Logger       `mapstructure:"logger"`
	Chains       []Chain      `mapstructure:"chains"`
	Registry     Registry     `mapstructure:"registry"`
	Bridges      []BridgePeer `mapstructure:"bridges"`
	Index        Index        `mapstructure:"index"`
	Tracker      Tracker      `mapstructure:"tracker"`
	Scan         Scan         `mapstructure:"scan"`
	Registration Registration `mapstructure:"registration"`
	Storage      Storage      `mapstructure:"storage"`
	Metrics      Metrics      `mapstructure:"metrics"`
	Wallet       Wallet       `mapstructure:"wallet"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.pretty_print_console", false)
	v.SetDefault("registry.chain_id", 0)
	v.SetDefault("registry.address", "")
	v.SetDefault("registry.rpc_urls", []string{})
	v.SetDefault("index.base_url", index.DefaultBaseURL)
	v.SetDefault("index.order_url", index.DefaultOrderURL)
	v.SetDefault("tracker.base_url", "")
	v.SetDefault("scan.chunk_size", scan.DefaultChunkSize)
	v.SetDefault("scan.window_size", scan.DefaultWindowSize)
	v.SetDefault("scan.chunk_delay", scan.DefaultChunkDelay)
	v.SetDefault("scan.workers", scan.DefaultWorkers)
	v.SetDefault("registration.max_attempts", 64)
	v.SetDefault("registration.modulus_bits", 2048)
	v.SetDefault("storage.history_driver", "leveldb")
	v.SetDefault("storage.leveldb_path", "./data/history")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("metrics.listen_address", ":9090")
	v.SetDefault("wallet.private_key", "")
}

// Load 读取 .env、配置文件与 SAP_ 前缀环境变量
// path 为空时只使用默认值与环境变量
func Load(path string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(types.ErrInvalidChainConfig, format, args...)
}

func checkAddress(field, value string, required bool) error {
	if value == "" && !required {
		return nil
	}
	if !common.IsHexAddress(value) {
		return invalid("%s: malformed address %q", field, value)
	}
	return nil
}

// Validate 校验链配置
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Logger.Level); err != nil {
		return errors.Wrapf(err, "invalid logger level %q", c.Logger.Level)
	}

	seen := make(map[uint64]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.ChainID == 0 {
			return invalid("chains[%d]: chain id is required", i)
		}
		if seen[ch.ChainID] {
			return invalid("chains[%d]: duplicate chain id %d", i, ch.ChainID)
		}
		seen[ch.ChainID] = true
		if len(ch.RPCURLs) == 0 {
			return invalid("chain %d: rpc urls are required", ch.ChainID)
		}
		if err := checkAddress("chain "+strconv.FormatUint(ch.ChainID, 10)+" client", ch.ClientAddress, true); err != nil {
			return err
		}
		if err := checkAddress("chain "+strconv.FormatUint(ch.ChainID, 10)+" bridge", ch.BridgeAddress, false); err != nil {
			return err
		}
		if _, err := ch.FixedGasPrice(); err != nil {
			return err
		}
	}

	if c.Registry.Address != "" {
		if err := checkAddress("registry", c.Registry.Address, true); err != nil {
			return err
		}
		if c.Registry.ChainID == 0 {
			return invalid("registry: chain id is required")
		}
		if len(c.Registry.RPCURLs) == 0 && !seen[c.Registry.ChainID] {
			return invalid("registry: rpc urls are required for chain %d", c.Registry.ChainID)
		}
	}

	for _, p := range c.Bridges {
		for _, t := range p.Tokens {
			if err := checkAddress("bridge "+p.Name+" token "+t.Name, t.Address, true); err != nil {
				return err
			}
		}
	}
	if _, err := c.BridgeConfig(); err != nil {
		return err
	}
	if _, err := c.IndexWallets(); err != nil {
		return err
	}

	switch c.Storage.HistoryDriver {
	case "", "leveldb", "postgres":
	default:
		return errors.Errorf("unsupported history driver %q", c.Storage.HistoryDriver)
	}
	return nil
}

// Chain 按链 ID 查询配置
func (c Config) Chain(chainID uint64) (Chain, error) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, nil
		}
	}
	return Chain{}, invalid("unsupported chain %d", chainID)
}

// RegistryRPCURLs 注册链节点，未单独配置时复用链配置
func (c Config) RegistryRPCURLs() []string {
	if len(c.Registry.RPCURLs) > 0 {
		return c.Registry.RPCURLs
	}
	if ch, err := c.Chain(c.Registry.ChainID); err == nil {
		return ch.RPCURLs
	}
	return nil
}

// FixedGasPrice 未配置时返回 nil
func (c Chain) FixedGasPrice() (*big.Int, error) {
	if c.GasPrice == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(c.GasPrice), 0)
	if !ok || price.Sign() <= 0 {
		return nil, invalid("chain %d: malformed gas price %q", c.ChainID, c.GasPrice)
	}
	return price, nil
}

// BridgeConfig 跨链表，未配置时使用默认部署
func (c Config) BridgeConfig() (*bridge.Config, error) {
	peers := make([]bridge.Peer, 0, len(c.Bridges))
	for _, p := range c.Bridges {
		peer := bridge.Peer{ChainID: p.ChainID, Name: p.Name, Selector: p.Selector}
		for _, t := range p.Tokens {
			peer.Tokens = append(peer.Tokens, bridge.Token{Name: t.Name, Address: common.HexToAddress(t.Address)})
		}
		peers = append(peers, peer)
	}
	return bridge.NewConfig(peers)
}

// IndexWallets 历史索引钱包，未配置时使用默认值
func (c Config) IndexWallets() (map[uint64]common.Address, error) {
	if len(c.Index.Wallets) == 0 {
		return index.DefaultWallets(), nil
	}
	out := make(map[uint64]common.Address, len(c.Index.Wallets))
	for k, v := range c.Index.Wallets {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, invalid("index wallet chain id %q", k)
		}
		if err := checkAddress("index wallet "+k, v, true); err != nil {
			return nil, err
		}
		out[id] = common.HexToAddress(v)
	}
	return out, nil
}

// ScanOptions 扫描参数
func (c Config) ScanOptions() scan.Options {
	return scan.Options{
		ChunkSize:  c.Scan.ChunkSize,
		WindowSize: c.Scan.WindowSize,
		ChunkDelay: c.Scan.ChunkDelay,
		Workers:    c.Scan.Workers,
	}
}
