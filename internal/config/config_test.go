package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeMPC/stealth-sap/internal/config"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const sample = `
logger:
  level: debug
chains:
  - chain_id: 11155111
    name: sepolia
    rpc_urls: ["http://a.example", "http://b.example"]
    client_address: "0x1111111111111111111111111111111111111111"
    bridge_address: "0x2222222222222222222222222222222222222222"
    start_block: 5000000
    gas_price: "1000000000"
  - chain_id: 97
    name: bnbtestnet
    rpc_urls: ["http://c.example"]
    client_address: "0x3333333333333333333333333333333333333333"
registry:
  chain_id: 11155111
  address: "0x4444444444444444444444444444444444444444"
index:
  wallets:
    "11155111": "0x4F5f175d7626778DD48eE95409231868D7ACD39B"
storage:
  history_driver: postgres
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SAP_SCAN_CHUNK_DELAY", "10ms")
	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, 20, cfg.Scan.ChunkSize)
	assert.Equal(t, uint64(1200), cfg.Scan.WindowSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Scan.ChunkDelay)
	assert.Equal(t, 64, cfg.Registration.MaxAttempts)
	assert.Equal(t, "postgres", cfg.Storage.HistoryDriver)

	ch, err := cfg.Chain(11155111)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), ch.Client())
	assert.Equal(t, uint64(5000000), ch.StartBlock)
	price, err := ch.FixedGasPrice()
	require.NoError(t, err)
	assert.Equal(t, int64(1000000000), price.Int64())

	other, err := cfg.Chain(97)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, other.Bridge())

	_, err = cfg.Chain(1)
	assert.ErrorIs(t, err, types.ErrInvalidChainConfig)

	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.RegistryRPCURLs())

	wallets, err := cfg.IndexWallets()
	require.NoError(t, err)
	assert.Len(t, wallets, 1)

	bridges, err := cfg.BridgeConfig()
	require.NoError(t, err)
	sel, err := bridges.Selector(11155111)
	require.NoError(t, err)
	assert.Equal(t, uint64(16015286601757825753), sel)

	opts := cfg.ScanOptions()
	assert.Equal(t, 4, opts.Workers)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Empty(t, cfg.Chains)
	assert.Equal(t, "leveldb", cfg.Storage.HistoryDriver)
	assert.Equal(t, 2048, cfg.Registration.ModulusBits)
}

func TestValidate(t *testing.T) {
	valid := config.Chain{
		ChainID:       1,
		RPCURLs:       []string{"http://x"},
		ClientAddress: "0x1111111111111111111111111111111111111111",
	}
	base := func(chains ...config.Chain) config.Config {
		return config.Config{Logger: config.Logger{Level: "info"}, Chains: chains}
	}

	require.NoError(t, base(valid).Validate())

	zero := valid
	zero.ChainID = 0
	assert.ErrorIs(t, base(zero).Validate(), types.ErrInvalidChainConfig)

	assert.ErrorIs(t, base(valid, valid).Validate(), types.ErrInvalidChainConfig)

	noRPC := valid
	noRPC.RPCURLs = nil
	assert.ErrorIs(t, base(noRPC).Validate(), types.ErrInvalidChainConfig)

	badAddr := valid
	badAddr.ClientAddress = "0x1234"
	assert.ErrorIs(t, base(badAddr).Validate(), types.ErrInvalidChainConfig)

	badGas := valid
	badGas.GasPrice = "cheap"
	assert.ErrorIs(t, base(badGas).Validate(), types.ErrInvalidChainConfig)

	cfg := base(valid)
	cfg.Registry = config.Registry{Address: "0x4444444444444444444444444444444444444444"}
	assert.ErrorIs(t, cfg.Validate(), types.ErrInvalidChainConfig)
}
