package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeMPC/stealth-sap/internal/chain/ethereum"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

type fakeReader struct {
	calls  map[string][]byte
	logs   []ethtypes.Log
	latest uint64
	topics []common.Hash
}

func (f *fakeReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, ok := f.calls[common.Bytes2Hex(data[:4])]
	if !ok {
		return nil, types.ErrChainQueryFailed
	}
	return out, nil
}

func (f *fakeReader) QueryEvents(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]ethtypes.Log, error) {
	f.topics = topics
	return f.logs, nil
}

func (f *fakeReader) GetBlock(ctx context.Context, number uint64) (*ethereum.Block, error) {
	return &ethereum.Block{}, nil
}

func (f *fakeReader) GetTransaction(ctx context.Context, hash common.Hash) (*ethereum.Transaction, error) {
	return &ethereum.Transaction{}, nil
}

func (f *fakeReader) GetBlockNumber(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

func selector(t *testing.T, method string, contract string) string {
	t.Helper()
	switch contract {
	case "client":
		return common.Bytes2Hex(clientABI.Methods[method].ID)
	case "bridge":
		return common.Bytes2Hex(bridgeABI.Methods[method].ID)
	default:
		return common.Bytes2Hex(registryABI.Methods[method].ID)
	}
}

func TestClientContractGetFeeParam(t *testing.T) {
	out, err := clientABI.Methods["getFeeParam"].Outputs.Pack(uint32(5000), big.NewInt(20000), big.NewInt(50))
	require.NoError(t, err)
	reader := &fakeReader{calls: map[string][]byte{selector(t, "getFeeParam", "client"): out}}

	c := NewClientContract(reader, common.HexToAddress("0xc1"))
	params, err := c.GetFeeParam(context.Background(), common.HexToAddress("0x01"), big.NewInt(1), types.NativeTokenAddress)
	require.NoError(t, err)
	assert.Equal(t, uint32(5000), params.Rate)
	assert.Equal(t, int64(20000), params.Cap.Int64())
	assert.Equal(t, int64(50), params.Floor.Int64())
}

func TestClientContractGetSAAndExistSA(t *testing.T) {
	saOut, err := clientABI.Methods["getSA"].Outputs.Pack(big.NewInt(3), big.NewInt(1000))
	require.NoError(t, err)
	existOut, err := clientABI.Methods["existSA"].Outputs.Pack(true)
	require.NoError(t, err)
	reader := &fakeReader{calls: map[string][]byte{
		selector(t, "getSA", "client"):   saOut,
		selector(t, "existSA", "client"): existOut,
	}}

	c := NewClientContract(reader, common.HexToAddress("0xc1"))
	nonce, balance, err := c.GetSA(context.Background(), common.HexToAddress("0xaa"), types.NativeTokenAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(3), nonce.Int64())
	assert.Equal(t, int64(1000), balance.Int64())

	ok, err := c.ExistSA(context.Background(), types.NativeTokenAddress, []common.Address{common.HexToAddress("0xaa")})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBridgeContractGetFeeParam(t *testing.T) {
	out, err := bridgeABI.Methods["getFeeParam"].Outputs.Pack(uint32(100), big.NewInt(7), big.NewInt(1))
	require.NoError(t, err)
	reader := &fakeReader{calls: map[string][]byte{selector(t, "getFeeParam", "bridge"): out}}

	b := NewBridgeContract(reader, common.HexToAddress("0xb1"))
	params, err := b.GetFeeParam(context.Background(), 16015286601757825753, types.ActionSAtoSA, types.NativeTokenAddress)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), params.Rate)
}

func TestContractCallFailurePropagates(t *testing.T) {
	c := NewClientContract(&fakeReader{}, common.HexToAddress("0xc1"))
	_, err := c.GetFeeParam(context.Background(), common.HexToAddress("0x01"), big.NewInt(1), types.NativeTokenAddress)
	assert.ErrorIs(t, err, types.ErrChainQueryFailed)
}

func TestTransferLogRoundTrip(t *testing.T) {
	a := &types.Announcement{
		StealthAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Token:          types.NativeTokenAddress,
		Amount:         big.NewInt(42),
		Ciphertext:     []byte{0x01, 0x02, 0x03},
		BlockNumber:    99,
		TxHash:         common.HexToHash("0xabc"),
	}
	l, err := EncodeTransferLog(common.HexToAddress("0xc1"), a)
	require.NoError(t, err)

	got, err := DecodeTransferLog(l)
	require.NoError(t, err)
	assert.Equal(t, a.StealthAddress, got.StealthAddress)
	assert.Equal(t, a.Token, got.Token)
	assert.Equal(t, 0, a.Amount.Cmp(got.Amount))
	assert.Equal(t, a.Ciphertext, got.Ciphertext)
	assert.Equal(t, uint64(99), got.BlockNumber)
	assert.Equal(t, types.ChainTagTransfer, got.Tag)

	_, err = DecodeBridgeLog(l, 1)
	assert.Error(t, err)
}

func TestBridgeLogRoundTrip(t *testing.T) {
	a := &types.Announcement{
		StealthAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Token:          common.HexToAddress("0xFd57b4ddBf88a4e07fF4e34C487b99af2Fe82a05"),
		Amount:         big.NewInt(7),
		Ciphertext:     []byte{0xff},
		BlockNumber:    5,
	}
	l, err := EncodeBridgeLog(common.HexToAddress("0xb1"), 13264668187771770619, common.HexToHash("0x01"), a)
	require.NoError(t, err)
	assert.Equal(t, SelectorTopic(13264668187771770619), l.Topics[2])

	got, err := DecodeBridgeLog(l, 11155111)
	require.NoError(t, err)
	assert.Equal(t, a.StealthAddress, got.StealthAddress)
	assert.Equal(t, a.Token, got.Token)
	assert.Equal(t, types.ChainTagBridge, got.Tag)
	assert.Equal(t, uint64(11155111), got.SourceChainID)
}

func TestRegistryGetKeysAndBlock(t *testing.T) {
	op := types.SplitWords(make([]byte, 33))
	op[0][0] = 0x02
	enc := types.SplitWords([]byte{0x01, 0x02})
	cipher := types.SplitWords([]byte{0x03})
	out, err := registryABI.Methods["getKeys"].Outputs.Pack(op, enc, cipher)
	require.NoError(t, err)

	owner := common.HexToAddress("0x4F5f175d7626778DD48eE95409231868D7ACD39B")
	reader := &fakeReader{
		calls:  map[string][]byte{selector(t, "getKeys", "registry"): out},
		logs:   []ethtypes.Log{{BlockNumber: 10}, {BlockNumber: 25}},
		latest: 100,
	}
	r := NewRegistry(reader, common.HexToAddress("0xe1"))

	words, err := r.GetKeys(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, words.OpPublicKey, 2)
	assert.False(t, words.IsEmpty())

	block, ok, err := r.RegistrationBlock(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(25), block)
	assert.Equal(t, []common.Hash{KeyChangedTopic, AddressTopic(owner)}, reader.topics)

	reader.logs = nil
	_, ok, err = r.RegistrationBlock(context.Background(), owner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPackSetKeys(t *testing.T) {
	data, err := PackSetKeys(&types.RegistrationWords{
		OpPublicKey:  types.SplitWords(make([]byte, 33)),
		EncPublicKey: types.SplitWords(make([]byte, 256)),
		CipherText:   types.SplitWords(make([]byte, 512)),
	})
	require.NoError(t, err)
	assert.Equal(t, registryABI.Methods["setKeys"].ID, data[:4])

	_, err = PackSetKeys(nil)
	assert.Error(t, err)
}
