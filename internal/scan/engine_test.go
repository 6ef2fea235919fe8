package scan_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeMPC/stealth-sap/internal/bridge"
	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/chain/ethereum"
	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/index"
	"github.com/SafeMPC/stealth-sap/internal/scan"
	"github.com/SafeMPC/stealth-sap/internal/stealth"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const (
	targetChain = 1001
	sourceChain = 1002
)

var (
	clientAddr = common.HexToAddress("0xc1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1")
	bridgeAddr = common.HexToAddress("0xb2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2")
	sender     = common.HexToAddress("0x5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e")
	tokenA     = common.HexToAddress("0xa0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0")
	tokenB     = common.HexToAddress("0xb0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0")
)

// fakeReader 内存链，按地址、topic 与区块过滤日志
type fakeReader struct {
	latest   uint64
	logs     []ethtypes.Log
	txBlocks map[common.Hash]uint64
	missing  map[common.Hash]bool
	logsErr  error
	balance  int64

	mu      sync.Mutex
	queries int
}

func (f *fakeReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out := common.LeftPadBytes(big.NewInt(1).Bytes(), 32)
	return append(out, common.LeftPadBytes(big.NewInt(f.balance).Bytes(), 32)...), nil
}

func (f *fakeReader) QueryEvents(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]ethtypes.Log, error) {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []ethtypes.Log
	for _, l := range f.logs {
		if l.Address != contract || l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		ok := len(topics) <= len(l.Topics)
		for i := 0; ok && i < len(topics); i++ {
			if topics[i] != (common.Hash{}) && topics[i] != l.Topics[i] {
				ok = false
			}
		}
		if ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeReader) GetBlock(ctx context.Context, number uint64) (*ethereum.Block, error) {
	return &ethereum.Block{Number: hexutil.Uint64(number), Timestamp: hexutil.Uint64(number * 10)}, nil
}

func (f *fakeReader) GetTransaction(ctx context.Context, hash common.Hash) (*ethereum.Transaction, error) {
	if f.missing[hash] {
		return nil, errors.Wrap(types.ErrChainQueryFailed, "not found")
	}
	tx := &ethereum.Transaction{Hash: hash, From: sender}
	if b, ok := f.txBlocks[hash]; ok {
		n := hexutil.Uint64(b)
		tx.BlockNumber = &n
	}
	return tx, nil
}

func (f *fakeReader) GetBlockNumber(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

type fakeTracker struct {
	msg *bridge.Message
	err error
}

func (f *fakeTracker) Lookup(ctx context.Context, txHash common.Hash) (*bridge.Message, error) {
	return f.msg, f.err
}

type fakeIndex struct {
	manifest *index.Manifest
	batches  map[string][]*types.Announcement
}

func (f *fakeIndex) Latest(ctx context.Context, chainID uint64) (*index.Manifest, error) {
	return f.manifest, nil
}

func (f *fakeIndex) Batch(ctx context.Context, hash string) ([]*types.Announcement, error) {
	return f.batches[hash], nil
}

type memCheckpoints struct {
	mu     sync.Mutex
	blocks map[uint64]uint64
}

func (m *memCheckpoints) Get(ctx context.Context, owner common.Address, chainID uint64) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[chainID]
	return b, ok, nil
}

func (m *memCheckpoints) Set(ctx context.Context, owner common.Address, chainID uint64, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocks == nil {
		m.blocks = make(map[uint64]uint64)
	}
	m.blocks[chainID] = block
	return nil
}

type fakeRegistry struct {
	block uint64
}

func (f *fakeRegistry) GetKeys(ctx context.Context, owner common.Address) (*types.RegistrationWords, error) {
	return &types.RegistrationWords{}, nil
}

func (f *fakeRegistry) RegistrationBlock(ctx context.Context, owner common.Address) (uint64, bool, error) {
	return f.block, f.block != 0, nil
}

var (
	bobOnce sync.Once
	bob     *identity.Identity
	bobKeys *identity.RegisteredKeys
)

func testIdentity(t *testing.T) (*identity.Identity, *identity.RegisteredKeys) {
	t.Helper()
	bobOnce.Do(func() {
		id, err := identity.FromSignature(bytes.Repeat([]byte{0x07}, 65), identity.WithModulusBits(1024))
		if err != nil {
			panic(err)
		}
		reg, err := identity.BuildRegistration(id)
		if err != nil {
			panic(err)
		}
		keys, err := identity.DecodeRegisteredKeys(reg.Words())
		if err != nil {
			panic(err)
		}
		bob, bobKeys = id, keys
	})
	return bob, bobKeys
}

func txHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(n) + 1000))
}

// announcement 生成一条公告，owned 为 true 时属于测试身份
func announcement(t *testing.T, block uint64, n int, owned bool) *types.Announcement {
	t.Helper()
	a := &types.Announcement{
		Token:       tokenA,
		Amount:      big.NewInt(int64(n)),
		BlockNumber: block,
		TxHash:      txHash(n),
		Tag:         types.ChainTagTransfer,
	}
	if owned {
		_, keys := testIdentity(t)
		res, err := stealth.CreateDestination(rand.Reader, keys)
		require.NoError(t, err)
		a.StealthAddress = res.StealthAddress
		a.Ciphertext = res.SkCipherBytes()
		return a
	}
	cipher := make([]byte, 256)
	_, err := rand.Read(cipher)
	require.NoError(t, err)
	a.StealthAddress = common.BigToAddress(big.NewInt(int64(n) + 1))
	a.Ciphertext = cipher
	return a
}

func transferLogs(t *testing.T, items ...*types.Announcement) []ethtypes.Log {
	t.Helper()
	out := make([]ethtypes.Log, 0, len(items))
	for _, a := range items {
		l, err := chain.EncodeTransferLog(clientAddr, a)
		require.NoError(t, err)
		out = append(out, l)
	}
	return out
}

func testBridges(t *testing.T) *bridge.Config {
	t.Helper()
	c, err := bridge.NewConfig([]bridge.Peer{
		{ChainID: targetChain, Name: "target", Selector: 111, Tokens: []bridge.Token{{Name: "USDC", Address: tokenA}}},
		{ChainID: sourceChain, Name: "source", Selector: 222, Tokens: []bridge.Token{{Name: "USDC", Address: tokenB}}},
	})
	require.NoError(t, err)
	return c
}

func newEngine(t *testing.T, reader *fakeReader, opts ...scan.Option) *scan.Engine {
	t.Helper()
	o := scan.DefaultOptions()
	o.ChunkDelay = 0
	opts = append([]scan.Option{scan.WithOptions(o)}, opts...)
	e, err := scan.NewEngine([]*scan.Network{{
		ChainID:    targetChain,
		Reader:     reader,
		Client:     clientAddr,
		StartBlock: 1,
	}}, testBridges(t), opts...)
	require.NoError(t, err)
	return e
}

func u64(v uint64) *uint64 {
	return &v
}

func collect(t *testing.T, e *scan.Engine, req scan.Request) ([]*scan.Progress, error) {
	t.Helper()
	var out []*scan.Progress
	err := e.Run(context.Background(), req, func(p *scan.Progress) error {
		out = append(out, p)
		return nil
	})
	return out, err
}

func TestScanChunksWindow(t *testing.T) {
	id, _ := testIdentity(t)
	items := make([]*types.Announcement, 45)
	for i := range items {
		items[i] = announcement(t, uint64(i+1), i, i == 5 || i == 30)
	}
	reader := &fakeReader{latest: 500, logs: transferLogs(t, items...), balance: 7}
	e := newEngine(t, reader)

	progress, err := collect(t, e, scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(1), EndBlock: u64(100)})
	require.NoError(t, err)
	require.Len(t, progress, 3)

	for k, p := range progress {
		assert.InDelta(t, float64(k+1)/3, p.Current, 1e-9)
		assert.Equal(t, 45, p.Total)
		assert.Equal(t, 1, p.Windows)
		assert.Equal(t, progress[0].SessionID, p.SessionID)
	}
	assert.Equal(t, uint64(20), progress[0].Block)
	assert.Equal(t, uint64(45), progress[2].Block)
	assert.Equal(t, 45, progress[2].Scanned)

	require.Len(t, progress[0].Data, 1)
	require.Len(t, progress[1].Data, 1)
	assert.Empty(t, progress[2].Data)

	m := progress[0].Data[0]
	assert.Equal(t, items[5].StealthAddress, m.Keypair.Address())
	assert.Equal(t, uint64(60), m.Timestamp)
	assert.Equal(t, sender, m.From)
	assert.Equal(t, int64(7), m.Balance.Int64())
	assert.Equal(t, uint64(targetChain), m.ChainID)
	assert.Equal(t, items[5].TxHash, m.TxHash)
}

func TestScanEmptyWindowEmitsProgress(t *testing.T) {
	id, _ := testIdentity(t)
	items := []*types.Announcement{announcement(t, 10, 1, false)}
	reader := &fakeReader{latest: 500, logs: transferLogs(t, items...)}
	o := scan.DefaultOptions()
	o.ChunkDelay = 0
	o.WindowSize = 50
	e := newEngine(t, reader, scan.WithOptions(o))

	progress, err := collect(t, e, scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(1), EndBlock: u64(100)})
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].Total)
	assert.Equal(t, 1, progress[1].Total)
	assert.Equal(t, 2, progress[1].Windows)
	assert.InDelta(t, 1, progress[0].Current, 1e-9)
	assert.InDelta(t, 2, progress[1].Current, 1e-9)
	assert.Equal(t, uint64(100), progress[1].Block)
	assert.Empty(t, progress[1].Data)
}

func TestScanMalformedCiphertextIsNotAnError(t *testing.T) {
	id, _ := testIdentity(t)
	bad := announcement(t, 3, 1, false)
	bad.Ciphertext = []byte{0x01}
	reader := &fakeReader{latest: 10, logs: transferLogs(t, bad)}
	e := newEngine(t, reader)

	progress, err := collect(t, e, scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(1)})
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Empty(t, progress[0].Data)
	assert.Equal(t, 1, progress[0].Scanned)
}

func TestScanFailureIsSurfacedOnce(t *testing.T) {
	id, _ := testIdentity(t)
	reader := &fakeReader{latest: 10, logsErr: errors.Wrap(types.ErrChainQueryFailed, "boom")}
	e := newEngine(t, reader)

	var errs []error
	for p, err := range e.Scan(context.Background(), scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(1)}) {
		assert.Nil(t, p)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], types.ErrChainQueryFailed)
}

func TestScanCancellation(t *testing.T) {
	id, _ := testIdentity(t)
	items := make([]*types.Announcement, 45)
	for i := range items {
		items[i] = announcement(t, uint64(i+1), i, false)
	}
	reader := &fakeReader{latest: 100, logs: transferLogs(t, items...)}
	e := newEngine(t, reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	err := e.Run(ctx, scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(1)}, func(p *scan.Progress) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestScanUnsupportedChain(t *testing.T) {
	id, _ := testIdentity(t)
	e := newEngine(t, &fakeReader{latest: 10})
	_, err := collect(t, e, scan.Request{Identity: id, ChainID: 5})
	assert.ErrorIs(t, err, types.ErrInvalidChainConfig)
}

func TestScanByTransactionHash(t *testing.T) {
	id, _ := testIdentity(t)
	owned := announcement(t, 42, 9, true)
	noise := announcement(t, 42, 10, false)
	reader := &fakeReader{
		latest:   100,
		logs:     transferLogs(t, owned, noise),
		txBlocks: map[common.Hash]uint64{owned.TxHash: 42},
	}
	e := newEngine(t, reader)

	progress, err := collect(t, e, scan.Request{Identity: id, ChainID: targetChain, TxHash: owned.TxHash})
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].Total)
	assert.Equal(t, 1, progress[0].Windows)
	assert.InDelta(t, 1, progress[0].Current, 1e-9)
	require.Len(t, progress[0].Data, 1)
	assert.Equal(t, owned.TxHash, progress[0].Data[0].TxHash)
	assert.Equal(t, types.ChainTagTransfer, progress[0].Data[0].Announcement.Tag)
	assert.Equal(t, 1, reader.queries)
}

func TestScanByBridgeTransactionHash(t *testing.T) {
	id, _ := testIdentity(t)
	sourceTx := common.HexToHash("0xabc")
	owned := announcement(t, 60, 3, true)
	reader := &fakeReader{
		latest:   100,
		logs:     transferLogs(t, owned),
		txBlocks: map[common.Hash]uint64{owned.TxHash: 60},
		missing:  map[common.Hash]bool{sourceTx: true},
	}
	tracker := &fakeTracker{msg: &bridge.Message{State: bridge.StateSuccess, DestTransactionHash: owned.TxHash}}
	e := newEngine(t, reader, scan.WithTracker(tracker))

	progress, err := collect(t, e, scan.Request{Identity: id, ChainID: targetChain, TxHash: sourceTx})
	require.NoError(t, err)
	require.Len(t, progress, 1)
	require.Len(t, progress[0].Data, 1)
	m := progress[0].Data[0]
	assert.Equal(t, types.ChainTagBridge, m.Announcement.Tag)
	assert.Equal(t, sourceTx, m.TxHash)
	assert.Equal(t, uint64(60), progress[0].Block)

	pending := &fakeTracker{err: errors.Wrap(types.ErrBridgeTxPending, "wait")}
	e = newEngine(t, reader, scan.WithTracker(pending))
	_, err = collect(t, e, scan.Request{Identity: id, ChainID: targetChain, TxHash: sourceTx})
	assert.ErrorIs(t, err, types.ErrBridgeTxPending)
}

func TestScanBridgedRange(t *testing.T) {
	id, _ := testIdentity(t)
	owned := announcement(t, 8, 1, true)
	owned.Token = tokenB
	other := announcement(t, 9, 2, true)

	l1, err := chain.EncodeBridgeLog(bridgeAddr, 111, common.HexToHash("0x01"), owned)
	require.NoError(t, err)
	l2, err := chain.EncodeBridgeLog(bridgeAddr, 999, common.HexToHash("0x02"), other)
	require.NoError(t, err)
	source := &fakeReader{latest: 50, logs: []ethtypes.Log{l1, l2}}
	target := &fakeReader{latest: 10, balance: 3}

	o := scan.DefaultOptions()
	o.ChunkDelay = 0
	e, err := scan.NewEngine([]*scan.Network{
		{ChainID: targetChain, Reader: target, Client: clientAddr, StartBlock: 1},
		{ChainID: sourceChain, Reader: source, Bridge: bridgeAddr},
	}, testBridges(t), scan.WithOptions(o))
	require.NoError(t, err)

	req := scan.Request{
		Identity:   id,
		ChainID:    targetChain,
		StartBlock: u64(1),
		Bridges:    []scan.BridgeRange{{SourceChain: sourceChain, StartBlock: 1}},
	}
	windows, err := e.ResolveWindows(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.True(t, windows[0].Bridged())
	assert.Equal(t, uint64(50), windows[0].EndBlock)

	progress, err := collect(t, e, req)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	require.Len(t, progress[0].Data, 1)
	m := progress[0].Data[0]
	assert.Equal(t, types.ChainTagBridge, m.Announcement.Tag)
	assert.Equal(t, tokenA, m.Announcement.Token)
	assert.Equal(t, uint64(sourceChain), m.Announcement.SourceChainID)
	assert.Equal(t, uint64(80), m.Timestamp)
	assert.Equal(t, int64(3), m.Balance.Int64())
}

func TestResolveWindowsFromIndexAndCheckpoint(t *testing.T) {
	id, _ := testIdentity(t)
	idx := &fakeIndex{
		manifest: &index.Manifest{
			EndBlockAll: 40,
			Entries: []index.Entry{
				{Hash: "h0", StartBlock: 1, EndBlock: 4, Count: 1},
				{Hash: "h1", StartBlock: 5, EndBlock: 20, Count: 2},
				{Hash: "h2", StartBlock: 21, EndBlock: 40, Count: 3},
			},
		},
		batches: map[string][]*types.Announcement{
			"h1": {announcement(t, 3, 1, false), announcement(t, 20, 2, true)},
			"h2": {announcement(t, 25, 4, false), announcement(t, 30, 5, false), announcement(t, 35, 6, false)},
		},
	}
	reader := &fakeReader{latest: 100, logs: transferLogs(t, announcement(t, 50, 3, true))}
	cps := &memCheckpoints{}
	e := newEngine(t, reader, scan.WithIndex(idx), scan.WithCheckpoints(cps), scan.WithRegistry(&fakeRegistry{block: 10}, targetChain))

	req := scan.Request{Identity: id, ChainID: targetChain}
	windows, err := e.ResolveWindows(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, scan.Window{SourceChain: targetChain, TargetChain: targetChain, StartBlock: 10, EndBlock: 20, IndexHash: "h1", Count: 2}, windows[0])
	assert.Equal(t, scan.Window{SourceChain: targetChain, TargetChain: targetChain, StartBlock: 21, EndBlock: 40, IndexHash: "h2", Count: 3}, windows[1])
	assert.Equal(t, scan.Window{SourceChain: targetChain, TargetChain: targetChain, StartBlock: 41, EndBlock: 100}, windows[2])

	progress, err := collect(t, e, req)
	require.NoError(t, err)
	require.Len(t, progress, 3)
	require.Len(t, progress[0].Data, 1)
	assert.Empty(t, progress[1].Data)
	require.Len(t, progress[2].Data, 1)
	assert.Equal(t, uint64(20), progress[0].Data[0].Announcement.BlockNumber)

	// h1 只有一条落在起点之后；h2 尚未读取时按索引记录数计入
	assert.Equal(t, 1+3, progress[0].Total)
	assert.Equal(t, 1+3, progress[1].Total)
	assert.Equal(t, 1+3+1, progress[2].Total)
	assert.Equal(t, progress[2].Total, progress[2].Scanned)

	block, ok, err := cps.Get(context.Background(), id.Owner, targetChain)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), block)

	reader.latest = 150
	windows, err = e.ResolveWindows(context.Background(), scan.Request{Identity: id, ChainID: targetChain, Start: scan.StartCheckpoint, EndBlock: u64(150)})
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, uint64(101), windows[0].StartBlock)
}

func TestResolveWindowsBatchesBlocks(t *testing.T) {
	id, _ := testIdentity(t)
	e := newEngine(t, &fakeReader{latest: 5000})

	windows, err := e.ResolveWindows(context.Background(), scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(1), EndBlock: u64(3000)})
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, uint64(1200), windows[0].EndBlock)
	assert.Equal(t, uint64(1201), windows[1].StartBlock)
	assert.Equal(t, uint64(3000), windows[2].EndBlock)

	windows, err = e.ResolveWindows(context.Background(), scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(6000)})
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestScanPastHeadEmitsStartMarker(t *testing.T) {
	id, _ := testIdentity(t)
	e := newEngine(t, &fakeReader{latest: 500})

	progress, err := collect(t, e, scan.Request{Identity: id, ChainID: targetChain, StartBlock: u64(501)})
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 0, progress[0].Total)
	assert.Equal(t, 0, progress[0].Windows)
	assert.InDelta(t, 0, progress[0].Current, 1e-9)
	assert.Equal(t, uint64(501), progress[0].Block)
	assert.Empty(t, progress[0].Data)

	cps := &memCheckpoints{}
	require.NoError(t, cps.Set(context.Background(), id.Owner, targetChain, 500))
	e = newEngine(t, &fakeReader{latest: 500}, scan.WithCheckpoints(cps))
	progress, err = collect(t, e, scan.Request{Identity: id, ChainID: targetChain, Start: scan.StartCheckpoint})
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, uint64(501), progress[0].Block)
}

func TestNewRequest(t *testing.T) {
	id, _ := testIdentity(t)
	req, err := scan.NewRequest(id, targetChain, &types.ScanPayload{
		StartBlock: u64(5),
		TxHash:     "0x" + common.Bytes2Hex(bytes.Repeat([]byte{0x01}, 32)),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), *req.StartBlock)
	assert.NotEqual(t, common.Hash{}, req.TxHash)

	_, err = scan.NewRequest(id, targetChain, &types.ScanPayload{StartBlock: u64(9), EndBlock: u64(1)})
	assert.Error(t, err)
}
