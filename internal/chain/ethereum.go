package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/chain/ethereum"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// Caller 只读合约调用
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Reader 链上只读查询
type Reader interface {
	Caller
	QueryEvents(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]ethtypes.Log, error)
	GetBlock(ctx context.Context, number uint64) (*ethereum.Block, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*ethereum.Transaction, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// EthereumAdapter 实现 EVM 链基础能力
type EthereumAdapter struct {
	chainID   *big.Int
	rpcClient *ethereum.RPCClient
}

var _ Reader = (*EthereumAdapter)(nil)

// NewEthereumAdapter 创建以太坊适配器，多个节点按顺序回退
func NewEthereumAdapter(chainID *big.Int, rpcEndpoints ...string) *EthereumAdapter {
	if chainID == nil {
		chainID = big.NewInt(1) // mainnet
	}
	return &EthereumAdapter{
		chainID:   chainID,
		rpcClient: ethereum.NewRPCClient(rpcEndpoints...),
	}
}

// ChainID 配置中的链 ID
func (a *EthereumAdapter) ChainID() *big.Int {
	return new(big.Int).Set(a.chainID)
}

// RPC 底层 RPC 客户端
func (a *EthereumAdapter) RPC() *ethereum.RPCClient {
	return a.rpcClient
}

func queryFailed(err error, format string, args ...interface{}) error {
	return errors.Wrapf(types.ErrChainQueryFailed, format+": %v", append(args, err)...)
}

// QueryEvents 查询合约事件，topics 按位置过滤
func (a *EthereumAdapter) QueryEvents(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]ethtypes.Log, error) {
	logs, err := a.rpcClient.GetLogs(ctx, ethereum.LogFilter{
		Address:   contract,
		Topics:    topics,
		FromBlock: from,
		ToBlock:   to,
	})
	if err != nil {
		return nil, queryFailed(err, "query events %s [%d, %d]", contract.Hex(), from, to)
	}
	return logs, nil
}

// GetBlock 查询区块
func (a *EthereumAdapter) GetBlock(ctx context.Context, number uint64) (*ethereum.Block, error) {
	block, err := a.rpcClient.GetBlockByNumber(ctx, number)
	if err != nil {
		return nil, queryFailed(err, "get block %d", number)
	}
	return block, nil
}

// GetTransaction 查询交易
func (a *EthereumAdapter) GetTransaction(ctx context.Context, hash common.Hash) (*ethereum.Transaction, error) {
	tx, err := a.rpcClient.GetTransactionByHash(ctx, hash)
	if err != nil {
		return nil, queryFailed(err, "get transaction %s", hash.Hex())
	}
	return tx, nil
}

// GetBlockNumber 最新区块高度
func (a *EthereumAdapter) GetBlockNumber(ctx context.Context) (uint64, error) {
	n, err := a.rpcClient.BlockNumber(ctx)
	if err != nil {
		return 0, queryFailed(err, "get block number")
	}
	return n, nil
}

// Call 只读合约调用
func (a *EthereumAdapter) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := a.rpcClient.Call(ctx, to, data)
	if err != nil {
		return nil, queryFailed(err, "call %s", to.Hex())
	}
	return out, nil
}

// GetBalance 查询余额
func (a *EthereumAdapter) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := a.rpcClient.GetBalance(ctx, address)
	if err != nil {
		return nil, queryFailed(err, "get balance %s", address.Hex())
	}
	return balance, nil
}

// GetTransactionCount 获取交易计数（用于 nonce）
func (a *EthereumAdapter) GetTransactionCount(ctx context.Context, address common.Address) (uint64, error) {
	return a.rpcClient.GetTransactionCount(ctx, address)
}

// GetGasPrice 获取当前 gas price
func (a *EthereumAdapter) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return a.rpcClient.GetGasPrice(ctx)
}

// BroadcastTransaction 广播已签名交易
func (a *EthereumAdapter) BroadcastTransaction(ctx context.Context, tx *ethtypes.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode transaction")
	}
	return a.rpcClient.SendRawTransaction(ctx, raw)
}
