package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout 单次 HTTP 请求超时
const DefaultTimeout = 30 * time.Second

// RPCClient Ethereum JSON-RPC 客户端，支持多节点回退
type RPCClient struct {
	endpoints *Endpoints
	client    *http.Client
	nextID    atomic.Int64
}

// NewRPCClient 创建 Ethereum RPC 客户端
func NewRPCClient(endpoints ...string) *RPCClient {
	return &RPCClient{
		endpoints: NewEndpoints(endpoints...),
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient 替换 HTTP 客户端
func (c *RPCClient) WithHTTPClient(client *http.Client) *RPCClient {
	c.client = client
	return c
}

// Endpoints 节点列表
func (c *RPCClient) Endpoints() []string {
	return c.endpoints.All()
}

// RPCRequest RPC 请求
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

// RPCResponse RPC 响应
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError RPC 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error: %s (code: %d)", e.Message, e.Code)
}

// call 执行 RPC 调用，传输层失败时切换节点重试，节点返回的业务错误直接返回
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c.endpoints.Len() == 0 {
		return errors.New("RPC endpoint not configured")
	}
	if params == nil {
		params = []interface{}{}
	}
	req := &RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to marshal RPC request")
	}

	var lastErr error
	endpoint := c.endpoints.Current()
	for attempt := 0; attempt < c.endpoints.Len(); attempt++ {
		result, err := c.post(ctx, endpoint, reqBody)
		if err == nil {
			if out == nil {
				return nil
			}
			if string(result) == "null" || len(result) == 0 {
				return errNotFound
			}
			return errors.Wrapf(json.Unmarshal(result, out), "failed to unmarshal %s result", method)
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		next := c.endpoints.Rotate()
		log.Warn().Err(err).Str("method", method).Str("endpoint", endpoint).Str("next", next).Msg("RPC endpoint failed, rolling over")
		endpoint = next
	}
	return lastErr
}

func (c *RPCClient) post(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute HTTP request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, errors.Wrap(err, "failed to decode RPC response")
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// errNotFound 节点返回 null
var errNotFound = errors.New("not found")

// IsNotFound 判断节点是否返回空结果
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// ChainID eth_chainId
func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.call(ctx, "eth_chainId", nil, &id); err != nil {
		return nil, errors.Wrap(err, "failed to call eth_chainId")
	}
	return id.ToInt(), nil
}

// BlockNumber 最新区块高度
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", nil, &n); err != nil {
		return 0, errors.Wrap(err, "failed to call eth_blockNumber")
	}
	return uint64(n), nil
}

// GetBalance 查询余额
func (c *RPCClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance hexutil.Big
	if err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"}, &balance); err != nil {
		return nil, errors.Wrap(err, "failed to call eth_getBalance")
	}
	return balance.ToInt(), nil
}

// GetTransactionCount 获取交易计数（用于 nonce）
func (c *RPCClient) GetTransactionCount(ctx context.Context, address common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"}, &nonce); err != nil {
		return 0, errors.Wrap(err, "failed to call eth_getTransactionCount")
	}
	return uint64(nonce), nil
}

// SendRawTransaction 广播交易
func (c *RPCClient) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	var txHash common.Hash
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(rawTx)}, &txHash); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to call eth_sendRawTransaction")
	}
	return txHash, nil
}

// GetGasPrice 获取当前 gas price
func (c *RPCClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice hexutil.Big
	if err := c.call(ctx, "eth_gasPrice", nil, &gasPrice); err != nil {
		return nil, errors.Wrap(err, "failed to call eth_gasPrice")
	}
	return gasPrice.ToInt(), nil
}

// Call eth_call（latest）
func (c *RPCClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	var out hexutil.Bytes
	if err := c.call(ctx, "eth_call", []interface{}{msg, "latest"}, &out); err != nil {
		return nil, errors.Wrap(err, "failed to call eth_call")
	}
	return out, nil
}

// LogFilter eth_getLogs 过滤条件，Topics 按位置匹配，零值表示通配
type LogFilter struct {
	Address   common.Address
	Topics    []common.Hash
	FromBlock uint64
	ToBlock   uint64
}

func (f LogFilter) toArg() map[string]interface{} {
	topics := make([]interface{}, len(f.Topics))
	for i, t := range f.Topics {
		if t == (common.Hash{}) {
			topics[i] = nil
			continue
		}
		topics[i] = t
	}
	return map[string]interface{}{
		"address":   f.Address,
		"topics":    topics,
		"fromBlock": hexutil.EncodeUint64(f.FromBlock),
		"toBlock":   hexutil.EncodeUint64(f.ToBlock),
	}
}

// GetLogs eth_getLogs
func (c *RPCClient) GetLogs(ctx context.Context, filter LogFilter) ([]ethtypes.Log, error) {
	var logs []ethtypes.Log
	if err := c.call(ctx, "eth_getLogs", []interface{}{filter.toArg()}, &logs); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to call eth_getLogs")
	}
	return logs, nil
}

// Block 区块头摘要
type Block struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// GetBlockByNumber eth_getBlockByNumber（不含交易体）
func (c *RPCClient) GetBlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var block Block
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(number), false}, &block); err != nil {
		return nil, errors.Wrapf(err, "failed to call eth_getBlockByNumber %d", number)
	}
	return &block, nil
}

// Transaction 交易摘要
type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
}

// GetTransactionByHash eth_getTransactionByHash
func (c *RPCClient) GetTransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, "eth_getTransactionByHash", []interface{}{hash}, &tx); err != nil {
		return nil, errors.Wrapf(err, "failed to call eth_getTransactionByHash %s", hash.Hex())
	}
	return &tx, nil
}
