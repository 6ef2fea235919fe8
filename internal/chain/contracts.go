package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

const registryABIJSON = `[
	{"type":"function","name":"getKeys","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"opPubKey","type":"bytes32[]"},{"name":"encPubKey","type":"bytes32[]"},{"name":"cipherText","type":"bytes32[]"}]},
	{"type":"function","name":"setKeys","stateMutability":"nonpayable",
	 "inputs":[{"name":"opPubKey","type":"bytes32[]"},{"name":"encPubKey","type":"bytes32[]"},{"name":"cipherText","type":"bytes32[]"}],
	 "outputs":[]},
	{"type":"event","name":"KeyChanged","anonymous":false,
	 "inputs":[{"name":"user","type":"address","indexed":true}]}
]`

const clientABIJSON = `[
	{"type":"function","name":"getFeeParam","stateMutability":"view",
	 "inputs":[{"name":"contractAddress","type":"address"},{"name":"actionId","type":"uint256"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"rate","type":"uint32"},{"name":"cap","type":"uint256"},{"name":"floor","type":"uint256"}]},
	{"type":"function","name":"getSA","stateMutability":"view",
	 "inputs":[{"name":"sa","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"nonce","type":"uint256"},{"name":"balance","type":"uint256"}]},
	{"type":"function","name":"existSA","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"},{"name":"sas","type":"address[]"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"SATransaction","anonymous":false,
	 "inputs":[{"name":"saDest","type":"address","indexed":true},{"name":"token","type":"address","indexed":true},
	           {"name":"amount","type":"uint256","indexed":false},{"name":"ciphertext","type":"bytes","indexed":false}]}
]`

const bridgeABIJSON = `[
	{"type":"function","name":"getFeeParam","stateMutability":"view",
	 "inputs":[{"name":"destinationChainSelector","type":"uint64"},{"name":"actionId","type":"uint256"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"rate","type":"uint32"},{"name":"cap","type":"uint256"},{"name":"floor","type":"uint256"}]},
	{"type":"event","name":"SAMessageSent","anonymous":false,
	 "inputs":[{"name":"messageId","type":"bytes32","indexed":true},{"name":"destinationChainSelector","type":"uint64","indexed":true},
	           {"name":"destination","type":"address","indexed":true},{"name":"token","type":"address","indexed":false},
	           {"name":"amount","type":"uint256","indexed":false},{"name":"ciphertext","type":"bytes","indexed":false},
	           {"name":"feeToken","type":"address","indexed":false},{"name":"fees","type":"uint256","indexed":false}]}
]`

var (
	registryABI = mustParseABI(registryABIJSON)
	clientABI   = mustParseABI(clientABIJSON)
	bridgeABI   = mustParseABI(bridgeABIJSON)
)

var (
	// SATransactionTopic 同链公告事件
	SATransactionTopic = clientABI.Events["SATransaction"].ID
	// SAMessageSentTopic 跨链公告事件
	SAMessageSentTopic = bridgeABI.Events["SAMessageSent"].ID
	// KeyChangedTopic 注册事件
	KeyChangedTopic = registryABI.Events["KeyChanged"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func unpackFeeParams(out []interface{}) (*types.FeeParams, error) {
	if len(out) != 3 {
		return nil, errors.Errorf("unexpected getFeeParam output length %d", len(out))
	}
	rate, ok1 := out[0].(uint32)
	capValue, ok2 := out[1].(*big.Int)
	floor, ok3 := out[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("unexpected getFeeParam output types")
	}
	return &types.FeeParams{Rate: rate, Cap: capValue, Floor: floor}, nil
}

// ClientContract 同链转账合约
type ClientContract struct {
	caller  Caller
	address common.Address
}

func NewClientContract(caller Caller, address common.Address) *ClientContract {
	return &ClientContract{caller: caller, address: address}
}

func (c *ClientContract) Address() common.Address {
	return c.address
}

// GetFeeParam 读取费率参数，contract 为实际执行动作的合约
func (c *ClientContract) GetFeeParam(ctx context.Context, contract common.Address, actionID *big.Int, token common.Address) (*types.FeeParams, error) {
	data, err := clientABI.Pack("getFeeParam", contract, actionID, token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getFeeParam")
	}
	raw, err := c.caller.Call(ctx, c.address, data)
	if err != nil {
		return nil, err
	}
	out, err := clientABI.Unpack("getFeeParam", raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack getFeeParam")
	}
	return unpackFeeParams(out)
}

// GetSA 读取隐身地址的 nonce 与余额
func (c *ClientContract) GetSA(ctx context.Context, sa, token common.Address) (nonce, balance *big.Int, err error) {
	data, err := clientABI.Pack("getSA", sa, token)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to pack getSA")
	}
	raw, err := c.caller.Call(ctx, c.address, data)
	if err != nil {
		return nil, nil, err
	}
	out, err := clientABI.Unpack("getSA", raw)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to unpack getSA")
	}
	nonce, ok1 := out[0].(*big.Int)
	balance, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, errors.New("unexpected getSA output types")
	}
	return nonce, balance, nil
}

// ExistSA 判断隐身地址是否已在合约中存在
func (c *ClientContract) ExistSA(ctx context.Context, token common.Address, sas []common.Address) (bool, error) {
	data, err := clientABI.Pack("existSA", token, sas)
	if err != nil {
		return false, errors.Wrap(err, "failed to pack existSA")
	}
	raw, err := c.caller.Call(ctx, c.address, data)
	if err != nil {
		return false, err
	}
	out, err := clientABI.Unpack("existSA", raw)
	if err != nil {
		return false, errors.Wrap(err, "failed to unpack existSA")
	}
	exists, ok := out[0].(bool)
	if !ok {
		return false, errors.New("unexpected existSA output type")
	}
	return exists, nil
}

// BridgeContract 跨链合约
type BridgeContract struct {
	caller  Caller
	address common.Address
}

func NewBridgeContract(caller Caller, address common.Address) *BridgeContract {
	return &BridgeContract{caller: caller, address: address}
}

func (b *BridgeContract) Address() common.Address {
	return b.address
}

// GetFeeParam 读取跨链费率参数
func (b *BridgeContract) GetFeeParam(ctx context.Context, selector uint64, kind types.ActionKind, token common.Address) (*types.FeeParams, error) {
	data, err := bridgeABI.Pack("getFeeParam", selector, big.NewInt(int64(kind)), token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getFeeParam")
	}
	raw, err := b.caller.Call(ctx, b.address, data)
	if err != nil {
		return nil, err
	}
	out, err := bridgeABI.Unpack("getFeeParam", raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack getFeeParam")
	}
	return unpackFeeParams(out)
}
