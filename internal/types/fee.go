package types

import "math/big"

// FeeParams 链上费率参数：rate 为百万分比
type FeeParams struct {
	Rate  uint32
	Cap   *big.Int
	Floor *big.Int
}

// FeeQuote 预估成本
// Gas 为从余额中扣除的总成本（已按代币精度缩放）；其余字段仅用于回显
type FeeQuote struct {
	Gas            *big.Int
	RelayerGas     *big.Int
	TransactionGas *big.Int
	BridgeGas      *big.Int
}

// MaxBalanceResult 最大可发送金额，已格式化为十进制字符串
type MaxBalanceResult struct {
	Balance        string `json:"balance"`
	RelayerGas     string `json:"relayerGas,omitempty"`
	TransactionGas string `json:"transactionGas,omitempty"`
	BridgeGas      string `json:"ccipBridgeGas,omitempty"`
}
