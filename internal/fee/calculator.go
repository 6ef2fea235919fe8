package fee

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// RateDenominator 费率分母（百万分比）
const RateDenominator = 1_000_000

var rateDenominator = big.NewInt(RateDenominator)

// NewQuote 组合预估成本
// SA 发起时扣除 relayer gas（代币精度）；EOA 发起且发送原生代币时扣除交易 gas
// 跨链 gas 以原生代币支付，只有发送原生代币时才从余额中扣除，发送 ERC20 时由钱包另付
func NewQuote(fromSA, nativeToken bool, relayerGas, transactionGas, bridgeGas *big.Int) *types.FeeQuote {
	q := &types.FeeQuote{
		Gas:            new(big.Int),
		RelayerGas:     orZero(relayerGas),
		TransactionGas: orZero(transactionGas),
		BridgeGas:      orZero(bridgeGas),
	}
	switch {
	case fromSA:
		q.Gas.Set(q.RelayerGas)
	case nativeToken:
		q.Gas.Set(q.TransactionGas)
	}
	if nativeToken {
		q.Gas.Add(q.Gas, q.BridgeGas)
	}
	return q
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// proportional amount * rate / 1e6
func proportional(amount *big.Int, rate uint32) *big.Int {
	v := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(rate)))
	return v.Quo(v, rateDenominator)
}

// ComputeMaxSendable 求解 amount + gas + fee(amount) = balance
//
//	a1 = balance - gas - floor
//	a2 = balance - gas - cap
//	a3 = (balance - gas) * 1e6 / (1e6 + rate)
func ComputeMaxSendable(balance *big.Int, params *types.FeeParams, quote *types.FeeQuote) (*big.Int, error) {
	if params == nil {
		return nil, errors.Wrap(types.ErrFeeParamsUnavailable, "fee params are required")
	}
	if balance == nil {
		return nil, errors.New("balance is required")
	}
	gas := new(big.Int)
	if quote != nil && quote.Gas != nil {
		gas.Set(quote.Gas)
	}
	floor, capValue := orZero(params.Floor), orZero(params.Cap)

	net := new(big.Int).Sub(balance, gas)
	a1 := new(big.Int).Sub(net, floor)
	if a1.Sign() <= 0 {
		return new(big.Int), nil
	}
	if proportional(a1, params.Rate).Cmp(floor) <= 0 {
		return a1, nil
	}

	a2 := new(big.Int).Sub(net, capValue)
	if proportional(a2, params.Rate).Cmp(capValue) >= 0 {
		return a2, nil
	}

	a3 := new(big.Int).Mul(net, rateDenominator)
	return a3.Quo(a3, new(big.Int).Add(rateDenominator, new(big.Int).SetUint64(uint64(params.Rate)))), nil
}

// MaxBalance 计算并格式化最大可发送金额，relayer gas 按代币精度，其余 gas 按原生精度
func MaxBalance(balance *big.Int, params *types.FeeParams, quote *types.FeeQuote, decimals uint8) (*types.MaxBalanceResult, error) {
	amount, err := ComputeMaxSendable(balance, params, quote)
	if err != nil {
		return nil, err
	}
	res := &types.MaxBalanceResult{
		Balance: FormatUnits(amount, decimals),
	}
	if quote == nil {
		return res, nil
	}
	if quote.RelayerGas != nil && quote.RelayerGas.Sign() > 0 {
		res.RelayerGas = FormatUnits(quote.RelayerGas, decimals)
	}
	if quote.TransactionGas != nil && quote.TransactionGas.Sign() > 0 {
		res.TransactionGas = FormatUnits(quote.TransactionGas, NativeDecimals)
	}
	if quote.BridgeGas != nil && quote.BridgeGas.Sign() > 0 {
		res.BridgeGas = FormatUnits(quote.BridgeGas, NativeDecimals)
	}
	return res, nil
}

// CalcFee 本地预估手续费：clamp(amount*rate/1e6, floor, cap)
func CalcFee(amount *big.Int, params *types.FeeParams) *big.Int {
	fee := proportional(amount, params.Rate)
	if params.Floor != nil && fee.Cmp(params.Floor) < 0 {
		fee.Set(params.Floor)
	}
	if params.Cap != nil && params.Cap.Sign() > 0 && fee.Cmp(params.Cap) > 0 {
		fee.Set(params.Cap)
	}
	return fee
}

// ActionID selector<<8 | kind，未跨链时 selector 为 0
func ActionID(kind types.ActionKind, selector uint64) *big.Int {
	id := new(big.Int).SetUint64(selector)
	id.Lsh(id, 8)
	return id.Or(id, big.NewInt(int64(kind)))
}
