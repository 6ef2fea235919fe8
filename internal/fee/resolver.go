package fee

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// SameChainExecutor 同链动作在 getFeeParam 中使用的占位合约地址
var SameChainExecutor = common.HexToAddress("0x0000000000000000000000000000000000000001")

// Route 费率参数来源
type Route struct {
	Client common.Address
	Bridge common.Address
	// Selector 目标链 CCIP 选择器，为 0 表示同链
	Selector uint64
}

// Bridged 是否跨链
func (r Route) Bridged() bool {
	return r.Selector != 0
}

// Resolver 读取链上费率参数
type Resolver struct {
	caller chain.Caller
}

func NewResolver(caller chain.Caller) *Resolver {
	return &Resolver{caller: caller}
}

// FetchFeeParams 按发起方与是否跨链选择合约
//
//	SA 发起：client.getFeeParam(跨链 ? bridge : 0x..01, actionId, token)
//	EOA 跨链：bridge.getFeeParam(selector, kind, token)
//	EOA 同链：client.getFeeParam(0x..01, kind, token)
func (r *Resolver) FetchFeeParams(ctx context.Context, kind types.ActionKind, fromSA bool, token common.Address, route Route) (*types.FeeParams, error) {
	var (
		params *types.FeeParams
		err    error
	)
	client := chain.NewClientContract(r.caller, route.Client)

	switch {
	case fromSA:
		executor := SameChainExecutor
		if route.Bridged() {
			executor = route.Bridge
		}
		params, err = client.GetFeeParam(ctx, executor, ActionID(kind, route.Selector), token)
	case route.Bridged():
		params, err = chain.NewBridgeContract(r.caller, route.Bridge).GetFeeParam(ctx, route.Selector, kind, token)
	default:
		params, err = client.GetFeeParam(ctx, SameChainExecutor, ActionID(kind, 0), token)
	}
	if err != nil {
		return nil, errors.Wrapf(types.ErrFeeParamsUnavailable, "action %d token %s: %v", kind, token.Hex(), err)
	}

	log.Debug().
		Uint8("action", uint8(kind)).
		Bool("from_sa", fromSA).
		Uint64("selector", route.Selector).
		Uint32("rate", params.Rate).
		Str("cap", params.Cap.String()).
		Str("floor", params.Floor.String()).
		Msg("Fee params fetched")
	return params, nil
}

// FetchForPayload 根据发送请求读取费率参数
func (r *Resolver) FetchForPayload(ctx context.Context, payload *types.SendPayload, route Route) (*types.FeeParams, error) {
	return r.FetchFeeParams(ctx, payload.ActionKind(), payload.IsFromSA(), payload.TokenAddress(), route)
}
