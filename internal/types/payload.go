package types

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/go-openapi/validate"
)

const (
	addressPattern = `^0x[0-9a-fA-F]{40}$`
	txHashPattern  = `^0x[0-9a-fA-F]{64}$`

	// DefaultTokenDecimals 未指定精度时按 18 位处理
	DefaultTokenDecimals = 18
)

// NativeTokenAddress 原生代币占位地址
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNativeToken 判断是否为原生代币
func IsNativeToken(token common.Address) bool {
	return token == NativeTokenAddress
}

// ActionKind 发送动作类型
type ActionKind uint8

const (
	ActionEOAtoSA ActionKind = 1
	ActionSAtoEOA ActionKind = 2
	ActionSAtoSA  ActionKind = 3
)

// Token 代币定义
type Token struct {
	Address  string `json:"address"`
	Decimals *int64 `json:"decimal,omitempty"`
}

// Receive 接收方定义
type Receive struct {
	Receipt  string `json:"receipt"`
	CreateSA *bool  `json:"createSA,omitempty"`
}

// Bridge 跨链定义
type Bridge struct {
	ChainID  uint64 `json:"chain"`
	Protocol string `json:"protocol,omitempty"`
}

// SendPayload 发送请求
type SendPayload struct {
	From       string  `json:"from,omitempty"`
	CipherText string  `json:"cipherText,omitempty"`
	Amount     string  `json:"amount"`
	Token      Token   `json:"token"`
	Receive    Receive `json:"receive"`
	Bridge     *Bridge `json:"bridge,omitempty"`
}

// Validate validates SendPayload
func (m *SendPayload) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.RequiredString("amount", "body", m.Amount); err != nil {
		res = append(res, err)
	}

	if err := validate.RequiredString("token.address", "body", m.Token.Address); err != nil {
		res = append(res, err)
	} else if err := validate.Pattern("token.address", "body", m.Token.Address, addressPattern); err != nil {
		res = append(res, err)
	}

	if m.Token.Decimals != nil {
		if err := validate.MinimumInt("token.decimal", "body", *m.Token.Decimals, 0, false); err != nil {
			res = append(res, err)
		}
		if err := validate.MaximumInt("token.decimal", "body", *m.Token.Decimals, 77, false); err != nil {
			res = append(res, err)
		}
	}

	if m.Receive.Receipt != "" {
		if err := validate.Pattern("receive.receipt", "body", m.Receive.Receipt, addressPattern); err != nil {
			res = append(res, err)
		}
	}

	// from 与 cipherText 必须同时出现
	if m.From != "" || m.CipherText != "" {
		if m.From == "" {
			res = append(res, errors.Required("from", "body", m.From))
		} else if err := validate.Pattern("from", "body", m.From, addressPattern); err != nil {
			res = append(res, err)
		}
		if m.CipherText == "" {
			res = append(res, errors.Required("cipherText", "body", m.CipherText))
		} else if !strings.HasPrefix(m.CipherText, "0x") {
			res = append(res, errors.InvalidType("cipherText", "body", "hex", m.CipherText))
		}
	}

	if m.Bridge != nil && m.Bridge.ChainID == 0 {
		res = append(res, errors.Required("bridge.chain", "body", m.Bridge.ChainID))
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// ContextValidate validates this payload based on context it is used
func (m *SendPayload) ContextValidate(ctx context.Context, formats strfmt.Registry) error {
	return nil
}

// IsFromSA 是否由隐身地址发起
func (m *SendPayload) IsFromSA() bool {
	return m.From != "" && m.CipherText != ""
}

// CreateSA 未设置时默认为 true
func (m *SendPayload) CreateSA() bool {
	if m.Receive.CreateSA == nil {
		return true
	}
	return swag.BoolValue(m.Receive.CreateSA)
}

// TokenDecimals 返回代币精度
func (m *SendPayload) TokenDecimals() uint8 {
	if m.Token.Decimals == nil || *m.Token.Decimals == 0 {
		return DefaultTokenDecimals
	}
	return uint8(swag.Int64Value(m.Token.Decimals))
}

// TokenAddress 返回代币地址
func (m *SendPayload) TokenAddress() common.Address {
	return common.HexToAddress(m.Token.Address)
}

// ActionKind 根据发送方与接收方类型确定动作
func (m *SendPayload) ActionKind() ActionKind {
	if !m.IsFromSA() {
		return ActionEOAtoSA
	}
	if !m.CreateSA() {
		return ActionSAtoEOA
	}
	return ActionSAtoSA
}

// ScanPayload 扫描请求
type ScanPayload struct {
	StartBlock *uint64 `json:"startBlock,omitempty"`
	EndBlock   *uint64 `json:"endBlock,omitempty"`
	TxHash     string  `json:"txHash,omitempty"`
}

// Validate validates ScanPayload
func (m *ScanPayload) Validate(formats strfmt.Registry) error {
	var res []error

	if m.TxHash != "" {
		if err := validate.Pattern("txHash", "body", m.TxHash, txHashPattern); err != nil {
			res = append(res, err)
		}
	}

	if m.StartBlock != nil && m.EndBlock != nil && *m.EndBlock < *m.StartBlock {
		res = append(res, errors.New(422, "endBlock %d is before startBlock %d", *m.EndBlock, *m.StartBlock))
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}
