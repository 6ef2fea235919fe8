package types

import "github.com/pkg/errors"

// 错误定义
// 调用方使用 errors.Wrap 附加上下文，使用 errors.Is 判断类型
var (
	// ErrInvalidSignature 钱包返回的签名不是 65 字节
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrRecipientNotRegistered 接收方未在注册合约中登记公钥
	ErrRecipientNotRegistered = errors.New("the target address is not registered, please register the target wallet address for stealth transfer")
	// ErrInvalidChainConfig 不支持的链或配置格式错误
	ErrInvalidChainConfig = errors.New("invalid chain config")
	// ErrInvalidAddress 地址格式错误
	ErrInvalidAddress = errors.New("invalid address")
	// ErrFeeParamsUnavailable 无法从链上读取费率参数
	ErrFeeParamsUnavailable = errors.New("fee params unavailable")
	// ErrChainQueryFailed 链上查询失败（网络/RPC），核心逻辑不做重试
	ErrChainQueryFailed = errors.New("chain query failed")
	// ErrRegistrationEncodingFailed 注册密文在重试上限内未达到固定长度
	ErrRegistrationEncodingFailed = errors.New("registration cipher text encoding failed")
	// ErrNotStealthOwner 隐身地址不属于当前身份
	ErrNotStealthOwner = errors.New("stealth address not owned by current signer")
	// ErrBridgeTxPending 跨链消息尚未在目标链执行
	ErrBridgeTxPending = errors.New("bridge transaction is pending, please wait")
)
