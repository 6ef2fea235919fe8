package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// Signer 钱包能力：地址、链 ID、消息签名与交易发送
type Signer interface {
	Address(ctx context.Context) (common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	// SignMessage 返回 65 字节 EIP-191 签名 (r | s | v)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error)
}

// TxRequest 待发送交易，gas 上限由调用方给出
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Backend 广播交易所需的链能力
type Backend interface {
	GetTransactionCount(ctx context.Context, address common.Address) (uint64, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	BroadcastTransaction(ctx context.Context, tx *ethtypes.Transaction) (common.Hash, error)
}

// WalletSigner 本地私钥钱包
type WalletSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	backend Backend
}

var _ Signer = (*WalletSigner)(nil)

// NewWalletSigner 由十六进制私钥创建钱包，backend 为空时不能发送交易
func NewWalletSigner(hexKey string, chainID *big.Int, backend Backend) (*WalletSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse wallet private key")
	}
	if chainID == nil {
		return nil, errors.Wrap(types.ErrInvalidChainConfig, "chain id is required")
	}
	return &WalletSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		backend: backend,
	}, nil
}

func (w *WalletSigner) Address(ctx context.Context) (common.Address, error) {
	return w.address, nil
}

func (w *WalletSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(w.chainID), nil
}

// SignMessage personal_sign，V 取 27/28
func (w *WalletSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction 填充 nonce 与 gas price 后签名并广播
func (w *WalletSigner) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	if w.backend == nil {
		return common.Hash{}, errors.New("wallet signer has no chain backend")
	}
	if req == nil || req.GasLimit == 0 {
		return common.Hash{}, errors.New("gas limit is required")
	}

	nonce, err := w.backend.GetTransactionCount(ctx, w.address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get nonce")
	}
	gasPrice, err := w.backend.GetGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get gas price")
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := req.To
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      req.GasLimit,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign transaction")
	}

	hash, err := w.backend.BroadcastTransaction(ctx, signed)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to broadcast transaction")
	}
	log.Info().Str("tx_hash", hash.Hex()).Str("to", to.Hex()).Uint64("nonce", nonce).Msg("Transaction broadcast")
	return hash, nil
}
