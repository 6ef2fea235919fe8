package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainTag 公告来源类型
type ChainTag string

const (
	ChainTagTransfer ChainTag = "Transfer"
	ChainTagBridge   ChainTag = "Bridge"
)

// Announcement 一笔隐身支付的链上公告，观测后不可变
type Announcement struct {
	StealthAddress common.Address `json:"sa"`
	Ciphertext     []byte         `json:"ciphertext"`
	Token          common.Address `json:"token"`
	Amount         *big.Int       `json:"amount"`
	BlockNumber    uint64         `json:"block"`
	TxHash         common.Hash    `json:"txHash"`
	Tag            ChainTag       `json:"type"`
	// SourceChainID 公告所在链（跨链公告为源链）
	SourceChainID uint64 `json:"sourceChainId"`
}

// CiphertextHex 返回 0x 前缀的密文
func (a *Announcement) CiphertextHex() string {
	return hexutil.Encode(a.Ciphertext)
}
