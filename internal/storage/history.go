package storage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/SafeMPC/stealth-sap/internal/scan"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const DefaultPageSize = 20

// Record 一条收款历史
type Record struct {
	Owner          common.Address `json:"owner"`
	ChainID        uint64         `json:"chainId"`
	StealthAddress common.Address `json:"sa"`
	Token          common.Address `json:"token"`
	Amount         *big.Int       `json:"amount"`
	Balance        *big.Int       `json:"balance,omitempty"`
	Block          uint64         `json:"block"`
	Timestamp      uint64         `json:"timestamp"`
	TxHash         common.Hash    `json:"txHash"`
	From           common.Address `json:"from"`
	Tag            types.ChainTag `json:"type"`
}

// RecordFromMatch 由扫描结果生成历史记录
func RecordFromMatch(owner common.Address, m *scan.Match) *Record {
	a := m.Announcement
	return &Record{
		Owner:          owner,
		ChainID:        m.ChainID,
		StealthAddress: a.StealthAddress,
		Token:          a.Token,
		Amount:         a.Amount,
		Balance:        m.Balance,
		Block:          a.BlockNumber,
		Timestamp:      m.Timestamp,
		TxHash:         m.TxHash,
		From:           m.From,
		Tag:            a.Tag,
	}
}

// Filter 历史查询条件，Tag 为空表示全部
type Filter struct {
	Owner     common.Address
	ChainID   uint64
	Tag       types.ChainTag
	Page      int
	PageSize  int
	Ascending bool
}

func (f Filter) bounds() (offset, limit int) {
	limit = f.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}

func (f Filter) matches(r *Record) bool {
	return f.Tag == "" || r.Tag == f.Tag
}

// History 收款历史持久化
type History interface {
	Save(ctx context.Context, records ...*Record) error
	// Query 返回当前页记录及过滤后的总数
	Query(ctx context.Context, f Filter) ([]*Record, int, error)
	Close() error
}
