package index

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

const (
	DefaultBaseURL  = "https://arseed.web3infra.dev/"
	DefaultOrderURL = "https://arseed.web3infra.dev/bundle/orders/"
)

// DefaultWallets 各链索引上传钱包
func DefaultWallets() map[uint64]common.Address {
	return map[uint64]common.Address{
		80001:    common.HexToAddress("0xC2b68fe22622536b7DEF1Df02aae639773C1Ad23"),
		11155111: common.HexToAddress("0x4F5f175d7626778DD48eE95409231868D7ACD39B"),
	}
}

// Uint64 兼容数字与字符串两种 JSON 表示
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid uint64 %q", s)
	}
	*u = Uint64(v)
	return nil
}

// Entry 一个索引批次
type Entry struct {
	Hash        string `json:"arHash"`
	StartBlock  Uint64 `json:"startBlock"`
	EndBlock    Uint64 `json:"endBlock"`
	Count       Uint64 `json:"count"`
	SourceChain Uint64 `json:"sourceChain"`
	TargetChain Uint64 `json:"targetChain"`
}

// Bridged 批次来自其他链
func (e Entry) Bridged() bool {
	return e.TargetChain != 0 && e.SourceChain != e.TargetChain
}

// Manifest 最新索引
type Manifest struct {
	EndBlockAll Uint64  `json:"endBlockAll"`
	Entries     []Entry `json:"indexList"`
}

// From 返回结束区块不早于 start 的批次
func (m *Manifest) From(start uint64) []Entry {
	if m == nil || start >= uint64(m.EndBlockAll) {
		return nil
	}
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if start <= uint64(e.EndBlock) {
			out = append(out, e)
		}
	}
	return out
}

// Client 历史公告索引
type Client interface {
	// Latest 返回链的最新索引，未配置索引时返回 nil
	Latest(ctx context.Context, chainID uint64) (*Manifest, error)
	Batch(ctx context.Context, hash string) ([]*types.Announcement, error)
}

// ArseedClient 通过 Arseeding 网关读取索引
type ArseedClient struct {
	baseURL  string
	orderURL string
	wallets  map[uint64]common.Address
	client   *http.Client
}

var _ Client = (*ArseedClient)(nil)

func NewArseedClient(baseURL, orderURL string, wallets map[uint64]common.Address) *ArseedClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if orderURL == "" {
		orderURL = DefaultOrderURL
	}
	if wallets == nil {
		wallets = DefaultWallets()
	}
	return &ArseedClient{
		baseURL:  baseURL,
		orderURL: orderURL,
		wallets:  wallets,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *ArseedClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(types.ErrChainQueryFailed, "index %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(types.ErrChainQueryFailed, "index %s: unexpected HTTP status %d", url, resp.StatusCode)
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "failed to decode index response %s", url)
}

type order struct {
	ItemID string `json:"itemId"`
}

// Latest 读取最新上传订单对应的索引
func (c *ArseedClient) Latest(ctx context.Context, chainID uint64) (*Manifest, error) {
	wallet, ok := c.wallets[chainID]
	if !ok {
		log.Debug().Uint64("chain_id", chainID).Msg("No index wallet configured")
		return nil, nil
	}

	var orders []order
	if err := c.getJSON(ctx, c.orderURL+wallet.Hex(), &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 || orders[0].ItemID == "" {
		return nil, nil
	}

	var m Manifest
	if err := c.getJSON(ctx, c.baseURL+orders[0].ItemID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

type batchItem struct {
	Cipher  string         `json:"cipher"`
	SaDest  common.Address `json:"saDest"`
	Amount  string         `json:"amount"`
	Token   common.Address `json:"token"`
	Block   Uint64         `json:"block"`
	TxHash  common.Hash    `json:"txHash"`
	Type    string         `json:"type"`
	ChainID Uint64         `json:"sourceChain"`
}

// Batch 读取一个批次中的公告
func (c *ArseedClient) Batch(ctx context.Context, hash string) ([]*types.Announcement, error) {
	var items []batchItem
	if err := c.getJSON(ctx, c.baseURL+hash, &items); err != nil {
		return nil, err
	}

	out := make([]*types.Announcement, 0, len(items))
	for _, it := range items {
		cipher, err := hexutil.Decode(it.Cipher)
		if err != nil {
			// 密文无法解析的公告不可能属于任何人
			log.Debug().Str("batch", hash).Str("tx_hash", it.TxHash.Hex()).Msg("Skipping index item with malformed cipher")
			cipher = nil
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(it.Amount), 0)
		if !ok {
			amount = new(big.Int)
		}
		tag := types.ChainTagTransfer
		if strings.EqualFold(it.Type, string(types.ChainTagBridge)) {
			tag = types.ChainTagBridge
		}
		out = append(out, &types.Announcement{
			StealthAddress: it.SaDest,
			Ciphertext:     cipher,
			Token:          it.Token,
			Amount:         amount,
			BlockNumber:    uint64(it.Block),
			TxHash:         it.TxHash,
			Tag:            tag,
			SourceChainID:  uint64(it.ChainID),
		})
	}
	return out, nil
}
