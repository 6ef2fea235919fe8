package bridge

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// Token 跨链代币
type Token struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// Peer CCIP 链定义
type Peer struct {
	ChainID  uint64  `json:"chainId"`
	Name     string  `json:"chainName"`
	Selector uint64  `json:"chainSelector"`
	Tokens   []Token `json:"tokens"`
}

// DefaultPeers 已部署的 CCIP 链
func DefaultPeers() []Peer {
	return []Peer{
		{ChainID: 11155111, Name: "sepolia", Selector: 16015286601757825753, Tokens: []Token{
			{Name: "CCIP-BnM", Address: common.HexToAddress("0xFd57b4ddBf88a4e07fF4e34C487b99af2Fe82a05")},
			{Name: "CCIP-LnM", Address: common.HexToAddress("0x466D489b6d36E7E3b824ef491C225F5830E81cC1")},
		}},
		{ChainID: 97, Name: "bnbtestnet", Selector: 13264668187771770619, Tokens: []Token{
			{Name: "CCIP-BnM", Address: common.HexToAddress("0xbfa2acd33ed6eec0ed3cc06bf1ac38d22b36b9e9")},
			{Name: "CCIP-LnM", Address: common.HexToAddress("0x79a4fc27f69323660f5bfc12dee21c3cc14f5901")},
		}},
		{ChainID: 421614, Name: "arbitrumsepolia", Selector: 3478487238524512106, Tokens: []Token{
			{Name: "CCIP-BnM", Address: common.HexToAddress("0xA8C0c11bf64AF62CDCA6f93D3769B88BdD7cb93D")},
			{Name: "CCIP-LnM", Address: common.HexToAddress("0x139E99f0ab4084E14e6bb7DacA289a91a2d92927")},
		}},
		{ChainID: 42161, Name: "arbitrum", Selector: 4949039107694359620, Tokens: []Token{
			{Name: "USDC", Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")},
		}},
		{ChainID: 1, Name: "ethereum", Selector: 5009297550715157269, Tokens: []Token{
			{Name: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")},
		}},
		{ChainID: 137, Name: "polygon", Selector: 4051577828743386545, Tokens: []Token{
			{Name: "USDC", Address: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")},
		}},
		{ChainID: 56, Name: "bnb", Selector: 11344663589394136015},
	}
}

// Config CCIP 链表
type Config struct {
	byChain    map[uint64]Peer
	bySelector map[uint64]Peer
}

// NewConfig 创建链表，为空时使用默认配置
func NewConfig(peers []Peer) (*Config, error) {
	if len(peers) == 0 {
		peers = DefaultPeers()
	}
	c := &Config{
		byChain:    make(map[uint64]Peer, len(peers)),
		bySelector: make(map[uint64]Peer, len(peers)),
	}
	for _, p := range peers {
		if p.ChainID == 0 || p.Selector == 0 {
			return nil, errors.Wrapf(types.ErrInvalidChainConfig, "bridge peer %q requires chain id and selector", p.Name)
		}
		if _, ok := c.byChain[p.ChainID]; ok {
			return nil, errors.Wrapf(types.ErrInvalidChainConfig, "duplicate bridge peer %d", p.ChainID)
		}
		c.byChain[p.ChainID] = p
		c.bySelector[p.Selector] = p
	}
	return c, nil
}

// Peer 按链 ID 查询
func (c *Config) Peer(chainID uint64) (Peer, error) {
	p, ok := c.byChain[chainID]
	if !ok {
		return Peer{}, errors.Wrapf(types.ErrInvalidChainConfig, "chain %d is not a bridge peer", chainID)
	}
	return p, nil
}

// Selector 按链 ID 查询 CCIP 选择器
func (c *Config) Selector(chainID uint64) (uint64, error) {
	p, err := c.Peer(chainID)
	if err != nil {
		return 0, err
	}
	return p.Selector, nil
}

// PeerBySelector 按选择器查询
func (c *Config) PeerBySelector(selector uint64) (Peer, bool) {
	p, ok := c.bySelector[selector]
	return p, ok
}

// TargetToken 按代币名称将源链代币映射到目标链，无法映射时原样返回
func (c *Config) TargetToken(token common.Address, source, target uint64) common.Address {
	if types.IsNativeToken(token) {
		return token
	}
	src, ok := c.byChain[source]
	if !ok {
		return token
	}
	dst, ok := c.byChain[target]
	if !ok {
		return token
	}

	name := ""
	for _, t := range src.Tokens {
		if t.Address == token {
			name = t.Name
			break
		}
	}
	if name == "" {
		return token
	}
	for _, t := range dst.Tokens {
		if strings.EqualFold(t.Name, name) {
			return t.Address
		}
	}
	return token
}
