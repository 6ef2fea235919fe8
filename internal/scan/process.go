package scan

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/stealth"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// decryptChunk 并行尝试解密，结果保持输入顺序
func (s *session) decryptChunk(ctx context.Context, items []*types.Announcement) ([]*stealth.Match, error) {
	enc := s.req.Identity.Enc
	results := make([]*stealth.Match, len(items))

	var wg sync.WaitGroup
	for i, a := range items {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			results[i] = stealth.Recover(enc, a)
		}
		if err := s.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	found := make([]*stealth.Match, 0, 1)
	for _, m := range results {
		if m != nil {
			found = append(found, m)
		}
	}
	return found, nil
}

// enrich 补充区块时间、交易发送方与隐身地址余额
func (s *session) enrich(ctx context.Context, found []*stealth.Match, seed common.Hash) ([]*Match, error) {
	if len(found) == 0 {
		return nil, nil
	}
	out := make([]*Match, len(found))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.e.opts.Workers)
	for i, m := range found {
		g.Go(func() error {
			r, err := s.enrichOne(gctx, m, seed)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *session) enrichOne(ctx context.Context, m *stealth.Match, seed common.Hash) (*Match, error) {
	a := m.Announcement
	src := s.net
	if a.SourceChainID != 0 && a.SourceChainID != s.net.ChainID {
		if n, ok := s.e.networks[a.SourceChainID]; ok {
			src = n
		}
	}

	r := &Match{Match: m, ChainID: s.req.ChainID, TxHash: a.TxHash}
	if seed != (common.Hash{}) {
		r.TxHash = seed
	}

	block, err := src.Reader.GetBlock(ctx, a.BlockNumber)
	if err != nil {
		return nil, err
	}
	r.Timestamp = uint64(block.Timestamp)

	if a.TxHash != (common.Hash{}) {
		tx, err := src.Reader.GetTransaction(ctx, a.TxHash)
		if err != nil {
			return nil, err
		}
		r.From = tx.From
	}

	if s.client != nil {
		_, balance, err := s.client.GetSA(ctx, a.StealthAddress, a.Token)
		if err != nil {
			return nil, err
		}
		r.Balance = balance
	}
	return r, nil
}

// fetch 读取一个窗口内的公告
func (e *Engine) fetch(ctx context.Context, w Window) ([]*types.Announcement, error) {
	switch {
	case w.IndexHash != "":
		return e.fetchIndex(ctx, w)
	case w.Bridged():
		return e.fetchBridge(ctx, w)
	default:
		return e.fetchChain(ctx, w)
	}
}

func (e *Engine) fetchIndex(ctx context.Context, w Window) ([]*types.Announcement, error) {
	items, err := e.index.Batch(ctx, w.IndexHash)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Announcement, 0, len(items))
	for _, a := range items {
		if w.Bridged() {
			a.Tag = types.ChainTagBridge
			a.SourceChainID = w.SourceChain
			a.Token = e.bridges.TargetToken(a.Token, w.SourceChain, w.TargetChain)
		} else {
			if a.BlockNumber < w.StartBlock || a.BlockNumber > w.EndBlock {
				continue
			}
			if a.SourceChainID == 0 {
				a.SourceChainID = w.SourceChain
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func (e *Engine) fetchBridge(ctx context.Context, w Window) ([]*types.Announcement, error) {
	src, err := e.network(w.SourceChain)
	if err != nil {
		return nil, err
	}
	selector, err := e.bridges.Selector(w.TargetChain)
	if err != nil {
		return nil, err
	}
	topics := []common.Hash{chain.SAMessageSentTopic, {}, chain.SelectorTopic(selector)}
	logs, err := src.Reader.QueryEvents(ctx, src.Bridge, topics, w.StartBlock, w.EndBlock)
	if err != nil {
		return nil, err
	}
	return decodeLogs(logs, func(l ethtypes.Log) (*types.Announcement, error) {
		a, err := chain.DecodeBridgeLog(l, w.SourceChain)
		if err != nil {
			return nil, err
		}
		a.Token = e.bridges.TargetToken(a.Token, w.SourceChain, w.TargetChain)
		return a, nil
	}), nil
}

func (e *Engine) fetchChain(ctx context.Context, w Window) ([]*types.Announcement, error) {
	net, err := e.network(w.TargetChain)
	if err != nil {
		return nil, err
	}
	logs, err := net.Reader.QueryEvents(ctx, net.Client, []common.Hash{chain.SATransactionTopic}, w.StartBlock, w.EndBlock)
	if err != nil {
		return nil, err
	}
	return decodeLogs(logs, func(l ethtypes.Log) (*types.Announcement, error) {
		a, err := chain.DecodeTransferLog(l)
		if err != nil {
			return nil, err
		}
		a.SourceChainID = w.TargetChain
		return a, nil
	}), nil
}

func decodeLogs(logs []ethtypes.Log, decode func(ethtypes.Log) (*types.Announcement, error)) []*types.Announcement {
	out := make([]*types.Announcement, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		a, err := decode(l)
		if err != nil {
			log.Debug().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("Skipping undecodable log")
			continue
		}
		out = append(out, a)
	}
	return out
}

// transactionAnnouncements 读取交易内的公告，本链找不到时按跨链消息查找目标链交易
func (e *Engine) transactionAnnouncements(ctx context.Context, net *Network, hash common.Hash) ([]*types.Announcement, error) {
	items, err := announcementsInTx(ctx, net, hash, types.ChainTagTransfer)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	if e.tracker == nil {
		if err != nil {
			return nil, err
		}
		return nil, errors.Errorf("no announcement found in transaction %s", hash.Hex())
	}

	log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("Transaction not found on chain, looking up bridge message")
	msg, terr := e.tracker.Lookup(ctx, hash)
	if terr != nil {
		return nil, terr
	}
	return announcementsInTx(ctx, net, msg.DestTransactionHash, types.ChainTagBridge)
}

func announcementsInTx(ctx context.Context, net *Network, hash common.Hash, tag types.ChainTag) ([]*types.Announcement, error) {
	tx, err := net.Reader.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.BlockNumber == nil {
		return nil, nil
	}
	block := uint64(*tx.BlockNumber)

	logs, err := net.Reader.QueryEvents(ctx, net.Client, []common.Hash{chain.SATransactionTopic}, block, block)
	if err != nil {
		return nil, err
	}
	var inTx []ethtypes.Log
	for _, l := range logs {
		if l.TxHash == hash {
			inTx = append(inTx, l)
		}
	}
	return decodeLogs(inTx, func(l ethtypes.Log) (*types.Announcement, error) {
		a, err := chain.DecodeTransferLog(l)
		if err != nil {
			return nil, err
		}
		a.Tag = tag
		a.SourceChainID = net.ChainID
		return a, nil
	}), nil
}
