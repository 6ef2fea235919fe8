package scan

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// StartMode 未指定起始区块时的起点
type StartMode int

const (
	// StartRegistration 从注册区块（注册链）或链的部署区块开始
	StartRegistration StartMode = iota
	// StartCheckpoint 从上次扫描结束的区块继续
	StartCheckpoint
)

// BridgeRange 源链上需要扫描的跨链区间，EndBlock 为 0 表示源链最新区块
type BridgeRange struct {
	SourceChain uint64
	StartBlock  uint64
	EndBlock    uint64
}

// Request 一次扫描会话的输入
type Request struct {
	Identity   *identity.Identity
	ChainID    uint64
	StartBlock *uint64
	EndBlock   *uint64
	TxHash     common.Hash
	Start      StartMode
	Bridges    []BridgeRange
}

// NewRequest 由校验后的扫描参数构造请求
func NewRequest(id *identity.Identity, chainID uint64, payload *types.ScanPayload) (Request, error) {
	req := Request{Identity: id, ChainID: chainID}
	if payload == nil {
		return req, nil
	}
	if err := payload.Validate(strfmt.Default); err != nil {
		return req, errors.Wrap(err, "invalid scan payload")
	}
	req.StartBlock = payload.StartBlock
	req.EndBlock = payload.EndBlock
	if payload.TxHash != "" {
		req.TxHash = common.HexToHash(payload.TxHash)
	}
	return req, nil
}

func (r Request) hasTxHash() bool {
	return r.TxHash != (common.Hash{})
}

// Window 一个待扫描的区块区间
// 跨链窗口的区块号属于源链
type Window struct {
	SourceChain uint64
	TargetChain uint64
	StartBlock  uint64
	EndBlock    uint64
	// IndexHash 非空时从历史索引批次读取
	IndexHash string
	// Count 索引记录的公告数，读取批次前用于预估总数
	Count uint64
}

func (w Window) Bridged() bool {
	return w.SourceChain != w.TargetChain
}

func (w Window) source() string {
	switch {
	case w.IndexHash != "":
		return "index"
	case w.Bridged():
		return "bridge"
	default:
		return "chain"
	}
}

// ResolveWindows 将请求展开为有序窗口：历史索引、跨链区间、本链分批区间
func (e *Engine) ResolveWindows(ctx context.Context, req Request) ([]Window, error) {
	windows, _, err := e.resolve(ctx, req)
	return windows, err
}

// resolve 同时返回起始区块，没有窗口时用于进度标记
func (e *Engine) resolve(ctx context.Context, req Request) ([]Window, uint64, error) {
	net, err := e.network(req.ChainID)
	if err != nil {
		return nil, 0, err
	}
	if req.Identity == nil {
		return nil, 0, errors.New("scan identity is required")
	}
	// 仅按交易哈希扫描
	if req.hasTxHash() && req.StartBlock == nil {
		return nil, 0, nil
	}

	start, err := e.startBlock(ctx, req, net)
	if err != nil {
		return nil, 0, err
	}
	first := start
	end, err := net.Reader.GetBlockNumber(ctx)
	if err != nil {
		return nil, 0, err
	}
	if req.EndBlock != nil && *req.EndBlock < end {
		end = *req.EndBlock
	}

	var windows []Window
	if req.EndBlock == nil && e.index != nil {
		windows, start = e.indexWindows(ctx, req.ChainID, start, end)
	}

	for _, br := range req.Bridges {
		w, err := e.bridgeWindow(ctx, req.ChainID, br)
		if err != nil {
			return nil, 0, err
		}
		windows = append(windows, w)
	}

	size := e.opts.WindowSize
	for from := start; from <= end; from += size {
		to := from + size - 1
		if to > end || to < from {
			to = end
		}
		windows = append(windows, Window{
			SourceChain: req.ChainID,
			TargetChain: req.ChainID,
			StartBlock:  from,
			EndBlock:    to,
		})
		if to == end {
			break
		}
	}
	return windows, first, nil
}

func (e *Engine) startBlock(ctx context.Context, req Request, net *Network) (uint64, error) {
	if req.StartBlock != nil {
		return *req.StartBlock, nil
	}
	owner := req.Identity.Owner

	if req.Start == StartCheckpoint && e.checkpoints != nil {
		block, ok, err := e.checkpoints.Get(ctx, owner, req.ChainID)
		switch {
		case err != nil:
			log.Warn().Err(err).Uint64("chain_id", req.ChainID).Msg("Failed to load scan checkpoint, falling back to registration block")
		case ok:
			return block + 1, nil
		}
	}

	if e.registry != nil && req.ChainID == e.registryChainID {
		block, ok, err := e.registry.RegistrationBlock(ctx, owner)
		if err != nil {
			return 0, err
		}
		if ok {
			return block, nil
		}
	}
	return net.StartBlock, nil
}

// indexWindows 返回索引覆盖的窗口以及链上查询的新起点
func (e *Engine) indexWindows(ctx context.Context, chainID, start, end uint64) ([]Window, uint64) {
	m, err := e.index.Latest(ctx, chainID)
	if err != nil {
		log.Warn().Err(err).Uint64("chain_id", chainID).Msg("Historical index unavailable, scanning chain only")
		return nil, start
	}
	if m == nil {
		return nil, start
	}

	var windows []Window
	for _, entry := range m.From(start) {
		w := Window{
			SourceChain: uint64(entry.SourceChain),
			TargetChain: chainID,
			StartBlock:  uint64(entry.StartBlock),
			EndBlock:    uint64(entry.EndBlock),
			IndexHash:   entry.Hash,
			Count:       uint64(entry.Count),
		}
		if w.SourceChain == 0 {
			w.SourceChain = chainID
		}
		if !w.Bridged() {
			if w.StartBlock > end {
				continue
			}
			if w.StartBlock < start {
				w.StartBlock = start
			}
		}
		windows = append(windows, w)
	}

	if next := uint64(m.EndBlockAll) + 1; next > start {
		start = next
	}
	return windows, start
}

func (e *Engine) bridgeWindow(ctx context.Context, target uint64, br BridgeRange) (Window, error) {
	if br.SourceChain == target {
		return Window{}, errors.Wrapf(types.ErrInvalidChainConfig, "bridge source %d equals target chain", target)
	}
	src, err := e.network(br.SourceChain)
	if err != nil {
		return Window{}, err
	}
	if src.Bridge == (common.Address{}) {
		return Window{}, errors.Wrapf(types.ErrInvalidChainConfig, "chain %d has no bridge contract", br.SourceChain)
	}
	end := br.EndBlock
	if end == 0 {
		if end, err = src.Reader.GetBlockNumber(ctx); err != nil {
			return Window{}, err
		}
	}
	if end < br.StartBlock {
		return Window{}, errors.Errorf("bridge range of chain %d ends before it starts", br.SourceChain)
	}
	return Window{
		SourceChain: br.SourceChain,
		TargetChain: target,
		StartBlock:  br.StartBlock,
		EndBlock:    end,
	}, nil
}

func chainLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}
