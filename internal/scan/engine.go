package scan

import (
	"context"
	"iter"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/SafeMPC/stealth-sap/internal/bridge"
	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/index"
	"github.com/SafeMPC/stealth-sap/internal/metrics"
	"github.com/SafeMPC/stealth-sap/internal/stealth"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const (
	DefaultChunkSize  = 20
	DefaultWindowSize = 1200
	DefaultChunkDelay = 50 * time.Millisecond
	DefaultWorkers    = 4
)

// Options 扫描参数
type Options struct {
	ChunkSize  int
	WindowSize uint64
	// ChunkDelay 相邻分片之间的最小间隔，0 表示不限速
	ChunkDelay time.Duration
	Workers    int
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:  DefaultChunkSize,
		WindowSize: DefaultWindowSize,
		ChunkDelay: DefaultChunkDelay,
		Workers:    DefaultWorkers,
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.WindowSize == 0 {
		o.WindowSize = d.WindowSize
	}
	if o.ChunkDelay < 0 {
		o.ChunkDelay = 0
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	return o
}

// Network 一条可扫描的链
type Network struct {
	ChainID    uint64
	Reader     chain.Reader
	Client     common.Address
	Bridge     common.Address
	StartBlock uint64
}

// Checkpoints 扫描进度持久化
type Checkpoints interface {
	Get(ctx context.Context, owner common.Address, chainID uint64) (uint64, bool, error)
	Set(ctx context.Context, owner common.Address, chainID uint64, block uint64) error
}

// Match 命中的公告及其链上补充信息
type Match struct {
	*stealth.Match
	ChainID   uint64
	Timestamp uint64
	From      common.Address
	Balance   *big.Int
	TxHash    common.Hash
}

// Progress 每个分片完成后产出一次
type Progress struct {
	SessionID string
	// Total 整个会话的公告总数：已读取窗口的实际数量加未读取索引批次的记录数
	Total int
	// Windows 本次会话的窗口数（按交易哈希扫描时额外加一）
	Windows int
	// Current 已完成窗口数加当前窗口已完成分片比例，单调递增
	Current float64
	Block   uint64
	// Scanned 截至目前检查过的公告数
	Scanned int
	Data    []*Match
}

// Engine 公告扫描引擎
type Engine struct {
	networks        map[uint64]*Network
	bridges         *bridge.Config
	registry        chain.RegistryReader
	registryChainID uint64
	index           index.Client
	tracker         bridge.Tracker
	checkpoints     Checkpoints
	metrics         *metrics.ScanMetrics
	opts            Options
}

type Option func(*Engine)

func WithOptions(o Options) Option {
	return func(e *Engine) { e.opts = o.normalize() }
}

// WithRegistry 注册链上的默认起点为最后一次 KeyChanged 所在区块
func WithRegistry(r chain.RegistryReader, chainID uint64) Option {
	return func(e *Engine) {
		e.registry = r
		e.registryChainID = chainID
	}
}

func WithIndex(c index.Client) Option {
	return func(e *Engine) { e.index = c }
}

func WithTracker(t bridge.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

func WithCheckpoints(c Checkpoints) Option {
	return func(e *Engine) { e.checkpoints = c }
}

func WithMetrics(m *metrics.ScanMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine 创建扫描引擎
func NewEngine(networks []*Network, bridges *bridge.Config, opts ...Option) (*Engine, error) {
	if len(networks) == 0 {
		return nil, errors.Wrap(types.ErrInvalidChainConfig, "no networks configured")
	}
	if bridges == nil {
		var err error
		if bridges, err = bridge.NewConfig(nil); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		networks: make(map[uint64]*Network, len(networks)),
		bridges:  bridges,
		opts:     DefaultOptions(),
	}
	for _, n := range networks {
		if n == nil || n.ChainID == 0 || n.Reader == nil {
			return nil, errors.Wrap(types.ErrInvalidChainConfig, "network requires chain id and reader")
		}
		if _, ok := e.networks[n.ChainID]; ok {
			return nil, errors.Wrapf(types.ErrInvalidChainConfig, "duplicate network %d", n.ChainID)
		}
		e.networks[n.ChainID] = n
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) network(chainID uint64) (*Network, error) {
	n, ok := e.networks[chainID]
	if !ok {
		return nil, errors.Wrapf(types.ErrInvalidChainConfig, "unsupported chain %d", chainID)
	}
	return n, nil
}

// Scan 按窗口和分片顺序产出扫描进度
// 出错时产出一次错误后结束
func (e *Engine) Scan(ctx context.Context, req Request) iter.Seq2[*Progress, error] {
	return func(yield func(*Progress, error) bool) {
		s, err := e.newSession(ctx, req)
		if err != nil {
			e.metrics.ObserveFailure(chainLabel(req.ChainID))
			log.Error().Err(err).Uint64("chain_id", req.ChainID).Msg("Failed to start scan session")
			yield(nil, err)
			return
		}
		defer s.close()
		s.run(ctx, yield)
	}
}

// Run 同步执行扫描，handler 返回错误时停止
func (e *Engine) Run(ctx context.Context, req Request, handler func(*Progress) error) error {
	for p, err := range e.Scan(ctx, req) {
		if err != nil {
			return err
		}
		if err := handler(p); err != nil {
			return err
		}
	}
	return nil
}

type session struct {
	e       *Engine
	id      string
	req     Request
	net     *Network
	client  *chain.ClientContract
	windows []Window
	start   uint64
	steps   int
	total   int
	pool    *ants.Pool
	limiter *rate.Limiter
	logger  zerolog.Logger
	scanned int
	matched int
}

func (e *Engine) newSession(ctx context.Context, req Request) (*session, error) {
	windows, start, err := e.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	net, _ := e.network(req.ChainID)

	pool, err := ants.NewPool(e.opts.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decrypt pool")
	}

	limit := rate.Inf
	if e.opts.ChunkDelay > 0 {
		limit = rate.Every(e.opts.ChunkDelay)
	}

	s := &session{
		e:       e,
		id:      uuid.New().String(),
		req:     req,
		net:     net,
		windows: windows,
		start:   start,
		steps:   len(windows),
		pool:    pool,
		limiter: rate.NewLimiter(limit, 1),
	}
	if net.Client != (common.Address{}) {
		s.client = chain.NewClientContract(net.Reader, net.Client)
	}
	for _, w := range windows {
		s.total += int(w.Count)
	}
	if req.hasTxHash() {
		s.steps++
	}
	s.logger = log.With().
		Str("session_id", s.id).
		Uint64("chain_id", req.ChainID).
		Str("owner", req.Identity.Owner.Hex()).
		Logger()
	return s, nil
}

func (s *session) close() {
	s.pool.Release()
}

func (s *session) fail(ctx context.Context, yield func(*Progress, error) bool, err error) {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	s.e.metrics.ObserveFailure(chainLabel(s.req.ChainID))
	s.logger.Error().Err(err).Int("scanned", s.scanned).Msg("Scan session aborted")
	yield(nil, err)
}

func (s *session) run(ctx context.Context, yield func(*Progress, error) bool) {
	s.logger.Info().Int("windows", len(s.windows)).Bool("tx_hash", s.req.hasTxHash()).Msg("Starting scan session")

	if s.steps == 0 {
		s.logger.Info().Uint64("start_block", s.start).Msg("Nothing to scan, already at head")
		yield(s.progress(0, s.start, nil), nil)
		return
	}

	for i, w := range s.windows {
		items, err := s.e.fetch(ctx, w)
		if err != nil {
			s.fail(ctx, yield, err)
			return
		}
		// 索引批次的预估数替换为实际数量
		s.total += len(items) - int(w.Count)
		s.logger.Debug().
			Str("source", w.source()).
			Uint64("source_chain", w.SourceChain).
			Uint64("from", w.StartBlock).
			Uint64("to", w.EndBlock).
			Int("announcements", len(items)).
			Msg("Fetched window")

		if len(items) == 0 {
			if !yield(s.progress(float64(i+1), w.EndBlock, nil), nil) {
				return
			}
			s.windowDone(ctx, w)
			continue
		}

		chunks := split(items, s.e.opts.ChunkSize)
		for j, c := range chunks {
			matches, err := s.chunk(ctx, c, common.Hash{})
			if err != nil {
				s.fail(ctx, yield, err)
				return
			}
			current := float64(i) + float64(j+1)/float64(len(chunks))
			if !yield(s.progress(current, c[len(c)-1].BlockNumber, matches), nil) {
				return
			}
		}
		s.windowDone(ctx, w)
	}

	if s.req.hasTxHash() {
		items, err := s.e.transactionAnnouncements(ctx, s.net, s.req.TxHash)
		if err != nil {
			s.fail(ctx, yield, err)
			return
		}
		s.total += len(items)
		matches, err := s.chunk(ctx, items, s.req.TxHash)
		if err != nil {
			s.fail(ctx, yield, err)
			return
		}
		var block uint64
		if len(items) > 0 {
			block = items[len(items)-1].BlockNumber
		}
		if !yield(s.progress(float64(len(s.windows)+1), block, matches), nil) {
			return
		}
	}

	s.logger.Info().Int("scanned", s.scanned).Int("matches", s.matched).Msg("Scan session completed")
}

func (s *session) progress(current float64, block uint64, matches []*Match) *Progress {
	return &Progress{
		SessionID: s.id,
		Total:     s.total,
		Windows:   s.steps,
		Current:   current,
		Block:     block,
		Scanned:   s.scanned,
		Data:      matches,
	}
}

func (s *session) windowDone(ctx context.Context, w Window) {
	s.e.metrics.ObserveWindow(chainLabel(s.req.ChainID), w.source())
	if s.e.checkpoints == nil || w.Bridged() {
		return
	}
	if err := s.e.checkpoints.Set(ctx, s.req.Identity.Owner, s.req.ChainID, w.EndBlock); err != nil {
		s.logger.Warn().Err(err).Uint64("block", w.EndBlock).Msg("Failed to save scan checkpoint")
	}
}

// chunk 限速后解密并补充一个分片
func (s *session) chunk(ctx context.Context, items []*types.Announcement, seed common.Hash) ([]*Match, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	started := time.Now()

	found, err := s.decryptChunk(ctx, items)
	if err != nil {
		return nil, err
	}
	matches, err := s.enrich(ctx, found, seed)
	if err != nil {
		return nil, err
	}

	chainID := chainLabel(s.req.ChainID)
	for _, a := range items {
		s.e.metrics.ObserveScanned(chainID, string(a.Tag), 1)
	}
	for _, m := range matches {
		s.e.metrics.ObserveMatch(chainID, string(m.Announcement.Tag))
	}
	s.e.metrics.ObserveChunk(time.Since(started))

	s.scanned += len(items)
	s.matched += len(matches)
	s.logger.Debug().Int("items", len(items)).Int("matches", len(matches)).Dur("took", time.Since(started)).Msg("Processed chunk")
	return matches, nil
}

func split(items []*types.Announcement, size int) [][]*types.Announcement {
	chunks := make([][]*types.Announcement, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
