package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "stealth_sap"

// ScanMetrics 扫描指标，nil 接收者上的方法为空操作
type ScanMetrics struct {
	AnnouncementsScanned *prometheus.CounterVec // 已解密尝试的公告数（按来源类型）
	Matches              *prometheus.CounterVec // 命中数
	ChunkDuration        prometheus.Histogram   // 单个分片耗时
	Failures             *prometheus.CounterVec // 扫描终止失败
	Windows              *prometheus.CounterVec // 已完成窗口
}

// NewScanMetrics 在指定 registry 上注册扫描指标
func NewScanMetrics(reg prometheus.Registerer) *ScanMetrics {
	f := promauto.With(reg)
	return &ScanMetrics{
		AnnouncementsScanned: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "announcements_scanned_total",
				Help:      "Total number of announcements checked for ownership",
			},
			[]string{"chain_id", "type"},
		),
		Matches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "matches_total",
				Help:      "Total number of announcements owned by the scanning identity",
			},
			[]string{"chain_id", "type"},
		),
		ChunkDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "chunk_duration_seconds",
				Help:      "Chunk decrypt and enrich duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		Failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "scan_failures_total",
				Help:      "Total number of aborted scan sessions",
			},
			[]string{"chain_id"},
		),
		Windows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "windows_completed_total",
				Help:      "Total number of completed scan windows",
			},
			[]string{"chain_id", "source"},
		),
	}
}

func (m *ScanMetrics) ObserveScanned(chainID, tag string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.AnnouncementsScanned.WithLabelValues(chainID, tag).Add(float64(n))
}

func (m *ScanMetrics) ObserveMatch(chainID, tag string) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(chainID, tag).Inc()
}

func (m *ScanMetrics) ObserveChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.ChunkDuration.Observe(d.Seconds())
}

func (m *ScanMetrics) ObserveFailure(chainID string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(chainID).Inc()
}

func (m *ScanMetrics) ObserveWindow(chainID, source string) {
	if m == nil {
		return
	}
	m.Windows.WithLabelValues(chainID, source).Inc()
}
