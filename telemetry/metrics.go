// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles     prometheus.Counter
	PollFailures   prometheus.Counter
	TokenRefreshes prometheus.Counter

	// Histograms (seconds)
	CycleDuration prometheus.Observer

	// Gauges
	LiveGauge          prometheus.Gauge // 1=live, 0=offline
	HeadcountGauge     prometheus.Gauge
	SessionsGauge      prometheus.Gauge
	RankedViewersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "ttva_poll_cycles_total", Help: "Number of poll cycles started"})
		PollFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "ttva_poll_failures_total", Help: "Number of poll cycles that failed and backed off"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "ttva_token_refreshes_total", Help: "Number of app access token refreshes"})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ttva_poll_cycle_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ttva_stream_live", Help: "Stream live=1 offline=0"})
		HeadcountGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ttva_chat_headcount", Help: "Chatter headcount at the last poll"})
		SessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ttva_streams_total", Help: "Total streams ever recorded"})
		RankedViewersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ttva_ranked_viewers", Help: "Viewers on the current leaderboard"})
	})
}

// SetLive sets the live gauge from a bool.
func SetLive(live bool) {
	if LiveGauge == nil {
		return
	}
	if live {
		LiveGauge.Set(1)
	} else {
		LiveGauge.Set(0)
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
