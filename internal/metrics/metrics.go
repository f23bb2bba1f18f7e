// Package metrics - prometheus-метрики сервиса
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// InferenceRequests - вызовы модели по операции, режиму и результату
	InferenceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_inference_requests_total",
			Help: "Total number of language model calls",
		},
		[]string{"op", "mode", "status"},
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insights_inference_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"op", "mode"},
	)

	InferenceTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_inference_tokens_total",
			Help: "Tokens consumed by language model calls",
		},
		[]string{"direction"},
	)

	// RunPolls - опросы статуса запусков ассистента по полученному статусу
	RunPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_run_polls_total",
			Help: "Assistant run status queries by observed status",
		},
		[]string{"status"},
	)

	SnapshotFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_snapshot_fetches_total",
			Help: "Warehouse snapshot lookups by result",
		},
		[]string{"result"},
	)

	SessionActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_session_actions_total",
			Help: "Session actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insights_active_sessions",
			Help: "Number of sessions held in memory",
		},
	)

	Exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_exports_total",
			Help: "Transcript exports by format and outcome",
		},
		[]string{"format", "outcome"},
	)
)

var registerOnce sync.Once

// Register регистрирует коллекторы в реестре по умолчанию (однократно)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(InferenceRequests)
		prometheus.MustRegister(InferenceDuration)
		prometheus.MustRegister(InferenceTokens)
		prometheus.MustRegister(RunPolls)
		prometheus.MustRegister(SnapshotFetches)
		prometheus.MustRegister(SessionActions)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(Exports)
	})
}
