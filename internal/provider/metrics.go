package provider

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"storyquest-server/internal/models"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyquest_ai_requests_total",
			Help: "Total number of requests to AI providers.",
		},
		[]string{"provider", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyquest_ai_request_duration_seconds",
			Help:    "Histogram of AI provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyquest_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 12),
		},
		[]string{"provider"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyquest_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(50, 50, 12),
		},
		[]string{"provider"},
	)
	aiFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storyquest_ai_fallback_scenes_total",
			Help: "Total number of templated fallback scenes served after provider exhaustion.",
		},
	)
)

func observeUsage(providerName string, usage models.UsageInfo) {
	if usage.TotalTokens == 0 {
		return
	}
	aiPromptTokens.WithLabelValues(providerName).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.WithLabelValues(providerName).Observe(float64(usage.CompletionTokens))
}

// estimateTokens оценивает число токенов через tiktoken, когда API не вернул
// usage (типично для стримов). Ошибка токенизатора — просто 0.
func estimateTokens(model, text string) int {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0
		}
	}
	return len(tke.Encode(text, nil, nil))
}
