package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		EmbeddingErrorsTotal,
		EmbeddingFallbacksTotal,
		EmbeddingDimensionMismatchTotal,
		LabelCacheTotal,
		GenerationRequestsTotal,
		GenerationRequestDuration,
		GenerationTokensTotal,
		GenerationRetriesTotal,
		GenerationPromptTruncationsTotal,
		GenerationJSONTotal,
		JobsTotal,
		JobDuration,
	}
}

// RegisterMetrics registers all collectors with reg (prometheus.DefaultRegisterer when nil).
// Only the first call has an effect.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(Collectors()...)
	})
}
