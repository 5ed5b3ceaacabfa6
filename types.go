package tenderlens

import (
	"github.com/kailas-cloud/tenderlens/internal/config"
	"github.com/kailas-cloud/tenderlens/internal/db"
	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/domain/criterion"
	"github.com/kailas-cloud/tenderlens/internal/domain/rfp"
	"github.com/kailas-cloud/tenderlens/internal/usecase/analysis"
	"github.com/kailas-cloud/tenderlens/internal/usecase/evaluation"
	"github.com/kailas-cloud/tenderlens/internal/usecase/extraction"
	"github.com/kailas-cloud/tenderlens/internal/usecase/health"
)

// Provider contracts.
type (
	// Embedder converts text into a vector.
	Embedder = domain.Embedder
	// BatchEmbedder is an optional Embedder extension for many texts per request.
	BatchEmbedder        = domain.BatchEmbedder
	EmbeddingResult      = domain.EmbeddingResult
	BatchEmbeddingResult = domain.BatchEmbeddingResult
	// Generator produces text for a prompt.
	Generator         = domain.Generator
	GenerationRequest = domain.GenerationRequest
	GenerationResult  = domain.GenerationResult
)

// Inputs and results.
type (
	RFPContext       = rfp.Context
	Criterion        = criterion.Criterion
	CriterionResult  = criterion.Result
	Penalties        = criterion.Penalties
	Evaluation       = criterion.Evaluation
	ExtractedFields  = extraction.Result
	Field            = extraction.Field
	Categorized      = extraction.Categorized
	SuggestionReport = analysis.Report
	AspectReport     = analysis.AspectReport
	HealthReport     = health.Report
	Usage            = domain.UsageSnapshot
	RiskTiers        = evaluation.RiskTiers
)

// CacheStore backs the process-wide label embedding cache.
type CacheStore = db.Store

// Config is the file-based engine configuration, see NewFromConfig.
type Config = config.Config

// LoadConfig reads config/<env>.yaml.
func LoadConfig(env string) (Config, error) {
	return config.Load(env)
}

// DefaultCategories are the chunk labels: the analysis aspects plus compliance.
func DefaultCategories() []string {
	return config.DefaultCategories()
}

// DefaultRequirementCategories group extracted requirements and evaluation metrics.
func DefaultRequirementCategories() []string {
	return config.DefaultRequirementCategories()
}

// Aspects lists the proposal analysis aspects in report order.
func Aspects() []string {
	return analysis.Aspects()
}
