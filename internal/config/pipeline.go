package config

import (
	"errors"
	"fmt"
	"time"
)

// Pipeline tier defaults.
const (
	defaultMaxConcurrentFetches   = 50
	defaultPerDomainConcurrency   = 3
	defaultFetchTimeoutSeconds    = 30
	defaultRequestDelaySeconds    = 0.25
	defaultMinContentLength       = 200
	defaultMinHashNumPerm         = 128
	defaultMinHashThreshold       = 0.8
	defaultClusterKNNK            = 10
	defaultClusterCosineThreshold = 0.65
	defaultEmbeddingModel         = "all-MiniLM-L6-v2"
	defaultEmbeddingDimension     = 384
	defaultLLMRPMLimit            = 600
	defaultLLMSummarizeBatchSize  = 20
	defaultPremiumLLMTopPct       = 0.10
	defaultStaleRunMaxAge         = 2 * time.Hour
)

// Validation errors for pipeline configuration.
var (
	// ErrInvalidTier is returned when PIPELINE_TIER is not one of A, B, C.
	ErrInvalidTier = errors.New("pipeline tier must be A, B or C")

	// ErrNonPositiveConcurrency is returned when a concurrency limit is zero or negative.
	ErrNonPositiveConcurrency = errors.New("concurrency limits must be positive")

	// ErrThresholdOutOfRange is returned when a similarity threshold falls outside (0, 1].
	ErrThresholdOutOfRange = errors.New("similarity thresholds must be in (0, 1]")
)

// Tier selects how much of the pipeline runs per entry.
//
// Tier A stops after fetch+extract+dedupe. Tier B adds embeddings,
// clustering and the extractive summary. Tier C adds the LLM summary pass.
type Tier string

// Pipeline tiers.
const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// IsValid returns true if the tier is one of the known values.
func (t Tier) IsValid() bool {
	switch t {
	case TierA, TierB, TierC:
		return true
	default:
		return false
	}
}

// ClusteringEnabled reports whether the tier runs the embed+cluster+summary stages.
func (t Tier) ClusteringEnabled() bool {
	return t == TierB || t == TierC
}

// LLMEnabled reports whether the tier runs the LLM summary pass.
func (t Tier) LLMEnabled() bool {
	return t == TierC
}

// Pipeline holds the run-level pipeline configuration loaded from environment
// variables. It covers the knobs the fetcher, deduper, clusterer and summary
// writer consume; storage and server settings live in their own packages.
type Pipeline struct {
	Tier Tier

	// Fetcher
	MaxConcurrentFetches int
	PerDomainConcurrency int
	FetchTimeout         time.Duration
	RequestDelay         time.Duration

	// Extraction
	MinContentLength int

	// Dedup
	MinHashNumPerm   int
	MinHashThreshold float64

	// Clustering
	ClusterKNNK            int
	ClusterCosineThreshold float64

	// Embeddings
	EmbeddingModel     string
	EmbeddingDimension int

	// Summarization
	LLMRPMLimit           int
	LLMSummarizeBatchSize int

	// Scoring
	PremiumLLMTopPct float64

	// Run lifecycle
	StaleRunMaxAge time.Duration
}

// LoadPipeline loads pipeline configuration from environment variables with
// fallback to defaults. Unparseable values silently fall back, matching the
// other Load*Config helpers; Validate catches semantic problems.
func LoadPipeline() *Pipeline {
	delaySeconds := GetEnvFloat("REQUEST_DELAY_SECONDS", defaultRequestDelaySeconds)

	return &Pipeline{
		Tier:                   Tier(GetEnvStr("PIPELINE_TIER", string(TierA))),
		MaxConcurrentFetches:   GetEnvInt("MAX_CONCURRENT_FETCHES", defaultMaxConcurrentFetches),
		PerDomainConcurrency:   GetEnvInt("PER_DOMAIN_CONCURRENCY", defaultPerDomainConcurrency),
		FetchTimeout:           time.Duration(GetEnvInt("FETCH_TIMEOUT_SECONDS", defaultFetchTimeoutSeconds)) * time.Second,
		RequestDelay:           time.Duration(delaySeconds * float64(time.Second)),
		MinContentLength:       GetEnvInt("MIN_CONTENT_LENGTH", defaultMinContentLength),
		MinHashNumPerm:         GetEnvInt("MINHASH_NUM_PERM", defaultMinHashNumPerm),
		MinHashThreshold:       GetEnvFloat("MINHASH_THRESHOLD", defaultMinHashThreshold),
		ClusterKNNK:            GetEnvInt("CLUSTER_KNN_K", defaultClusterKNNK),
		ClusterCosineThreshold: GetEnvFloat("CLUSTER_COSINE_THRESHOLD", defaultClusterCosineThreshold),
		EmbeddingModel:         GetEnvStr("EMBEDDING_MODEL", defaultEmbeddingModel),
		EmbeddingDimension:     GetEnvInt("EMBEDDING_DIMENSION", defaultEmbeddingDimension),
		LLMRPMLimit:            GetEnvInt("LLM_RPM_LIMIT", defaultLLMRPMLimit),
		LLMSummarizeBatchSize:  GetEnvInt("LLM_SUMMARIZE_BATCH_SIZE", defaultLLMSummarizeBatchSize),
		PremiumLLMTopPct:       GetEnvFloat("PREMIUM_LLM_TOP_PCT", defaultPremiumLLMTopPct),
		StaleRunMaxAge:         GetEnvDuration("STALE_RUN_MAX_AGE", defaultStaleRunMaxAge),
	}
}

// Validate checks the pipeline configuration for semantic errors.
func (p *Pipeline) Validate() error {
	if !p.Tier.IsValid() {
		return fmt.Errorf("%w: got %q", ErrInvalidTier, p.Tier)
	}

	if p.MaxConcurrentFetches <= 0 || p.PerDomainConcurrency <= 0 {
		return ErrNonPositiveConcurrency
	}

	if p.MinHashThreshold <= 0 || p.MinHashThreshold > 1 {
		return fmt.Errorf("%w: MINHASH_THRESHOLD=%v", ErrThresholdOutOfRange, p.MinHashThreshold)
	}

	if p.ClusterCosineThreshold <= 0 || p.ClusterCosineThreshold > 1 {
		return fmt.Errorf("%w: CLUSTER_COSINE_THRESHOLD=%v", ErrThresholdOutOfRange, p.ClusterCosineThreshold)
	}

	return nil
}

// IsProduction reports whether the process runs in a production deployment.
// Railway sets RAILWAY_ENVIRONMENT to "production" on deployed services;
// anything else (including unset) counts as development.
func IsProduction() bool {
	return GetEnvStr("RAILWAY_ENVIRONMENT", "development") == "production"
}
