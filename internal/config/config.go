package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the tenderlens engine configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retry      RetryConfig      `yaml:"retry"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Cache      CacheConfig      `yaml:"cache"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// ProviderConfig holds the connection settings shared by embedding and generation.
type ProviderConfig struct {
	Provider          string  `yaml:"provider"` // openai, ollama, mock
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int     `yaml:"burst"`
}

// Timeout returns the per-request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	ProviderConfig      `yaml:",inline"`
	Dimensions          int    `yaml:"dimensions"`
	BatchSize           int    `yaml:"batch_size"`
	Concurrency         int    `yaml:"concurrency"`
	MaxInputChars       int    `yaml:"max_input_chars"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// GenerationConfig holds text generation settings.
type GenerationConfig struct {
	ProviderConfig  `yaml:",inline"`
	Mode            string   `yaml:"mode"`          // chat, completion
	PromptFormat    string   `yaml:"prompt_format"` // plain, granite
	MaxInputTokens  int      `yaml:"max_input_tokens"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	Temperature     *float64 `yaml:"temperature"` // 0 = greedy decoding
	TopP            float64  `yaml:"top_p"`
	Concurrency     int      `yaml:"concurrency"`
}

// RetryConfig holds provider retry settings.
type RetryConfig struct {
	MaxRetries     int `yaml:"max_retries"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
}

// SegmenterConfig holds chunking settings.
type SegmenterConfig struct {
	Tokenizer     string `yaml:"tokenizer"` // words, or a tiktoken encoding such as cl100k_base
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
}

// ClassifierConfig holds chunk and requirement categorization settings.
type ClassifierConfig struct {
	Threshold             *float64 `yaml:"threshold"`
	Categories            []string `yaml:"categories"`
	RequirementCategories []string `yaml:"requirement_categories"`
}

// RetrievalConfig holds similarity search settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// EvaluationConfig holds scoring penalty settings.
type EvaluationConfig struct {
	PenaltyPerGap float64        `yaml:"penalty_per_gap"`
	PenaltyCap    float64        `yaml:"penalty_cap"`
	RiskTiers     RiskTierConfig `yaml:"risk_tiers"`
}

// RiskTierConfig holds the deduction per normalized risk level.
type RiskTierConfig struct {
	None   float64 `yaml:"none"`
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// Cache drivers.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig holds the process-wide label embedding cache settings.
type CacheConfig struct {
	Driver           string   `yaml:"driver"` // none, memory, redis
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	TTLSec           int      `yaml:"ttl_sec"` // 0 = no expiry
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	CallTimeoutSec   int      `yaml:"call_timeout_sec"` // bound on a shared label embedding call
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path. A .env file next to the
// working directory is loaded first when present; real environment variables win.
func LoadFile(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// DefaultCategories label chunks by the aspects proposals are analyzed on.
func DefaultCategories() []string {
	return []string{"budget", "technical", "timeline", "team", "documentation", "compliance"}
}

// DefaultRequirementCategories group extracted requirements and evaluation metrics.
func DefaultRequirementCategories() []string {
	return []string{"technical", "financial", "legal", "operational", "experience"}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderOpenAI
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1024
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 1
	}
	if c.Embedding.MaxInputChars <= 0 {
		c.Embedding.MaxInputChars = 2048
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = c.Embedding.Provider
	}
	if c.Generation.Mode == "" {
		c.Generation.Mode = "chat"
	}
	if c.Generation.PromptFormat == "" {
		c.Generation.PromptFormat = "plain"
	}
	if c.Generation.MaxInputTokens <= 0 {
		c.Generation.MaxInputTokens = 2048
	}
	if c.Generation.MaxOutputTokens <= 0 {
		c.Generation.MaxOutputTokens = 512
	}
	if c.Generation.Temperature == nil {
		t := 0.3
		c.Generation.Temperature = &t
	}
	if c.Generation.TopP <= 0 {
		c.Generation.TopP = 0.9
	}
	if c.Generation.Concurrency <= 0 {
		c.Generation.Concurrency = 1
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 60
	}

	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialDelayMs <= 0 {
		c.Retry.InitialDelayMs = 1000
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 30000
	}

	if c.Segmenter.Tokenizer == "" {
		c.Segmenter.Tokenizer = "words"
	}
	if c.Segmenter.MaxTokens <= 0 {
		c.Segmenter.MaxTokens = 256
	}
	if c.Segmenter.OverlapTokens <= 0 {
		c.Segmenter.OverlapTokens = 32
	}

	if c.Classifier.Threshold == nil {
		t := 0.3
		c.Classifier.Threshold = &t
	}
	if len(c.Classifier.Categories) == 0 {
		c.Classifier.Categories = DefaultCategories()
	}
	if len(c.Classifier.RequirementCategories) == 0 {
		c.Classifier.RequirementCategories = DefaultRequirementCategories()
	}

	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}

	if c.Evaluation.PenaltyPerGap <= 0 {
		c.Evaluation.PenaltyPerGap = 5
	}
	if c.Evaluation.PenaltyCap <= 0 {
		c.Evaluation.PenaltyCap = 20
	}
	if c.Evaluation.RiskTiers == (RiskTierConfig{}) {
		c.Evaluation.RiskTiers = RiskTierConfig{None: 0, Low: 3, Medium: 7, High: 12}
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheMemory
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Cache.CallTimeoutSec <= 0 {
		c.Cache.CallTimeoutSec = 120
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if err := validateProvider("embedding", c.Embedding.ProviderConfig); err != nil {
		return err
	}
	if err := validateProvider("generation", c.Generation.ProviderConfig); err != nil {
		return err
	}
	switch c.Generation.Mode {
	case "chat", "completion":
	default:
		return fmt.Errorf("generation.mode must be \"chat\" or \"completion\", got %q", c.Generation.Mode)
	}
	switch c.Generation.PromptFormat {
	case "plain", "granite":
	default:
		return fmt.Errorf("generation.prompt_format must be \"plain\" or \"granite\", got %q", c.Generation.PromptFormat)
	}
	if c.Generation.MaxInputTokens <= c.Generation.MaxOutputTokens {
		return fmt.Errorf("generation.max_input_tokens (%d) must exceed max_output_tokens (%d)",
			c.Generation.MaxInputTokens, c.Generation.MaxOutputTokens)
	}
	if t := *c.Generation.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("generation.temperature must be in [0,2], got %v", t)
	}
	if c.Segmenter.OverlapTokens >= c.Segmenter.MaxTokens {
		return fmt.Errorf("segmenter.overlap_tokens (%d) must be less than max_tokens (%d)",
			c.Segmenter.OverlapTokens, c.Segmenter.MaxTokens)
	}
	if t := *c.Classifier.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("classifier.threshold must be in [0,1], got %v", t)
	}
	r := c.Evaluation.RiskTiers
	if r.None < 0 || !(r.None < r.Low && r.Low < r.Medium && r.Medium < r.High) {
		return fmt.Errorf("evaluation.risk_tiers must be non-negative and strictly increasing")
	}
	switch c.Cache.Driver {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.driver must be \"none\", \"memory\" or \"redis\", got %q", c.Cache.Driver)
	}
	return nil
}

func validateProvider(section string, p ProviderConfig) error {
	switch p.Provider {
	case ProviderOpenAI:
		if p.APIKey == "" {
			return fmt.Errorf("%s.api_key is required for the openai provider", section)
		}
	case ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("%s.provider must be \"openai\", \"ollama\" or \"mock\", got %q", section, p.Provider)
	}
	if p.Provider != ProviderMock && p.Model == "" {
		return fmt.Errorf("%s.model is required", section)
	}
	if p.RequestsPerSecond < 0 {
		return fmt.Errorf("%s.requests_per_second must not be negative", section)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
