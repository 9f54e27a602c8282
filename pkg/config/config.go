package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// HistoryBackend selects where session history is read from.
type HistoryBackend string

const (
	HistoryMemory HistoryBackend = "memory" // In-process store (single node)
	HistoryRedis  HistoryBackend = "redis"  // Shared Redis-backed store
)

// AuditBackend selects where verdicts are persisted for analytics.
type AuditBackend string

const (
	AuditNone     AuditBackend = "none"     // Discard (default for local runs)
	AuditPostgres AuditBackend = "postgres" // Postgres audit trail
)

// AdjusterWeights are the relative weights of the four confidence-adjustment
// factors. They should sum to 1.0; Validate enforces this loosely.
type AdjusterWeights struct {
	Context          float64
	Baseline         float64
	PatternHistory   float64
	ModuleConfidence float64
}

// EscalationThresholds are the score band boundaries, lowest first.
// A score below Low maps to escalation None.
type EscalationThresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// Config holds global settings for the Vigil analysis engine.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Orchestration ===
	Workers     int           // Process-wide phase-1 worker pool size (default: 8)
	TaskTimeout time.Duration // Per-task deadline (default: 10s)

	// === Result Cache ===
	CacheTTL      time.Duration // Verdict cache TTL (default: 5 minutes)
	CacheCapacity int           // Max cached verdicts before oldest-insertion eviction (default: 1024)

	// === Risk Aggregation ===
	Escalation        EscalationThresholds
	IndicatorCategory float64  // Max additive contribution per indicator category (default: 0.15)
	IndicatorTotal    float64  // Max total additive indicator contribution (default: 0.30)
	CriticalFlags     []string // Flags that force escalation to at least High

	// === Confidence Adjustment (false-positive reduction) ===
	Weights          AdjusterWeights
	PatternIncrement float64 // Benign-pattern confidence gain per recurrence (default: 0.05)
	FilterThreshold  float64 // Adjusted confidence below this marks the verdict filtered (default: 0.3)
	ReviewThreshold  float64 // Below this, verdict needs human review, escalation capped at Medium (default: 0.6)
	SmoothingAlpha   float64 // Exponential smoothing factor for baselines (default: 0.3)
	FilterRulesPath  string  // Optional YAML file of context filter rules

	// === Collaborators ===
	History      HistoryBackend
	RedisAddr    string // Redis address for the history store (default: localhost:6379)
	Audit        AuditBackend
	PostgresDSN  string // Connection string for the audit store
	PersistSlots int    // Fire-and-forget persistence concurrency cap (default: 64)
}

// NewDefaultConfig creates a Config with the documented defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		Workers:     clampInt(GetEnvInt("VIGIL_WORKERS", 8), 1, 256),
		TaskTimeout: time.Duration(GetEnvInt("VIGIL_TASK_TIMEOUT_MS", 10000)) * time.Millisecond,

		CacheTTL:      time.Duration(GetEnvInt("VIGIL_CACHE_TTL_SECONDS", 300)) * time.Second,
		CacheCapacity: clampInt(GetEnvInt("VIGIL_CACHE_CAPACITY", 1024), 1, 1<<20),

		Escalation: EscalationThresholds{
			Low:      GetEnvFloat("VIGIL_THRESHOLD_LOW", 0.20),
			Medium:   GetEnvFloat("VIGIL_THRESHOLD_MEDIUM", 0.40),
			High:     GetEnvFloat("VIGIL_THRESHOLD_HIGH", 0.60),
			Critical: GetEnvFloat("VIGIL_THRESHOLD_CRITICAL", 0.80),
		},
		IndicatorCategory: GetEnvFloat("VIGIL_INDICATOR_CATEGORY_CAP", 0.15),
		IndicatorTotal:    GetEnvFloat("VIGIL_INDICATOR_TOTAL_CAP", 0.30),
		CriticalFlags: GetEnvSlice("VIGIL_CRITICAL_FLAGS",
			[]string{"safety_bypass", "system_compromise", "credential_leak"}),

		Weights: AdjusterWeights{
			Context:          GetEnvFloat("VIGIL_WEIGHT_CONTEXT", 0.30),
			Baseline:         GetEnvFloat("VIGIL_WEIGHT_BASELINE", 0.25),
			PatternHistory:   GetEnvFloat("VIGIL_WEIGHT_PATTERN", 0.25),
			ModuleConfidence: GetEnvFloat("VIGIL_WEIGHT_MODULE", 0.20),
		},
		PatternIncrement: GetEnvFloat("VIGIL_PATTERN_INCREMENT", 0.05),
		FilterThreshold:  GetEnvFloat("VIGIL_FILTER_THRESHOLD", 0.30),
		ReviewThreshold:  GetEnvFloat("VIGIL_REVIEW_THRESHOLD", 0.60),
		SmoothingAlpha:   GetEnvFloat("VIGIL_SMOOTHING_ALPHA", 0.30),
		FilterRulesPath:  GetEnv("VIGIL_FILTER_RULES", ""),

		History:      HistoryBackend(GetEnv("VIGIL_HISTORY_BACKEND", string(HistoryMemory))),
		RedisAddr:    GetEnv("VIGIL_REDIS_ADDR", "localhost:6379"),
		Audit:        AuditBackend(GetEnv("VIGIL_AUDIT_BACKEND", string(AuditNone))),
		PostgresDSN:  GetEnv("VIGIL_POSTGRES_DSN", ""),
		PersistSlots: clampInt(GetEnvInt("VIGIL_PERSIST_SLOTS", 64), 1, 4096),
	}
}

// NewStrictConfig creates a Config tuned for maximum sensitivity
// (lower escalation thresholds, weaker false-positive dampening).
func NewStrictConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Escalation = EscalationThresholds{Low: 0.10, Medium: 0.30, High: 0.50, Critical: 0.70}
	cfg.FilterThreshold = 0.15
	cfg.PatternIncrement = 0.02
	return cfg
}

// NewLenientConfig creates a Config that minimizes false positives at the
// cost of sensitivity.
func NewLenientConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Escalation = EscalationThresholds{Low: 0.30, Medium: 0.50, High: 0.70, Critical: 0.90}
	cfg.FilterThreshold = 0.40
	cfg.PatternIncrement = 0.10
	return cfg
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.Workers < 1 {
		problems = append(problems, "VIGIL_WORKERS must be >= 1")
	}
	if c.TaskTimeout <= 0 {
		problems = append(problems, "VIGIL_TASK_TIMEOUT_MS must be positive")
	}
	if c.CacheCapacity < 1 {
		problems = append(problems, "VIGIL_CACHE_CAPACITY must be >= 1")
	}
	t := c.Escalation
	if !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		problems = append(problems, "escalation thresholds must be strictly ascending")
	}
	w := c.Weights
	sum := w.Context + w.Baseline + w.PatternHistory + w.ModuleConfidence
	if sum < 0.99 || sum > 1.01 {
		problems = append(problems, fmt.Sprintf("adjuster weights sum to %.2f, want 1.0", sum))
	}
	if c.History == HistoryRedis && c.RedisAddr == "" {
		problems = append(problems, "VIGIL_REDIS_ADDR required for redis history backend")
	}
	if c.Audit == AuditPostgres && c.PostgresDSN == "" {
		problems = append(problems, "VIGIL_POSTGRES_DSN required for postgres audit backend")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before serving requests.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
