// Package config loads engine configuration: learning thresholds, segment
// keys, the decision policy, and retention classes. Values come from YAML
// with BOLCD_* environment overrides applied on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bolcd/condense-engine/internal/errs"
)

// Config is the root engine configuration.
type Config struct {
	Framework  FrameworkConfig  `yaml:"framework"`
	Learning   LearningConfig   `yaml:"learning"`
	Segments   []SegmentKey     `yaml:"segments"`
	Policy     Policy           `yaml:"policy"`
	Storage    StorageConfig    `yaml:"storage"`
	Retention  RetentionConfig  `yaml:"retention"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
}

// FrameworkConfig contains general settings.
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LearningConfig drives the graph learning batch.
type LearningConfig struct {
	Thresholds  map[string]float64 `yaml:"thresholds"`
	MarginDelta float64            `yaml:"margin_delta"`
	Epsilon     float64            `yaml:"epsilon"`
	FDRQ        float64            `yaml:"fdr_q"`
}

// SegmentKey buckets events by an attribute. When Values is non-empty,
// values outside it fold into "_other".
type SegmentKey struct {
	Key    string   `yaml:"key"`
	Values []string `yaml:"values,omitempty"`
}

// Policy is the decision policy. Every decision record is stamped with
// Version.
type Policy struct {
	Alpha                    float64  `yaml:"alpha"`
	SupportMin               int      `yaml:"support_min"`
	LiftMin                  float64  `yaml:"lift_min"`
	NearWindowSec            int      `yaml:"near_window_sec"`
	RootPass                 bool     `yaml:"root_pass"`
	AllowlistRules           []string `yaml:"allowlist_rules"`
	Version                  string   `yaml:"version"`
	FalseSuppressionThresh   float64  `yaml:"false_suppression_threshold"`
	HighSeverityProtection   bool     `yaml:"high_severity_protection"`
	LateTTLSec               int      `yaml:"late_ttl_sec"`
	LateFalseThresh          float64  `yaml:"late_false_threshold"`
	DriftThreshold           float64  `yaml:"drift_threshold"`
	ValidatorSeverityWeight  float64  `yaml:"validator_severity_weight"`
	ValidatorCorrelationWeight float64 `yaml:"validator_correlation_weight"`
	ValidatorRarityWeight    float64  `yaml:"validator_rarity_weight"`
}

// NearWindow returns the near-window as a duration.
func (p Policy) NearWindow() time.Duration { return time.Duration(p.NearWindowSec) * time.Second }

// LateTTL returns the late-replay TTL as a duration.
func (p Policy) LateTTL() time.Duration { return time.Duration(p.LateTTLSec) * time.Second }

// Allowlisted reports whether a rule id is protected from suppression.
func (p Policy) Allowlisted(ruleID string) bool {
	for _, r := range p.AllowlistRules {
		if r == ruleID {
			return true
		}
	}
	return false
}

// StorageConfig selects the persistence backend. DatabaseURL empty means the
// directory-tree file store under DataDir.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	ReportsDir  string `yaml:"reports_dir"`
	DatabaseURL string `yaml:"database_url"`
}

// RetentionConfig maps data classes to retention periods in days. Classes on
// compliance hold are never deleted.
type RetentionConfig struct {
	Classes map[string]RetentionClass `yaml:"classes"`
}

// RetentionClass is one data class retention policy.
type RetentionClass struct {
	Days           int  `yaml:"days"`
	Archive        bool `yaml:"archive"`
	ComplianceHold bool `yaml:"compliance_hold"`
}

// ReconcilerConfig controls the late-replay sweep cadence and lease.
type ReconcilerConfig struct {
	IntervalSec       int `yaml:"interval_sec"`
	LeaseTimeoutSec   int `yaml:"lease_timeout_sec"`
	HeartbeatSec      int `yaml:"heartbeat_sec"`
}

// IngestConfig bounds the alert ingest queue.
type IngestConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns the engine defaults; Load layers file and environment on
// top of this.
func Default() *Config {
	return &Config{
		Framework: FrameworkConfig{LogLevel: "info", LogFormat: "json"},
		Learning: LearningConfig{
			Thresholds:  map[string]float64{},
			MarginDelta: 0.0,
			Epsilon:     0.005,
			FDRQ:        0.01,
		},
		Policy: Policy{
			Alpha:                      0.01,
			SupportMin:                 20,
			LiftMin:                    1.5,
			NearWindowSec:              3600,
			RootPass:                   true,
			Version:                    "safe-1.0.0",
			FalseSuppressionThresh:     0.3,
			HighSeverityProtection:     true,
			LateTTLSec:                 86400,
			LateFalseThresh:            0.6,
			DriftThreshold:             0.5,
			ValidatorSeverityWeight:    0.4,
			ValidatorCorrelationWeight: 0.3,
			ValidatorRarityWeight:      0.3,
		},
		Storage: StorageConfig{DataDir: "./data", ReportsDir: "./reports"},
		Retention: RetentionConfig{Classes: map[string]RetentionClass{
			"alerts":     {Days: 365},
			"audit":      {Days: 365, Archive: true},
			"metrics":    {Days: 90},
			"reports":    {Days: 365},
			"temporary":  {Days: 7},
			"compliance": {Days: 730, ComplianceHold: true},
		}},
		Reconciler: ReconcilerConfig{IntervalSec: 300, LeaseTimeoutSec: 10, HeartbeatSec: 3},
		Ingest:     IngestConfig{QueueCapacity: 1024, Workers: 4},
		Server:     ServerConfig{Addr: ":5340"},
	}
}

// Load reads the YAML file at path (skipped when missing), then applies
// BOLCD_* environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errs.Wrap(errs.KindResource, err, "read config %s", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the stable BOLCD_* environment variables onto the policy.
func (c *Config) applyEnv() {
	envFloat("BOLCD_POLICY_ALPHA", &c.Policy.Alpha)
	envInt("BOLCD_POLICY_SUPPORT_MIN", &c.Policy.SupportMin)
	envFloat("BOLCD_POLICY_LIFT_MIN", &c.Policy.LiftMin)
	envInt("BOLCD_NEAR_WINDOW_SEC", &c.Policy.NearWindowSec)
	envBool("BOLCD_ROOT_PASS", &c.Policy.RootPass)
	envString("BOLCD_POLICY_VERSION", &c.Policy.Version)
	envFloat("BOLCD_FALSE_SUPPRESSION_THRESHOLD", &c.Policy.FalseSuppressionThresh)
	envBool("BOLCD_HIGH_SEVERITY_PROTECTION", &c.Policy.HighSeverityProtection)
	envInt("BOLCD_LATE_TTL_SEC", &c.Policy.LateTTLSec)
	envFloat("BOLCD_LATE_FALSE_THRESHOLD", &c.Policy.LateFalseThresh)
	envFloat("BOLCD_DRIFT_THRESHOLD", &c.Policy.DriftThreshold)
	envString("BOLCD_DATABASE_URL", &c.Storage.DatabaseURL)

	if v := os.Getenv("BOLCD_ALLOWLIST_RULES"); v != "" {
		var rules []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				rules = append(rules, r)
			}
		}
		c.Policy.AllowlistRules = rules
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Learning.Epsilon <= 0 || c.Learning.Epsilon >= 1 {
		return errs.New(errs.KindValidation, "learning.epsilon must be in (0,1), got %v", c.Learning.Epsilon)
	}
	if c.Learning.FDRQ <= 0 || c.Learning.FDRQ >= 1 {
		return errs.New(errs.KindValidation, "learning.fdr_q must be in (0,1), got %v", c.Learning.FDRQ)
	}
	if c.Learning.MarginDelta < 0 {
		return errs.New(errs.KindValidation, "learning.margin_delta must be >= 0")
	}
	if c.Policy.SupportMin < 1 {
		return errs.New(errs.KindValidation, "policy.support_min must be >= 1")
	}
	if c.Policy.NearWindowSec <= 0 {
		return errs.New(errs.KindValidation, "policy.near_window_sec must be > 0")
	}
	if c.Policy.LateTTLSec <= 0 {
		return errs.New(errs.KindValidation, "policy.late_ttl_sec must be > 0")
	}
	if c.Ingest.QueueCapacity < 1 {
		return errs.New(errs.KindValidation, "ingest.queue_capacity must be >= 1")
	}
	for _, s := range c.Segments {
		if s.Key == "" {
			return errs.New(errs.KindValidation, "segments entries need a non-empty key")
		}
	}
	w := c.Policy.ValidatorSeverityWeight + c.Policy.ValidatorCorrelationWeight + c.Policy.ValidatorRarityWeight
	if w <= 0 {
		return errs.New(errs.KindValidation, "validator weights must sum to a positive value")
	}
	return nil
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindResource, err, "write config %s", path)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}
