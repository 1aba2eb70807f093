package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/internal/errs"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 0.01, cfg.Policy.Alpha)
	require.Equal(t, 20, cfg.Policy.SupportMin)
	require.Equal(t, 1.5, cfg.Policy.LiftMin)
	require.Equal(t, 3600, cfg.Policy.NearWindowSec)
	require.True(t, cfg.Policy.RootPass)
	require.True(t, cfg.Policy.HighSeverityProtection)
	require.Equal(t, 86400, cfg.Policy.LateTTLSec)
	require.Equal(t, "safe-1.0.0", cfg.Policy.Version)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bolcd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy:
  alpha: 0.05
  support_min: 10
  version: test-2.0.0
learning:
  epsilon: 0.01
  fdr_q: 0.02
segments:
  - key: env
    values: [prod, staging]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.05, cfg.Policy.Alpha)
	require.Equal(t, 10, cfg.Policy.SupportMin)
	require.Equal(t, "test-2.0.0", cfg.Policy.Version)
	require.Equal(t, 0.01, cfg.Learning.Epsilon)
	require.Len(t, cfg.Segments, 1)
	require.Equal(t, "env", cfg.Segments[0].Key)
	require.Equal(t, []string{"prod", "staging"}, cfg.Segments[0].Values)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOLCD_POLICY_ALPHA", "0.02")
	t.Setenv("BOLCD_POLICY_SUPPORT_MIN", "30")
	t.Setenv("BOLCD_NEAR_WINDOW_SEC", "1800")
	t.Setenv("BOLCD_ROOT_PASS", "false")
	t.Setenv("BOLCD_ALLOWLIST_RULES", "R1, R7 ,")
	t.Setenv("BOLCD_POLICY_VERSION", "env-3.0.0")
	t.Setenv("BOLCD_HIGH_SEVERITY_PROTECTION", "true")
	t.Setenv("BOLCD_LATE_TTL_SEC", "43200")
	t.Setenv("BOLCD_LATE_FALSE_THRESHOLD", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 0.02, cfg.Policy.Alpha)
	require.Equal(t, 30, cfg.Policy.SupportMin)
	require.Equal(t, 1800, cfg.Policy.NearWindowSec)
	require.False(t, cfg.Policy.RootPass)
	require.Equal(t, []string{"R1", "R7"}, cfg.Policy.AllowlistRules)
	require.Equal(t, "env-3.0.0", cfg.Policy.Version)
	require.Equal(t, 43200, cfg.Policy.LateTTLSec)
	require.Equal(t, 0.5, cfg.Policy.LateFalseThresh)
	require.True(t, cfg.Policy.Allowlisted("R7"))
	require.False(t, cfg.Policy.Allowlisted("R2"))
}

func TestValidationRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Learning.Epsilon = 0 },
		func(c *Config) { c.Learning.Epsilon = 1.5 },
		func(c *Config) { c.Learning.FDRQ = 0 },
		func(c *Config) { c.Learning.MarginDelta = -0.1 },
		func(c *Config) { c.Policy.SupportMin = 0 },
		func(c *Config) { c.Policy.NearWindowSec = 0 },
		func(c *Config) { c.Ingest.QueueCapacity = 0 },
		func(c *Config) { c.Segments = []SegmentKey{{Key: ""}} },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		err := cfg.Validate()
		require.Error(t, err, "case %d must fail validation", i)
		require.ErrorIs(t, err, errs.ErrValidation)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy: ["), 0o644))
	_, err := Load(path)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 0.01, cfg.Policy.Alpha)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Policy.Version = "round-trip"
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "round-trip", back.Policy.Version)
}
