package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/reserve/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, time.Minute, cfg.DLQBaseDelay)
	require.True(t, cfg.Guard().CanExecute(domain.TargetJoin))
}

func TestLoadLayersFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpAddress: ":9000"
outboxPollInterval: 5s
kafkaBrokers: ["a:9092", "b:9092"]
bootstrap:
  adminIdentity: root
  minCapitalContribution: 100
  maxParticipants: 7
pausedOperations: ["participant.join"]
`), 0o600))

	t.Setenv("RESERVE_HTTP_ADDRESS", ":9100")
	t.Setenv("RESERVE_BOOTSTRAP_MAX_PARTICIPANTS", "12")
	t.Setenv("RESERVE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.HTTPAddress)
	require.Equal(t, 5*time.Second, cfg.OutboxPollInterval)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "root", cfg.Bootstrap.AdminIdentity)
	require.Equal(t, uint64(100), cfg.Bootstrap.MinCapitalContribution)
	require.Equal(t, 12, cfg.Bootstrap.MaxParticipants)
	require.Equal(t, "DEBUG", cfg.Level().String())

	guard := cfg.Guard()
	require.False(t, guard.CanExecute(domain.TargetJoin))
	require.True(t, guard.CanExecute(domain.TargetDeposit))
}

func TestLoadReadsConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metricsAddress: \":9999\"\n"), 0o600))
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.MetricsAddress)
}

func TestLoadSplitsEnvironmentLists(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("RESERVE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RESERVE_PAUSED_OPERATIONS", "activity.approve,activity.complete")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.False(t, cfg.Guard().CanExecute(domain.TargetComplete))
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty secret":      func(c *Config) { c.JWTSecret = " " },
		"zero batch":        func(c *Config) { c.OutboxBatchSize = 0 },
		"zero dlq batch":    func(c *Config) { c.DLQBatchSize = 0 },
		"zero poll":         func(c *Config) { c.OutboxPollInterval = 0 },
		"negative rate":     func(c *Config) { c.RateLimitRPS = -1 },
		"zero participants": func(c *Config) { c.Bootstrap = Bootstrap{AdminIdentity: "root"} },
		"bad level":         func(c *Config) { c.LogLevel = "loud" },
		"unknown paused op": func(c *Config) { c.PausedOperations = []string{"activity.create"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config file")
}
