package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, ":8420", cfg.Server.ListenAddress)
	require.Equal(t, 14*24*time.Hour, cfg.Circle.VotingPeriod.Std())
	require.True(t, cfg.Circle.AllowEndEarly)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
logging:
  level: warn
server:
  listenAddress: ":9000"
circle:
  name: my-circle
  creator: alice
  requiredEscrow: "1000000"
  votingPeriod: 24h
  nonVotingMembers:
    - bob
    - carol
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("CIRCLED_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	// Environment wins over the file.
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, ":9000", cfg.Server.ListenAddress)
	require.Equal(t, "my-circle", cfg.Circle.Name)
	require.Equal(t, "1000000", cfg.Circle.RequiredEscrow)
	require.Equal(t, 24*time.Hour, cfg.Circle.VotingPeriod.Std())
	require.Equal(t, []string{"bob", "carol"}, cfg.Circle.NonVotingMembers)
	// Untouched values keep their defaults.
	require.Equal(t, 51, int(cfg.Circle.QuorumPercent))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
