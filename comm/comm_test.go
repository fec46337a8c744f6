package comm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, name := range []string{EnvRank, EnvWorldSize, EnvLocalRank, EnvLocalSize, EnvMasterAddr, EnvMasterPort} {
		t.Setenv(name, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Rank)
	require.Equal(t, 1, cfg.WorldSize)
	require.Equal(t, 0, cfg.LocalRank)
	require.Equal(t, 1, cfg.LocalSize)
}

func TestFromEnvLauncher(t *testing.T) {
	t.Setenv(EnvRank, "5")
	t.Setenv(EnvWorldSize, "8")
	t.Setenv(EnvLocalRank, "1")
	t.Setenv(EnvLocalSize, "4")
	t.Setenv(EnvMasterAddr, "10.0.0.1")
	t.Setenv(EnvMasterPort, "29500")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, Config{
		Rank:       5,
		WorldSize:  8,
		LocalRank:  1,
		LocalSize:  4,
		MasterAddr: "10.0.0.1",
		MasterPort: 29500,
	}, cfg)
}

func TestFromEnvMalformed(t *testing.T) {
	t.Setenv(EnvRank, "two")
	_, err := FromEnv()
	require.ErrorIs(t, err, ErrInvalidWorldInfo)
}

func TestInitValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero world size", Config{Rank: 0, WorldSize: 0}},
		{"rank out of range", Config{Rank: 4, WorldSize: 4, LocalSize: 4}},
		{"negative rank", Config{Rank: -1, WorldSize: 4, LocalSize: 4}},
		{"local size exceeds world", Config{Rank: 0, WorldSize: 2, LocalSize: 4}},
		{"local rank out of range", Config{Rank: 0, WorldSize: 4, LocalRank: 2, LocalSize: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer reset()
			require.ErrorIs(t, Init(tt.cfg), ErrInvalidWorldInfo)
			require.False(t, Initialized())
		})
	}
}

func TestLifecycle(t *testing.T) {
	defer reset()

	require.False(t, Initialized())
	_, err := Current()
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, Init(Config{Rank: 1, WorldSize: 4, LocalRank: 1, LocalSize: 2}))
	require.True(t, Initialized())

	g, err := Current()
	require.NoError(t, err)
	require.Equal(t, 1, g.Rank())
	require.Equal(t, 4, g.WorldSize())
	require.Equal(t, 1, g.LocalRank())
	require.Equal(t, 2, g.LocalSize())
}

func TestInitExactlyOnce(t *testing.T) {
	defer reset()

	cfg := Config{Rank: 0, WorldSize: 1, LocalRank: 0, LocalSize: 1}
	require.NoError(t, Init(cfg))

	// A second Init is refused even with identical config.
	require.ErrorIs(t, Init(cfg), ErrAlreadyInitialized)

	// The group from the first Init survives.
	g, err := Current()
	require.NoError(t, err)
	require.Equal(t, 0, g.Rank())
}
