package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.StepTimeout)
	assert.Equal(t, 3, cfg.ReserveMaxAttempts)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STEP_TIMEOUT_MS", "250")
	t.Setenv("CACHE_DISABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("SEED_PRODUCTS", "p1:50.00:5,p2:1.5:10")
	t.Setenv("SEED_BUYERS", "u1:ada@example.com,u2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.StepTimeout)
	assert.True(t, cfg.CacheDisabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Len(t, cfg.SeedProducts, 2)
	assert.Equal(t, "50", cfg.SeedProducts[0].Price.String())
	assert.Equal(t, 10, cfg.SeedProducts[1].Stock)
	assert.Equal(t, []BuyerSeed{{ID: "u1", Email: "ada@example.com"}, {ID: "u2"}}, cfg.SeedBuyers)
}

func TestLoadRejectsBadSeedsAndSettings(t *testing.T) {
	t.Run("seed shape", func(t *testing.T) {
		t.Setenv("SEED_PRODUCTS", "p1:50.00")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("seed price", func(t *testing.T) {
		t.Setenv("SEED_PRODUCTS", "p1:lots:5")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("non-positive attempts", func(t *testing.T) {
		t.Setenv("RESERVE_MAX_ATTEMPTS", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "RESERVE_MAX_ATTEMPTS")
	})
}
