package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/market")
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://:secret@cache:6380/2")

	cfg := Config{Addr: defaultAddr}
	require.NoError(t, cfg.applyPlatformDefaults())

	assert.Equal(t, "postgres://u:p@db:5432/market", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform")
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")

	cfg := Config{
		Addr:        "127.0.0.1:7000",
		DatabaseURL: "postgres://explicit",
		Redis:       RedisConfig{Addr: "explicit:6379"},
	}
	require.NoError(t, cfg.applyPlatformDefaults())

	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "explicit:6379", cfg.Redis.Addr)
}

func TestApplyPlatformDefaults_BadRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "http://not-redis")

	cfg := Config{Addr: defaultAddr}
	require.Error(t, cfg.applyPlatformDefaults())
}

func TestKafkaBrokers(t *testing.T) {
	assert.Nil(t, KafkaConfig{Brokers: []string{""}}.brokers())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, KafkaConfig{Brokers: []string{"k1:9092", "", "k2:9092"}}.brokers())
}
