package cache

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsession/internal/config"
)

func TestClientOptionsCarryName(t *testing.T) {
	opts := clientOptions(config.RedisConfig{Addr: "cache:6379", Password: "pw", DB: 2}, "authsession-api")

	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "authsession-api", opts.ClientName)
}

func TestPingReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	err := Ping(client)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
