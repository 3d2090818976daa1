package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch.internal"),
		WithPort(8123),
		WithDatabase("lighthouse"),
		WithCredentials("etl", "pw"),
		WithHTTP(true),
		WithTimeouts(2*time.Second, time.Minute),
	} {
		opt(cfg)
	}

	o := cfg.options()
	assert.Equal(t, []string{"ch.internal:8123"}, o.Addr)
	assert.Equal(t, clickhouse.HTTP, o.Protocol)
	assert.Equal(t, "lighthouse", o.Auth.Database)
	assert.Equal(t, "etl", o.Auth.Username)
	assert.Equal(t, 2*time.Second, o.DialTimeout)
	assert.Equal(t, time.Minute, o.ReadTimeout)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.Error(t, err)
}
