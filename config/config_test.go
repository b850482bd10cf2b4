package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "GEOFENCE_POLICY", "LOCATION_REQUEST_TIMEOUT", "REDIS_ADDR"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "8099", cfg.Server.Port)
	assert.Equal(t, "first", cfg.Geofence.Policy)
	assert.Equal(t, 10*time.Second, cfg.Location.RequestTimeout)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "timeclock.events", cfg.RabbitMQ.Queue)
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("GEOFENCE_POLICY", "nearest")
	t.Setenv("LOCATION_REQUEST_TIMEOUT", "3s")
	t.Setenv("LOCATION_MAX_FIX_AGE", "45")
	t.Setenv("LOCATION_MAX_FIX_SKEW", "2m")
	t.Setenv("EVENT_QUEUE_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "nearest", cfg.Geofence.Policy)
	assert.Equal(t, 3*time.Second, cfg.Location.RequestTimeout)
	assert.Equal(t, 45*time.Second, cfg.Location.MaxFixAge)
	assert.Equal(t, 2*time.Minute, cfg.Location.MaxFixSkew)
	assert.Equal(t, 64, cfg.Events.QueueSize)
}
