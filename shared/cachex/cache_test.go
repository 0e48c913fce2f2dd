package cachex

import (
	"context"
	"testing"
	"time"

	"shrc-fleet-telemetry/shared/config"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(config.Config{}); err == nil {
		t.Fatalf("expected error for missing REDIS_ADDR")
	}
}

func TestSetJSONRejectsUnmarshalableValue(t *testing.T) {
	c, err := New(config.Config{RedisAddr: "localhost:6379"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	// Channels cannot be marshaled; the error must surface before any
	// redis round trip.
	if err := c.SetJSON(context.Background(), "k", make(chan int), time.Second); err == nil {
		t.Fatalf("expected marshal error")
	}
}
