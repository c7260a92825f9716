package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfigDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns <= 0 || got.MaxIdleConns <= 0 {
		t.Fatalf("expected positive pool sizes, got %+v", got)
	}
	if got.ConnMaxLifetime <= 0 || got.ConnMaxIdleTime <= 0 || got.PingTimeout <= 0 {
		t.Fatalf("expected positive durations, got %+v", got)
	}
}

func TestPostgresPoolConfigKeepsExplicitValues(t *testing.T) {
	in := PostgresPoolConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
		PingTimeout:     time.Second,
	}
	got := in.withDefaults()
	if got != in {
		t.Fatalf("explicit values must not be overridden: %+v", got)
	}
}
