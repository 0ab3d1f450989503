package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != "8080" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.Driver != "memory" || cfg.Ledger.Mode != "memory" {
		t.Fatalf("expected in-memory defaults, got %s/%s", cfg.Database.Driver, cfg.Ledger.Mode)
	}
	if cfg.Event.Workers != 8 || cfg.Redis.TTL != 24*time.Hour || cfg.Scheduler.Interval != 60 {
		t.Fatalf("unexpected defaults %+v %+v %+v", cfg.Event, cfg.Redis, cfg.Scheduler)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COLLAB_DATABASE_DRIVER", "postgres")
	t.Setenv("COLLAB_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("COLLAB_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("COLLAB_EVENT_WORKERS", "2")

	cfg := Load()
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("expected 3s shutdown timeout, got %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Auth.JwtSecret != "s3cret" || cfg.Event.Workers != 2 {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Auth, cfg.Event)
	}
}
