package postgres

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnvReadsLockTimeout(t *testing.T) {
	t.Setenv("DATABASE_LOCK_TIMEOUT", "750ms")
	t.Setenv("DATABASE_MIGRATE_ON_START", "false")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.LockTimeout != 750*time.Millisecond {
		t.Fatalf("LockTimeout=%s, want 750ms", cfg.LockTimeout)
	}
	if cfg.MigrateOnStart {
		t.Fatalf("expected MigrateOnStart=false")
	}
}

func TestConfigValidateRejectsIdleAboveOpen(t *testing.T) {
	cfg := Config{URL: "postgres://x", PingTimeout: time.Second, MaxOpenConns: 1, MaxIdleConns: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}
