package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_Client(t *testing.T) {
	t.Parallel()

	cfg := Config{Client: &ClientConfig{DataDir: "/tmp/x"}}
	ApplyDefaults(&cfg)

	if cfg.Core == nil || cfg.Core.Address != DefaultCoreAddress {
		t.Fatalf("core defaults not set: %+v", cfg.Core)
	}
	if cfg.Client.ServiceType != "wireguard" || cfg.Client.NATCompatibility != "auto" {
		t.Fatalf("client defaults not set: %+v", cfg.Client)
	}
	if cfg.Client.Listen != DefaultListen {
		t.Fatalf("listen=%q", cfg.Client.Listen)
	}
	if got := cfg.Core.ConnectTimeout(); got != 45*time.Second {
		t.Fatalf("connect_timeout=%v", got)
	}
	if got := cfg.Core.PollInterval(); got != time.Second {
		t.Fatalf("poll_interval=%v", got)
	}
	if cfg.Core.HealthCheckFailures != 3 || cfg.Core.HealthCheckInterval() != 10*time.Second {
		t.Fatalf("health defaults not set: %+v", cfg.Core)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
}

func TestValidate_RequiresCoreAddress(t *testing.T) {
	t.Parallel()

	if err := Validate(Config{}); err == nil {
		t.Fatalf("expected error")
	}

	cfg := Config{Core: &CoreConfig{}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for empty address")
	}

	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "client.yaml")
	cfg := Config{Client: &ClientConfig{DataDir: tmp, STUNServers: []string{"stun.l.google.com:19302"}}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Client == nil || len(loaded.Client.STUNServers) != 1 {
		t.Fatalf("client=%+v", loaded.Client)
	}
	if loaded.Client.StorePath() != filepath.Join(tmp, DefaultStoreFile) {
		t.Fatalf("store path=%q", loaded.Client.StorePath())
	}
}
