package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default max body, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default driver gochannel, got %q", cfg.Watermill.Driver)
	}
	if cfg.Consumer.Group != "git-integration" {
		t.Fatalf("expected default consumer group, got %q", cfg.Consumer.Group)
	}
	if cfg.Consumer.MaxAttempts != 5 {
		t.Fatalf("expected default retry budget 5, got %d", cfg.Consumer.MaxAttempts)
	}
	if cfg.Poster.CommandPrefix != "@opencr" {
		t.Fatalf("expected default command prefix, got %q", cfg.Poster.CommandPrefix)
	}
	if len(cfg.Consumer.Topics) != 3 {
		t.Fatalf("expected 3 default consumer topics, got %v", cfg.Consumer.Topics)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("OPENCR_TEST_DSN", "postgres://app:secret@db/opencr")
	path := writeConfig(t, "dedup:\n  driver: postgres\n  dsn: ${OPENCR_TEST_DSN}\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Dedup.DSN != "postgres://app:secret@db/opencr" {
		t.Fatalf("env not expanded, got %q", cfg.Dedup.DSN)
	}
}

func TestLoadConfigRejectsIncompleteRoute(t *testing.T) {
	path := writeConfig(t, "routes:\n  - when: 'kind == \"push\"'\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for route without emit")
	}
}
