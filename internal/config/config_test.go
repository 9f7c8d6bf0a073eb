package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "DISPATCH_DEADLINE", "CITATION_TIMEOUT", "MAX_DETAIL_BYTES", "OTEL_ENABLED"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.Addr != DefaultAddr {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DispatchDeadline != 170*time.Second {
		t.Fatalf("expected 170s deadline, got %s", cfg.DispatchDeadline)
	}
	if cfg.Citation.Timeout <= cfg.SpellingGrammar.Timeout {
		t.Fatalf("expected citation budget above spelling/grammar, got %s vs %s", cfg.Citation.Timeout, cfg.SpellingGrammar.Timeout)
	}
	if cfg.MaxDetailBytes != DefaultMaxDetailBytes {
		t.Fatalf("expected default max detail bytes, got %d", cfg.MaxDetailBytes)
	}
	if cfg.OTelEnabled {
		t.Fatal("expected otel disabled by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CITATION_TIMEOUT", "45")
	t.Setenv("DISPATCH_DEADLINE", "2m")
	t.Setenv("MAX_DETAIL_BYTES", "bogus")
	t.Setenv("OTEL_ENABLED", "yes")
	cfg := FromEnv()
	if cfg.Citation.Timeout != 45*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.Citation.Timeout)
	}
	if cfg.DispatchDeadline != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", cfg.DispatchDeadline)
	}
	if cfg.MaxDetailBytes != DefaultMaxDetailBytes {
		t.Fatalf("expected fallback on invalid int, got %d", cfg.MaxDetailBytes)
	}
	if !cfg.OTelEnabled {
		t.Fatal("expected otel enabled")
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CITATION_URL=http://file.example/citations\nADDR=:9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADDR", ":7000")
	t.Setenv("CITATION_URL", "")
	os.Unsetenv("CITATION_URL")

	cfg := Load(path)
	if cfg.Addr != ":7000" {
		t.Fatalf("expected environment to win, got %q", cfg.Addr)
	}
	if cfg.Citation.URL != "http://file.example/citations" {
		t.Fatalf("expected .env value, got %q", cfg.Citation.URL)
	}
}
