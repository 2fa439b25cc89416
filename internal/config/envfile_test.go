package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# api\nFOO=bar\nEMPTY=\nQUOTED=\"hello # world\"\nexport SINGLE='x y'\nTRAILING=7 # seconds\nnot a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	for _, k := range []string{"FOO", "EMPTY", "QUOTED", "SINGLE", "TRAILING"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	n, err := LoadDotEnv(path)
	if err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if n != 5 {
		t.Fatalf("set %d variables, want 5", n)
	}

	want := map[string]string{
		"FOO":      "bar",
		"EMPTY":    "",
		"QUOTED":   "hello # world",
		"SINGLE":   "x y",
		"TRAILING": "7",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env.local")
	second := filepath.Join(dir, ".env")
	if err := os.WriteFile(first, []byte("BAR=from_local\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if err := os.WriteFile(second, []byte("FOO=from_file\nBAR=from_default\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("FOO", "from_env")
	t.Setenv("BAR", "")
	os.Unsetenv("BAR")
	if _, err := LoadDotEnv(first, filepath.Join(dir, "missing"), second); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("FOO"); got != "from_env" {
		t.Fatalf("FOO = %q, want %q", got, "from_env")
	}
	if got := os.Getenv("BAR"); got != "from_local" {
		t.Fatalf("BAR = %q, want %q", got, "from_local")
	}
}

func TestLoad_ReadsTypedValues(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "90s")
	t.Setenv("HISTORY_MAX_SIZE", "12")
	t.Setenv("STORE_MODE", "postgres")
	t.Setenv("EVENT_WEBHOOK_MAX_RETRIES", "not-a-number")

	cfg := Load()
	if cfg.AccessTokenTTL != 90*time.Second {
		t.Fatalf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.HistoryMaxSize != 12 {
		t.Fatalf("HistoryMaxSize = %d", cfg.HistoryMaxSize)
	}
	if cfg.StoreMode != "postgres" {
		t.Fatalf("StoreMode = %q", cfg.StoreMode)
	}
	if cfg.EventWebhookMaxRetries != 3 {
		t.Fatalf("invalid int should fall back, got %d", cfg.EventWebhookMaxRetries)
	}
}

func TestLoadClient_EmbeddedFlag(t *testing.T) {
	t.Setenv("GRIDOPS_EMBEDDED", "true")
	t.Setenv("GRIDOPS_API_URL", "https://ops.example.test")
	cfg := LoadClient()
	if !cfg.Embedded {
		t.Fatal("expected embedded mode")
	}
	if cfg.APIURL != "https://ops.example.test" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
}
