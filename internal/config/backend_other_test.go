//go:build !darwin

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestYAMLBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mathcoach", "config.yaml")

	b := openYAMLBackend(path)
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("proxy.synthesis_model", "openai/gpt-4o-mini"); err != nil {
		t.Fatal(err)
	}

	reopened := openYAMLBackend(path)
	port, ok, err := reopened.GetInt("server.port")
	if err != nil || !ok || port != 4200 {
		t.Errorf("server.port = %d, %v, %v", port, ok, err)
	}
	model, ok, _ := reopened.GetString("proxy.synthesis_model")
	if !ok || model != "openai/gpt-4o-mini" {
		t.Errorf("proxy.synthesis_model = %q, %v", model, ok)
	}

	if err := reopened.Delete("server.port"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := openYAMLBackend(path).GetInt("server.port"); ok {
		t.Error("deleted key still present")
	}
}

func TestYAMLBackend_HandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server.port: 4300\nretrieval.score_threshold: 0.45\nollama.guard_model: llama3.2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(openYAMLBackend(path), mockKeychain{values: map[string]string{"mathcoach/openrouter_api_key": "sk-test"}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Retrieval.ScoreThreshold != 0.45 {
		t.Errorf("threshold = %v", cfg.Retrieval.ScoreThreshold)
	}
}

func TestYAMLBackend_InvalidInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server.port: lots\n"), 0o600)

	_, _, err := openYAMLBackend(path).GetInt("server.port")
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Errorf("err = %v", err)
	}
}

func TestYAMLBackend_PaddedInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("retrieval.top_k: \" 5 \"\n"), 0o600)

	k, ok, err := openYAMLBackend(path).GetInt("retrieval.top_k")
	if err != nil || !ok || k != 5 {
		t.Errorf("top_k = %d, %v, %v", k, ok, err)
	}
}

func TestSecretsFile_Missing(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	_, err := keychainExec("mathcoach", "openrouter_api_key")
	if !errors.Is(err, errSecretNotFound) {
		t.Errorf("err = %v, want errSecretNotFound", err)
	}
}

func TestSecretsFile_Lookup(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	os.MkdirAll(filepath.Join(dir, "mathcoach"), 0o700)
	os.WriteFile(filepath.Join(dir, "mathcoach", "secrets.json"),
		[]byte(`{"mathcoach":{"openrouter_api_key":"sk-file"}}`), 0o600)

	out, err := keychainExec("mathcoach", "openrouter_api_key")
	if err != nil || string(out) != "sk-file" {
		t.Errorf("got %q, %v", out, err)
	}
	if _, err := keychainExec("mathcoach", "tavily_api_key"); !errors.Is(err, errSecretNotFound) {
		t.Errorf("err = %v, want errSecretNotFound", err)
	}
}
