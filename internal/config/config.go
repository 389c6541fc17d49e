package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Proxy     ProxyConfig
	Search    SearchConfig
	Retrieval RetrievalConfig
	Synthesis SynthesisConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// SessionIdleMinutes is how long a session may sit unused before the
	// sweeper drops it. Zero disables sweeping.
	SessionIdleMinutes int
}

type OllamaConfig struct {
	BaseURL    string
	GuardModel string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	SynthesisModel   string
	VisionModel      string
}

type SearchConfig struct {
	TavilyAPIKey string
	Timeout      string
}

type RetrievalConfig struct {
	TopK           int
	ScoreThreshold float64
}

type SynthesisConfig struct {
	MaxIterations int
	Timeout       string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:               4100,
			SessionIdleMinutes: 120,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			GuardModel: "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Proxy: ProxyConfig{
			SynthesisModel: "openai/gpt-4o",
			VisionModel:    "openai/gpt-4o",
		},
		Search: SearchConfig{
			Timeout: "30s",
		},
		Retrieval: RetrievalConfig{
			TopK:           4,
			ScoreThreshold: 0.3,
		},
		Synthesis: SynthesisConfig{
			MaxIterations: 8,
			Timeout:       "120s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SearchTimeout parses Search.Timeout, falling back to 30s.
func (c Config) SearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 30*time.Second)
}

// SynthesisTimeout parses Synthesis.Timeout, falling back to 120s.
func (c Config) SynthesisTimeout() time.Duration {
	return parseDuration(c.Synthesis.Timeout, 120*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.mathcoach.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/mathcoach/config.yaml
// and secrets fall back to $XDG_DATA_HOME/mathcoach/secrets.json.
//
// Environment variables (MATHCOACH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		v, err := kc.Get(secretService, s.account)
		if err != nil {
			if !errors.Is(err, errSecretNotFound) {
				warnf("could not read %s from secret store: %v", s.key, err)
			}
			continue
		}
		if v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Proxy.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable MATHCOACH_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

const secretService = "mathcoach"

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
