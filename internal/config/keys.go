package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account names the secret store entry for secret keys.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MATHCOACH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.session_idle_minutes", typ: kInt, env: "MATHCOACH_SERVER_SESSION_IDLE_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Server.SessionIdleMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.SessionIdleMinutes },
	},
	{
		key: "ollama.base_url", typ: kString, env: "MATHCOACH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.guard_model", typ: kString, env: "MATHCOACH_OLLAMA_GUARD_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.GuardModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.GuardModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "MATHCOACH_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MATHCOACH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "MATHCOACH_OPENROUTER_API_KEY",
		secret: true, account: "openrouter_api_key",
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.synthesis_model", typ: kString, env: "MATHCOACH_PROXY_SYNTHESIS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.SynthesisModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.SynthesisModel },
	},
	{
		key: "proxy.vision_model", typ: kString, env: "MATHCOACH_PROXY_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.VisionModel },
	},
	{
		key: "search.tavily_api_key", typ: kString, env: "MATHCOACH_TAVILY_API_KEY",
		secret: true, account: "tavily_api_key",
		apply:   func(cfg *Config, v any) { cfg.Search.TavilyAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.TavilyAPIKey },
	},
	{
		key: "search.timeout", typ: kString, env: "MATHCOACH_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "MATHCOACH_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.score_threshold", typ: kFloat, env: "MATHCOACH_RETRIEVAL_SCORE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ScoreThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.ScoreThreshold },
	},
	{
		key: "synthesis.max_iterations", typ: kInt, env: "MATHCOACH_SYNTHESIS_MAX_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.MaxIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.Synthesis.MaxIterations },
	},
	{
		key: "synthesis.timeout", typ: kString, env: "MATHCOACH_SYNTHESIS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Synthesis.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "MATHCOACH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				warnf("could not parse float from config key %s=%q: %v. Using default value.", s.key, v, err)
				continue
			}
			s.apply(cfg, f)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				warnf("could not parse integer from env var %s=%q: %v. Using default value.", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				warnf("could not parse float from env var %s=%q: %v. Using default value.", s.env, raw, err)
			}
		}
	}
}

// warnf writes to stderr directly: config loads before the logger exists.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}
