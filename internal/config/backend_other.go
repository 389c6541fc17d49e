//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "mathcoach")
}

func apiKeyHint() string {
	return " or " + secretsFilePath() + " (service: mathcoach, account: openrouter_api_key)"
}

// xdgDir resolves an XDG base directory, falling back to ~/<rel...> and
// finally to the working directory.
func xdgDir(env string, rel ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, rel...)...)
}

// yamlBackend keeps config as a flat YAML mapping of dotted keys, e.g.
//
//	server.port: 4100
//	proxy.synthesis_model: openai/gpt-4o
type yamlBackend struct {
	path string
	data map[string]string
}

func newPlatformBackend() ConfigBackend {
	return openYAMLBackend(configFilePath())
}

func openYAMLBackend(path string) *yamlBackend {
	b := &yamlBackend{path: path, data: make(map[string]string)}
	b.load()
	return b
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "mathcoach", "config.yaml")
}

func (b *yamlBackend) load() {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			warnf("could not read config file %s: %v. Using default values.", b.path, err)
		}
		return
	}
	// Scalars of any YAML type decode into strings; typed parsing happens per key.
	if err := yaml.Unmarshal(raw, &b.data); err != nil {
		warnf("could not parse config file %s: %v. Using default values.", b.path, err)
		b.data = make(map[string]string)
	}
	if b.data == nil {
		b.data = make(map[string]string)
	}
}

func (b *yamlBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := yaml.Marshal(b.data)
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, raw, 0o600)
}

func (b *yamlBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *yamlBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := parseStoredInt(key, v)
	return i, true, err
}

func (b *yamlBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.save()
}

func (b *yamlBackend) SetInt(key string, val int) error {
	b.data[key] = strconv.Itoa(val)
	return b.save()
}

func (b *yamlBackend) Delete(key string) error {
	delete(b.data, key)
	return b.save()
}
