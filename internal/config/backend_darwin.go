//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.mathcoach.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "mathcoach")
	}
	return "mathcoach-data"
}

func apiKeyHint() string {
	return " or macOS Keychain (service: mathcoach, account: openrouter_api_key)"
}

// darwinBackend keeps settings in the user defaults database. Dotted keys are
// stored verbatim, so `defaults read com.mathcoach.app` lists them as set.
type darwinBackend struct {
	domain string
	run    func(args ...string) ([]byte, error)
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain, run: runDefaults}
}

func runDefaults(args ...string) ([]byte, error) {
	return exec.Command("defaults", args...).CombinedOutput()
}

// missing reports whether err is `defaults` exiting 1, which it does when the
// domain or key does not exist.
func missing(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (b *darwinBackend) read(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	s := strings.TrimSpace(string(out))
	if err != nil {
		if missing(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s from %s: %w: %s", key, b.domain, err, s)
	}
	return s, true, nil
}

func (b *darwinBackend) write(key string, args ...string) error {
	out, err := b.run(append([]string{"write", b.domain, key}, args...)...)
	if err != nil {
		return fmt.Errorf("writing %s to %s: %w: %s", key, b.domain, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := parseStoredInt(key, s)
	return i, true, err
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *darwinBackend) Delete(key string) error {
	out, err := b.run("delete", b.domain, key)
	if err != nil && !missing(err) {
		return fmt.Errorf("deleting %s from %s: %w: %s", key, b.domain, err, strings.TrimSpace(string(out)))
	}
	return nil
}
