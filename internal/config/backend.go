package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ConfigBackend stores mathcoach settings under the dotted keys declared in
// keys.go, such as "server.port" or "proxy.synthesis_model". Secrets never
// pass through a backend; they come from MATHCOACH_* variables or the
// platform secret store.
//
// On macOS values live in the com.mathcoach.app defaults domain. Elsewhere
// they live in a flat YAML file under $XDG_CONFIG_HOME/mathcoach.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key. Removing a key that was never set is not an error.
	Delete(key string) error
}

// errSecretNotFound reports that the secret store has no entry for the
// requested service and account.
var errSecretNotFound = errors.New("secret not found")

// parseStoredInt parses an integer a backend holds as text. Hand-edited
// values often carry stray whitespace.
func parseStoredInt(key, raw string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q (reset it with `mathcoach config set %s <n>`)", key, raw, key)
	}
	return i, nil
}
