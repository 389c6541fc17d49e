//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
)

// errSecItemNotFound is the exit status of `security` when no item matches.
const errSecItemNotFound = 44

func keychainExec(service, account string) ([]byte, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	return out, keychainError(service, account, err)
}

func keychainError(service, account string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound {
		return fmt.Errorf("%w: %s/%s (add it with `security add-generic-password -s %s -a %s -w`)",
			errSecretNotFound, service, account, service, account)
	}
	return fmt.Errorf("reading keychain item %s/%s: %w", service, account, err)
}
