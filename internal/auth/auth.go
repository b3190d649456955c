// Package auth checks the passwords that protect the HTTP endpoints of the agent.
//
// Passwords are never stored. Each configured password is an empty file named after
// the hex sha256 of the password in <state-dir>/hashed-passwords.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const MinPasswordLength = 36

const passwordDir = "hashed-passwords"

func hashPassword(password string) string {
	hash := sha256.Sum256([]byte(password))
	return hex.EncodeToString(hash[:])
}

// CheckPassword reports whether password is one of the configured passwords.
func CheckPassword(stateDir, password string) bool {
	if len(password) < MinPasswordLength {
		slog.Debug("Password too short")
		return false
	}

	passwordFilePath := filepath.Join(stateDir, passwordDir, hashPassword(password))
	if _, err := os.Stat(passwordFilePath); err != nil {
		slog.Debug("password file not found. Authenticate failed", "path", passwordFilePath)
		return false
	}
	return true
}

// HasPasswords reports whether at least one password is configured.
func HasPasswords(stateDir string) (bool, error) {
	entries, err := os.ReadDir(filepath.Join(stateDir, passwordDir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read hashed-passwords directory: %w", err)
	}
	return len(entries) > 0, nil
}

// AddPassword adds a password to the hashed-passwords directory
func AddPassword(stateDir, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}

	hashedPasswordsDir := filepath.Join(stateDir, passwordDir)
	if err := os.MkdirAll(hashedPasswordsDir, 0o700); err != nil {
		return fmt.Errorf("failed to create hashed-passwords directory: %w", err)
	}

	passwordFilePath := filepath.Join(hashedPasswordsDir, hashPassword(password))
	if err := os.WriteFile(passwordFilePath, []byte{}, 0o600); err != nil {
		return fmt.Errorf("failed to write password file: %w", err)
	}

	return nil
}
