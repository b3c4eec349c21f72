// SPDX-License-Identifier: MIT

// Package auth implements the panel's proof-of-proximity registration flow
// and the on-disk access token store.
package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
)

// TokenStore persists the panel access token on disk. Writes are atomic and
// durable: fsync before rename prevents a half-written token on power failure.
type TokenStore struct {
	path string
}

// NewTokenStore creates a store backed by the given file path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the backing file path.
func (s *TokenStore) Path() string { return s.path }

// Load reads the stored token. A missing file is not an error; ok is false.
func (s *TokenStore) Load() (token string, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read token file: %w", err)
	}
	token = strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Save writes the token with 0600 permissions.
func (s *TokenStore) Save(token string) error {
	pendingFile, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending token file: %w", err)
	}
	defer pendingFile.Cleanup() //nolint:errcheck

	if _, err := pendingFile.Write([]byte(token + "\n")); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace token file: %w", err)
	}
	return nil
}
