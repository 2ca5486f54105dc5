// pkg/utils/hash.go - utility functions for hashing payload files.

package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// FileSHA256 returns the SHA256 sum of a file as a lowercase hex string.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFileHash compares a file's SHA256 sum against the expected hex
// string, case-insensitively.
func VerifyFileHash(path, expected string) error {
	actual, err := FileSHA256(path)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", path, expected, actual)
	}
	return nil
}
