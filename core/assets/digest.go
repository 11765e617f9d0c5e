package assets

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

const digestChunk = 32 * 1024

// Digest returns the lowercase hex SHA-256 of a file.
func Digest(path string) (string, error) {
	// #nosec G304 -- path is a store-owned staging or temp file.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, digestChunk)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks a file against an expected hex digest. An empty expectation
// skips the check.
func Verify(path, expected string) error {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil
	}
	actual, err := Digest(path)
	if err != nil {
		return err
	}
	return compareDigest(expected, actual)
}

func compareDigest(expected, actual string) error {
	if !strings.EqualFold(strings.TrimSpace(expected), actual) {
		return &ChecksumMismatchError{Expected: strings.ToLower(strings.TrimSpace(expected)), Actual: actual}
	}
	return nil
}
