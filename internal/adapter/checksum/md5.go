// Package checksum computes content hashes of files on disk.
package checksum

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// MD5File streams the file at path and returns its lowercase hex MD5 digest.
func MD5File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Base64FromHex converts a hex digest to the base64 form used by the
// Content-MD5 header.
func Base64FromHex(digest string) (string, error) {
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return "", fmt.Errorf("invalid hex digest: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
