package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

const fingerprintChunkSize = 4096

// Fingerprint returns the hex encoded SHA-256 digest of a file's bytes. The
// file is read in fixed size chunks so memory use does not grow with the file.
func Fingerprint(fs afero.Fs, path string) (string, error) {
	file, openErr := fs.Open(path)
	if openErr != nil {
		return "", openErr
	}
	defer file.Close()

	hash := sha256.New()
	chunk := make([]byte, fingerprintChunkSize)
	for {
		n, readErr := file.Read(chunk)
		if n > 0 {
			hash.Write(chunk[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("reading %s: %w", path, readErr)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
