// Package integrity computes the content digests used for tamper-evident
// evidence references.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Algorithm is the digest algorithm name used in resource links.
const Algorithm = "sha-256"

// chunkSize bounds memory use while hashing large files.
const chunkSize = 1 << 20

// Digest returns the hex-encoded SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestReader hashes r in fixed-size chunks.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile hashes the file at path. A missing file is returned as an
// error satisfying errors.Is(err, fs.ErrNotExist).
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := DigestReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}
