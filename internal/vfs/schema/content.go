package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FingerprintLen is the length of a rendered fingerprint.
const FingerprintLen = sha256.Size * 2

// Compression codecs recorded on content objects.
const (
	CompressionNone = ""
	CompressionZstd = "zstd"
)

// ContentObject is a deduplicated payload addressed by its fingerprint.
// Reference counting belongs to the store that persists it.
type ContentObject struct {
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	LineCount   int       `json:"line_count"`
	RefCount    int       `json:"ref_count"`
	Compression string    `json:"compression,omitempty"`
	StoredSize  int64     `json:"stored_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fingerprint returns the hex SHA-256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsFingerprint reports whether s looks like a rendered fingerprint.
func IsFingerprint(s string) bool {
	if len(s) != FingerprintLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// CountLines counts newline-terminated lines plus a trailing partial line.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// NewContentObject describes data without compression.
func NewContentObject(data []byte) *ContentObject {
	return &ContentObject{
		Hash:       Fingerprint(data),
		Size:       int64(len(data)),
		LineCount:  CountLines(data),
		StoredSize: int64(len(data)),
		CreatedAt:  time.Now().UTC(),
	}
}
