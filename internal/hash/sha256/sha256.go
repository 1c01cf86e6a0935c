// Package sha256 computes the digests listed in archive manifests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// Writer hashes everything written to it.
type Writer struct {
	h hash.Hash
}

// NewWriter returns an empty SHA-256 Writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Write never fails.
func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Hex returns the hex digest of the bytes written so far.
func (w *Writer) Hex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Manifest accumulates entries in sha256sum(1) format.
type Manifest struct {
	b strings.Builder
	n int
}

// Add records name with its digest.
func (m *Manifest) Add(digest, name string) {
	m.b.WriteString(digest)
	m.b.WriteString("  ")
	m.b.WriteString(name)
	m.b.WriteByte('\n')
	m.n++
}

// Len is the number of entries.
func (m *Manifest) Len() int {
	return m.n
}

func (m *Manifest) String() string {
	return m.b.String()
}
