// Package sha256 provides streaming SHA-256 digests for downloaded documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/JakeFAU/docmirror/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

var _ crawler.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewDigest returns a digest that can be fed while a download streams to disk.
func (h *Hasher) NewDigest() crawler.Digest {
	return &digest{h: sha256.New()}
}

// HashReader consumes r and returns its hex digest and length.
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	d := h.NewDigest()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return d.Sum(), n, nil
}

type digest struct {
	h hash.Hash
}

func (d *digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

func (d *digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
