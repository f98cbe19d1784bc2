// Package sha256 provides streaming SHA-256 digests for stored media.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/JakeFAU/sipeto/internal/media"
)

// Hasher implements media.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// NewDigest starts a fresh running digest.
func (h *Hasher) NewDigest() media.Digest {
	return &Digest{h: sha256.New()}
}

// Digest accumulates written bytes.
type Digest struct {
	h hash.Hash
}

// Write adds p to the digest. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Hex returns the hex digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
