// Package hasher wraps a byte stream with a running SHA-256 so the digest
// and byte count of a body are known the moment the last byte has passed
// through, without buffering the stream.
package hasher

import (
	// Register the SHA-256 implementation go-digest resolves through the
	// crypto registry.
	_ "crypto/sha256"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// Reader hashes everything read through it. The digest is only meaningful
// once the underlying reader has returned io.EOF.
type Reader struct {
	inner    io.Reader
	digester digest.Digester
	size     int64
}

// NewReader returns a Reader hashing r with SHA-256.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		inner:    r,
		digester: digest.SHA256.Digester(),
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		// Hash.Write never fails.
		r.digester.Hash().Write(p[:n])
		r.size += int64(n)
	}
	return n, err
}

// Digest returns the digest of all bytes read so far, rendered as
// `sha256:<hex>`.
func (r *Reader) Digest() digest.Digest {
	return r.digester.Digest()
}

// Size returns the number of bytes read so far.
func (r *Reader) Size() int64 {
	return r.size
}

// Verify checks the accumulated digest against an expected hex digest.
// Call it only after the stream has been fully consumed.
func (r *Reader) Verify(expectedHex string) error {
	if got := r.Digest().Encoded(); got != expectedHex {
		return fmt.Errorf("digest mismatch after %d bytes: got %s, want %s", r.size, got, expectedHex)
	}
	return nil
}

// FromBytes is a convenience for hashing a full in-memory buffer, used for
// the small JSON documents that are built rather than streamed.
func FromBytes(data []byte) digest.Digest {
	return digest.FromBytes(data)
}
