// Package hash computes TrackingHash values: deterministic, namespaced
// 128-bit fingerprints of file content used throughout ploke for change
// detection and write preconditions.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/google/uuid"
)

// Tracking is a 128-bit content fingerprint, UUIDv5-shaped: version and
// variant bits are fixed per RFC 4122 section 4.3 over a SHA-1 digest of
// namespace‖content. Two files with identical bytes under the same
// namespace always produce the same Tracking value.
type Tracking uuid.UUID

// Zero is the empty/unset Tracking value.
var Zero Tracking

// String renders the canonical UUID text form.
func (t Tracking) String() string {
	return uuid.UUID(t).String()
}

// Bytes returns the raw 16 bytes.
func (t Tracking) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, t[:])
	return b
}

// IsZero reports whether t is the unset value.
func (t Tracking) IsZero() bool {
	return t == Zero
}

// Parse decodes the canonical UUID text form produced by String.
func Parse(s string) (Tracking, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, fmt.Errorf("hash: parse tracking hash %q: %w", s, err)
	}
	return Tracking(u), nil
}

// Namespace roots the UUIDv5 derivation. Two distinct namespaces never
// collide even over identical bytes; ploke uses one namespace per
// workspace root so hashes computed in different workspaces over
// coincidentally identical files remain distinguishable if ever compared.
type Namespace uuid.UUID

// DefaultNamespace is used when the caller has no workspace-specific
// namespace to scope against.
var DefaultNamespace = Namespace(uuid.MustParse("6f1b3a2e-6e0f-4b7f-9b0b-9a0f8f6a2b10"))

// NamespaceFor derives a stable namespace for a workspace root path, so
// that two workspaces never share a namespace even if mounted at the
// same logical path on different machines is not attempted — the root
// string itself is the discriminator.
func NamespaceFor(workspaceRoot string) Namespace {
	return Namespace(uuid.NewSHA1(uuid.UUID(DefaultNamespace), []byte(workspaceRoot)))
}

// Of computes the Tracking hash of data under namespace ns.
func Of(ns Namespace, data []byte) Tracking {
	return Tracking(uuid.NewSHA1(uuid.UUID(ns), data))
}

// Streamer incrementally hashes content too large (or too inconvenient)
// to buffer whole, then finalizes into a Tracking value shaped exactly
// like Of would have produced for the same bytes.
type Streamer struct {
	ns Namespace
	h  hash.Hash
}

// NewStreamer starts a streaming computation under namespace ns. The
// namespace bytes are hashed immediately so that Sum() agrees with
// Of(ns, content) for whatever content bytes are subsequently written.
func NewStreamer(ns Namespace) *Streamer {
	s := &Streamer{ns: ns, h: sha1.New()}
	s.h.Write(uuid.UUID(ns).Bytes())
	return s
}

// Write implements io.Writer.
func (s *Streamer) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// ReadFrom streams r's bytes into the hash, matching io.ReaderFrom.
func (s *Streamer) ReadFrom(r io.Reader) (int64, error) {
	return io.Copy(s.h, r)
}

// Sum finalizes the computation and returns the Tracking value.
func (s *Streamer) Sum() Tracking {
	digest := s.h.Sum(nil)
	var out Tracking
	copy(out[:], digest[:16])
	out[6] = (out[6] & 0x0f) | 0x50 // version 5
	out[8] = (out[8] & 0x3f) | 0x80 // RFC 4122 variant
	return out
}

// SumFile computes the Tracking hash of a file's content from a reader,
// seeding the namespace the same way uuid.NewSHA1 does (namespace bytes
// hashed first, then content) so results equal Of(ns, content) exactly.
func SumFile(ns Namespace, r io.Reader) (Tracking, error) {
	h := sha1.New()
	h.Write(uuid.UUID(ns).Bytes())
	if _, err := io.Copy(h, r); err != nil {
		return Zero, fmt.Errorf("hash: stream file: %w", err)
	}
	digest := h.Sum(nil)
	var out Tracking
	copy(out[:], digest[:16])
	out[6] = (out[6] & 0x0f) | 0x50
	out[8] = (out[8] & 0x3f) | 0x80
	return out, nil
}

// Hex returns a lowercase hex form, useful for log lines. Parse accepts
// this form as well as the UUID literal from String, so either can be
// sent as a splice-mode expected_file_hash.
func (t Tracking) Hex() string {
	return hex.EncodeToString(t.Bytes())
}
