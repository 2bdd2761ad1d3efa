// Package cryptoprim implements the cryptographic primitives the rest
// of the codec builds on: block and stream ciphers, HMAC-SHA256,
// SHA-256/512, Argon2d/Argon2id, and AES-KDF. Apart from RandomBytes,
// which reads crypto/rand, these functions are deterministic, perform
// no I/O and keep no state between calls.
package cryptoprim

// Secret wraps a byte slice that carries key material or decrypted
// protected-field plaintext. Zero must be called as soon as the caller
// is done with the value; it overwrites the backing array so the
// secret does not linger in memory after the buffer is dropped.
type Secret struct {
	b []byte
}

// NewSecret takes ownership of b (the caller must not retain its own
// reference) and returns it wrapped as a Secret.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes returns the underlying buffer. The returned slice aliases the
// Secret's storage; it becomes invalid after Zero is called.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Zero overwrites the buffer with zeros. Safe to call multiple times
// and on a nil *Secret.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
}

// Clone returns a new Secret holding a copy of the same bytes.
func (s *Secret) Clone() *Secret {
	cp := make([]byte, len(s.b))
	copy(cp, s.b)
	return &Secret{b: cp}
}

// Zeroize overwrites buf with zeros in place. It's used for one-off
// intermediate buffers that aren't worth wrapping in a Secret.
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
