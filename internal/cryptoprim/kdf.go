package cryptoprim

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// AESKDF transforms a 32-byte composite key with seed (the AES-256 key
// for the kernel, 32 bytes) iterated rounds times, in KDBX's bespoke
// single-block-ECB-iterated construction: composite is split into two
// 16-byte halves, each half is independently encrypted in place with
// AES-ECB under seed for rounds iterations, and the transformed key is
// SHA-256(upperHalf || lowerHalf).
func AESKDF(composite [32]byte, seed []byte, rounds uint64) ([32]byte, error) {
	if len(seed) != 32 {
		return [32]byte{}, fmt.Errorf("aes-kdf: seed must be 32 bytes, got %d", len(seed))
	}

	upper := make([]byte, 16)
	lower := make([]byte, 16)
	copy(upper, composite[:16])
	copy(lower, composite[16:])
	defer Zeroize(upper)
	defer Zeroize(lower)

	for i := uint64(0); i < rounds; i++ {
		if err := AESECBEncryptBlock(seed, upper); err != nil {
			return [32]byte{}, fmt.Errorf("aes-kdf: round %d upper half: %w", i, err)
		}
		if err := AESECBEncryptBlock(seed, lower); err != nil {
			return [32]byte{}, fmt.Errorf("aes-kdf: round %d lower half: %w", i, err)
		}
	}

	return SHA256(upper, lower), nil
}

// Argon2Params holds the KDF parameters KDBX4's variant dictionary
// carries under the Argon2d/Argon2id KDF UUIDs.
type Argon2Params struct {
	Salt        []byte
	Iterations  uint32
	MemoryKiB   uint32
	Parallelism uint8
	Version     int
	Secret      []byte
	AssocData   []byte
}

// Argon2d derives a 32-byte key using Argon2d.
func Argon2d(password []byte, p Argon2Params) ([32]byte, error) {
	return argon2Derive(password, p, false)
}

// Argon2id derives a 32-byte key using Argon2id.
func Argon2id(password []byte, p Argon2Params) ([32]byte, error) {
	return argon2Derive(password, p, true)
}

func argon2Derive(password []byte, p Argon2Params, useID bool) ([32]byte, error) {
	if len(p.Salt) == 0 {
		return [32]byte{}, fmt.Errorf("argon2: salt required")
	}
	if p.Iterations == 0 || p.MemoryKiB == 0 || p.Parallelism == 0 {
		return [32]byte{}, fmt.Errorf("argon2: iterations/memory/parallelism must be non-zero")
	}
	if len(p.Secret) > 0 || len(p.AssocData) > 0 {
		// golang.org/x/crypto/argon2 exposes only (password, salt, time,
		// memory, threads, keyLen); it has no hook for the secret (K) or
		// associated-data (A) variant-dictionary fields KeePass's format
		// allows. Files that populate them can't be opened by this
		// build.
		return [32]byte{}, fmt.Errorf("argon2: K (secret) / A (assocData) parameters are not supported")
	}

	var key []byte
	if useID {
		key = argon2.IDKey(password, p.Salt, p.Iterations, p.MemoryKiB, p.Parallelism, 32)
	} else {
		key = argon2.Key(password, p.Salt, p.Iterations, p.MemoryKiB, p.Parallelism, 32)
	}

	var out [32]byte
	copy(out[:], key)
	Zeroize(key)
	return out, nil
}
