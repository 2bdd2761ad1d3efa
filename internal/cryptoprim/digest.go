package cryptoprim

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SHA512 returns the SHA-512 digest of the concatenation of data.
func SHA512(data ...[]byte) [64]byte {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACSHA256 computes HMAC-SHA256(key, concat(data...)).
func HMACSHA256(key []byte, data ...[]byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}
