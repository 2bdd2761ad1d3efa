package database

import (
	"bytes"
	"io"

	"keepassdb/apperr"
	"keepassdb/internal/compositekey"
)

// ChallengeResponseProvider is the key-source contract a hardware
// token implements: given the 32-byte KDF seed, it returns the
// 20-byte HMAC-SHA1 response a Yubikey (or compatible device) would
// produce for that challenge.
type ChallengeResponseProvider interface {
	Challenge(seed [32]byte) ([20]byte, error)
}

// DatabaseKey is the builder combining whichever key-source components
// the caller supplies. Call order does not matter; only the presence
// of each component feeds the composite-key derivation.
type DatabaseKey struct {
	password   []byte
	keyfile    []byte
	crProvider ChallengeResponseProvider
}

// NewDatabaseKey returns an empty builder.
func NewDatabaseKey() *DatabaseKey {
	return &DatabaseKey{}
}

// WithPassword sets the password component.
func (k *DatabaseKey) WithPassword(password string) *DatabaseKey {
	k.password = []byte(password)
	return k
}

// WithKeyfile reads r in full and parses it as a KeePass keyfile
// (XML-with-hash, 64-char hex, raw 32-byte binary, or hashed file
// content, tried in that order).
func (k *DatabaseKey) WithKeyfile(r io.Reader) (*DatabaseKey, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return k, apperr.IO("database: reading keyfile", err)
	}
	parsed, err := compositekey.ParseKeyfile(content)
	if err != nil {
		return k, err
	}
	k.keyfile = parsed
	return k, nil
}

// WithChallengeResponse sets the hardware-token provider.
func (k *DatabaseKey) WithChallengeResponse(p ChallengeResponseProvider) *DatabaseKey {
	k.crProvider = p
	return k
}

// components resolves the builder into compositekey.Components,
// invoking the challenge-response provider (if any) against seed, the
// KDF's own seed/salt material. Real Yubikey challenge-response slots
// are provisioned against a file's KDF seed for exactly this reason:
// the response is reproducible only by a party holding both the
// physical token and this file.
func (k *DatabaseKey) components(seed [32]byte) (compositekey.Components, error) {
	// The password is copied so that a caller zeroizing the returned
	// components leaves the builder reusable for later calls.
	comps := compositekey.Components{Password: bytes.Clone(k.password), Keyfile: k.keyfile}
	if k.crProvider != nil {
		resp, err := k.crProvider.Challenge(seed)
		if err != nil {
			return comps, apperr.KeyDerivation("database: challenge-response provider failed", err)
		}
		comps.ChallengeResponse = resp[:]
	}
	return comps, nil
}
