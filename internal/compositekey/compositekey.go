// Package compositekey implements combining the present key
// components (password, keyfile, challenge-response) into the
// 32-byte composite key, and transforming that composite key into the
// KDBX3/KDBX4 master key via AES-KDF or Argon2d/Argon2id. Keys are
// returned as plain [32]byte arrays that callers clear with
// cryptoprim.Zeroize once done; the per-component hashes Composite
// builds internally are not zeroized.
package compositekey

import (
	"github.com/google/uuid"

	"keepassdb/apperr"
	"keepassdb/internal/cryptoprim"
	"keepassdb/internal/header"
	"keepassdb/internal/variantdict"
)

// Components holds the present key-source material, already reduced
// to raw bytes: the caller has already read the keyfile and, if a
// challenge-response provider was configured, already obtained its
// response. A nil field means that component is absent.
type Components struct {
	Password          []byte
	Keyfile           []byte
	ChallengeResponse []byte
}

// Composite hashes each present component to 32 bytes, concatenates
// the hashes in the fixed order [password, keyfile, challenge
// response] (omitting any that are absent), and returns the SHA-256 of
// that concatenation.
func Composite(c Components) [32]byte {
	var parts [][]byte
	if c.Password != nil {
		h := cryptoprim.SHA256(c.Password)
		parts = append(parts, h[:])
	}
	if c.Keyfile != nil {
		h := cryptoprim.SHA256(c.Keyfile)
		parts = append(parts, h[:])
	}
	if c.ChallengeResponse != nil {
		h := cryptoprim.SHA256(c.ChallengeResponse)
		parts = append(parts, h[:])
	}
	return cryptoprim.SHA256(parts...)
}

// TransformKDBX3 runs AES-KDF over composite using the header's
// TransformSeed/TransformRounds, the only KDF KDBX3 supports.
func TransformKDBX3(composite [32]byte, transformSeed []byte, rounds uint64) ([32]byte, error) {
	return cryptoprim.AESKDF(composite, transformSeed, rounds)
}

// TransformKDBX4 dispatches on the KdfParameters dictionary's $UUID
// selector to AES-KDF or Argon2d/Argon2id.
func TransformKDBX4(composite [32]byte, params *variantdict.Dict) ([32]byte, error) {
	if params == nil {
		return [32]byte{}, apperr.KeyDerivation("compositekey: missing kdf parameters", nil)
	}

	uuidVal, ok := params.Get("$UUID")
	if !ok {
		return [32]byte{}, apperr.KeyDerivation("compositekey: kdf parameters missing $UUID", nil)
	}
	rawUUID, err := uuidVal.Bytes()
	if err != nil || len(rawUUID) != 16 {
		return [32]byte{}, apperr.KeyDerivation("compositekey: malformed kdf $UUID", err)
	}
	kdfID, err := uuid.FromBytes(rawUUID)
	if err != nil {
		return [32]byte{}, apperr.KeyDerivation("compositekey: malformed kdf $UUID", err)
	}

	switch kdfID {
	case header.KDFAESKDBX3, header.KDFAESKDBX4:
		seed, rounds, err := aesParams(params)
		if err != nil {
			return [32]byte{}, err
		}
		return cryptoprim.AESKDF(composite, seed, rounds)
	case header.KDFArgon2d, header.KDFArgon2id:
		argonParams, err := argon2Params(params)
		if err != nil {
			return [32]byte{}, err
		}
		if kdfID == header.KDFArgon2d {
			return cryptoprim.Argon2d(composite[:], argonParams)
		}
		return cryptoprim.Argon2id(composite[:], argonParams)
	default:
		return [32]byte{}, apperr.KeyDerivation("compositekey: unsupported kdf uuid "+kdfID.String(), nil)
	}
}

func aesParams(params *variantdict.Dict) ([]byte, uint64, error) {
	seedVal, ok := params.Get("S")
	if !ok {
		return nil, 0, apperr.KeyDerivation("compositekey: aes-kdf missing S (seed)", nil)
	}
	seed, err := seedVal.Bytes()
	if err != nil {
		return nil, 0, apperr.KeyDerivation("compositekey: aes-kdf S is not a byte array", err)
	}

	roundsVal, ok := params.Get("R")
	if !ok {
		return nil, 0, apperr.KeyDerivation("compositekey: aes-kdf missing R (rounds)", nil)
	}
	rounds, err := roundsVal.Uint64()
	if err != nil {
		return nil, 0, apperr.KeyDerivation("compositekey: aes-kdf R is not a uint64", err)
	}

	return seed, rounds, nil
}

func argon2Params(params *variantdict.Dict) (cryptoprim.Argon2Params, error) {
	saltVal, ok := params.Get("S")
	if !ok {
		return cryptoprim.Argon2Params{}, apperr.KeyDerivation("compositekey: argon2 missing S (salt)", nil)
	}
	salt, err := saltVal.Bytes()
	if err != nil {
		return cryptoprim.Argon2Params{}, apperr.KeyDerivation("compositekey: argon2 S is not a byte array", err)
	}

	iterationsRaw, err := uint64Field(params, "I")
	if err != nil {
		return cryptoprim.Argon2Params{}, err
	}
	memoryKiBRaw, err := uint64Field(params, "M")
	if err != nil {
		return cryptoprim.Argon2Params{}, err
	}
	parallelism, err := uint32Field(params, "P")
	if err != nil {
		return cryptoprim.Argon2Params{}, err
	}
	version, err := uint32Field(params, "V")
	if err != nil {
		return cryptoprim.Argon2Params{}, err
	}

	p := cryptoprim.Argon2Params{
		Salt:        salt,
		Iterations:  uint32(iterationsRaw),
		MemoryKiB:   uint32(memoryKiBRaw / 1024),
		Parallelism: uint8(parallelism),
		Version:     int(version),
	}

	if secretVal, ok := params.Get("K"); ok {
		if secret, err := secretVal.Bytes(); err == nil {
			p.Secret = secret
		}
	}
	if assocVal, ok := params.Get("A"); ok {
		if assoc, err := assocVal.Bytes(); err == nil {
			p.AssocData = assoc
		}
	}

	return p, nil
}

func uint32Field(params *variantdict.Dict, key string) (uint32, error) {
	v, ok := params.Get(key)
	if !ok {
		return 0, apperr.KeyDerivation("compositekey: argon2 missing "+key, nil)
	}
	n, err := v.Uint32()
	if err != nil {
		return 0, apperr.KeyDerivation("compositekey: argon2 "+key+" is not a uint32", err)
	}
	return n, nil
}

func uint64Field(params *variantdict.Dict, key string) (uint64, error) {
	v, ok := params.Get(key)
	if !ok {
		return 0, apperr.KeyDerivation("compositekey: argon2 missing "+key, nil)
	}
	n, err := v.Uint64()
	if err != nil {
		return 0, apperr.KeyDerivation("compositekey: argon2 "+key+" is not a uint64", err)
	}
	return n, nil
}

// MasterKey computes SHA-256(masterSeed || transformedKey), the key
// that feeds the outer cipher.
func MasterKey(masterSeed []byte, transformedKey [32]byte) [32]byte {
	return cryptoprim.SHA256(masterSeed, transformedKey[:])
}
