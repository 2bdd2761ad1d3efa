// Package innerstream implements the Salsa20/ChaCha20 keystream that
// masks protected entry-field values inside the decrypted XML. The
// keystream must be consumed in strict document order of appearance:
// the Keystream returned by New is stateful and advances by exactly
// len(src) bytes on every XOR call, so the reader and the writer only
// agree if both visit protected fields in the same traversal order.
package innerstream

import (
	"fmt"

	"golang.org/x/crypto/chacha20"

	"keepassdb/apperr"
	"keepassdb/internal/cryptoprim"
)

// CipherID identifies which keystream generator protects the inner XML,
// as carried by the KDBX3 outer header field 10 / KDBX4 inner header id 1.
type CipherID uint32

const (
	CipherNone    CipherID = 0
	CipherSalsa20 CipherID = 2
	CipherChaCha20 CipherID = 3
)

func (id CipherID) String() string {
	switch id {
	case CipherNone:
		return "None"
	case CipherSalsa20:
		return "Salsa20"
	case CipherChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("CipherID(%d)", uint32(id))
	}
}

// salsaNonce is the fixed 8-byte Salsa20 nonce KDBX3 always uses for
// the inner stream: E8 30 09 4B 97 20 5D 2A.
var salsaNonce = [8]byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

// Keystream produces a running XOR mask. Each call to XOR consumes
// exactly len(src) further bytes of keystream.
type Keystream interface {
	XOR(src []byte) []byte
}

// New builds the keystream generator selected by id, seeded from the
// raw inner-stream key bytes stored in the header.
func New(id CipherID, innerKey []byte) (Keystream, error) {
	switch id {
	case CipherSalsa20:
		// KeePass always hashes the stored key to exactly 32 bytes
		// before feeding it to Salsa20, regardless of the stored key's
		// own length.
		key := cryptoprim.SHA256(innerKey)
		return newSalsaKeystream(key, salsaNonce), nil
	case CipherChaCha20:
		digest := cryptoprim.SHA512(innerKey)
		key := append([]byte{}, digest[:32]...)
		nonce := append([]byte{}, digest[32:44]...)
		c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
		if err != nil {
			return nil, apperr.KeyDerivation("innerstream: chacha20 setup failed", err)
		}
		return &chachaKeystream{cipher: c}, nil
	case CipherNone:
		return noneKeystream{}, nil
	default:
		return nil, apperr.NotSupported(fmt.Sprintf("innerstream: unknown inner cipher id %d", id), nil)
	}
}

type noneKeystream struct{}

func (noneKeystream) XOR(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

type chachaKeystream struct {
	cipher *chacha20.Cipher
}

func (k *chachaKeystream) XOR(src []byte) []byte {
	dst := make([]byte, len(src))
	k.cipher.XORKeyStream(dst, src)
	return dst
}

// salsaKeystream regenerates the Salsa20 keystream from block 0 each
// time it needs to grow past its buffered tail, since
// golang.org/x/crypto/salsa20's XORKeyStream always starts at
// counter 0 for a single call and exposes no way to resume a partial
// block. Each regeneration allocates and computes the whole keystream
// consumed so far plus the new request, so its cost grows with the
// total protected data read, not only with the current value.
type salsaKeystream struct {
	key      [32]byte
	nonce    [8]byte
	produced int    // total bytes consumed so far
	window   []byte // keystream bytes from `produced` onward, buffered ahead
}

func newSalsaKeystream(key [32]byte, nonce [8]byte) *salsaKeystream {
	return &salsaKeystream{key: key, nonce: nonce}
}

func (k *salsaKeystream) XOR(src []byte) []byte {
	k.ensure(len(src))

	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b ^ k.window[i]
	}

	k.window = k.window[len(src):]
	k.produced += len(src)
	return out
}

func (k *salsaKeystream) ensure(n int) {
	if len(k.window) >= n {
		return
	}
	total := k.produced + n
	zeros := make([]byte, total)
	full := cryptoprim.Salsa20XOR(k.key, k.nonce, zeros)
	k.window = full[k.produced:]
}
