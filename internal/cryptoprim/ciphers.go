package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20"
	"golang.org/x/crypto/twofish"
)

// AESECBEncryptBlock encrypts a single 16-byte block in place under
// key using raw AES-ECB, i.e. one call to the block cipher with no
// chaining. This is the kernel AES-KDF iterates; it is never used to
// encrypt more than one block at a time, so no ECB "mode" package is
// needed or wanted.
func AESECBEncryptBlock(key []byte, block []byte) error {
	bc, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("aes.NewCipher: %w", err)
	}
	if len(block) != bc.BlockSize() {
		return fmt.Errorf("block size %d, want %d", len(block), bc.BlockSize())
	}
	bc.Encrypt(block, block)
	return nil
}

// PKCS7Pad appends PKCS#7 padding to data so its length is a multiple
// of blockSize. blockSize must be in (0, 256].
func PKCS7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// PKCS7Unpad strips and validates PKCS#7 padding. It rejects a padding
// length of 0, greater than blockSize, or not uniformly the pad byte,
// since those indicate a corrupt or wrong-key plaintext rather than a
// legitimately short message.
func PKCS7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("pkcs7: data length %d not a multiple of block size %d", len(data), blockSize)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("pkcs7: invalid padding length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("pkcs7: invalid padding byte")
		}
	}
	return data[:len(data)-padLen], nil
}

// AESCBCEncrypt encrypts plaintext (already padded to a multiple of
// the AES block size) with AES-256-CBC under key and iv.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	bc, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	if len(plaintext)%bc.BlockSize() != 0 {
		return nil, fmt.Errorf("aes-cbc: plaintext length %d not block aligned", len(plaintext))
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(bc, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// AESCBCDecrypt decrypts ciphertext (still PKCS#7 padded) with
// AES-256-CBC under key and iv. Callers must call PKCS7Unpad on the
// result.
func AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	bc, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	if len(ciphertext)%bc.BlockSize() != 0 {
		return nil, fmt.Errorf("aes-cbc: ciphertext length %d not block aligned", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(bc, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// TwofishCBCEncrypt encrypts padded plaintext with Twofish-CBC.
func TwofishCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	bc, err := twofish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("twofish.NewCipher: %w", err)
	}
	if len(plaintext)%bc.BlockSize() != 0 {
		return nil, fmt.Errorf("twofish-cbc: plaintext length %d not block aligned", len(plaintext))
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(bc, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// TwofishCBCDecrypt decrypts ciphertext with Twofish-CBC.
func TwofishCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	bc, err := twofish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("twofish.NewCipher: %w", err)
	}
	if len(ciphertext)%bc.BlockSize() != 0 {
		return nil, fmt.Errorf("twofish-cbc: ciphertext length %d not block aligned", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(bc, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// ChaCha20XOR returns plaintext/ciphertext XORed with the ChaCha20
// keystream for key and a 12-byte nonce, starting at counter 0.
func ChaCha20XOR(key, nonce, src []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("chacha20.NewUnauthenticatedCipher: %w", err)
	}
	dst := make([]byte, len(src))
	c.XORKeyStream(dst, src)
	return dst, nil
}

// Salsa20XOR returns src XORed with the Salsa20 keystream for a
// 32-byte key and 8-byte nonce, starting at counter 0. Used only for
// the KDBX3 inner-stream cipher, whose nonce is the fixed constant
// defined in the innerstream package.
func Salsa20XOR(key [32]byte, nonce [8]byte, src []byte) []byte {
	dst := make([]byte, len(src))
	salsa20.XORKeyStream(dst, src, nonce[:], &key)
	return dst
}

// RandomBytes returns n cryptographically random bytes, used to
// generate fresh MasterSeed/EncryptionIV/TransformSeed values on save.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto/rand: %w", err)
	}
	return buf, nil
}
