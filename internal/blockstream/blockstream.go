// Package blockstream implements the two block-framing schemes KeePass
// wraps around the decrypted database payload: KDBX3's
// index/sha256/length/data hashed blocks, and KDBX4's hmac/length/data
// authenticated blocks. Both are split at 1MiB on write and terminated
// by a zero-length block.
package blockstream

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"keepassdb/apperr"
)

// MaxBlockSize is the write-side split point; readers accept any
// length up to the stream's own limits.
const MaxBlockSize = 1048576

// HMACKeyer derives the per-block HMAC key for the KDBX4 block stream
// from the header's MasterSeed and the transformed composite key.
type HMACKeyer struct {
	baseKey []byte
}

// NewHMACKeyer computes the base key SHA-512(masterSeed || transformedKey || 0x01),
// from which each block's key is derived as SHA-512(LE64(index) || baseKey).
func NewHMACKeyer(masterSeed, transformedKey []byte) *HMACKeyer {
	h := sha512.New()
	h.Write(masterSeed)
	h.Write(transformedKey)
	h.Write([]byte{0x01})
	return &HMACKeyer{baseKey: h.Sum(nil)}
}

func (k *HMACKeyer) blockHMAC(index uint64, length uint32, data []byte) []byte {
	keyBuilder := sha512.New()
	_ = binary.Write(keyBuilder, binary.LittleEndian, index)
	keyBuilder.Write(k.baseKey)
	blockKey := keyBuilder.Sum(nil)

	mac := hmac.New(sha256.New, blockKey)
	_ = binary.Write(mac, binary.LittleEndian, index)
	_ = binary.Write(mac, binary.LittleEndian, length)
	mac.Write(data)
	return mac.Sum(nil)
}

// WholeStreamHMACKey returns the key used to compute the single
// HMAC-SHA256 that authenticates the outer header itself: the block
// key for index 2^64-1, SHA-512(LE64(0xFFFFFFFFFFFFFFFF) || baseKey),
// derived the same way as the per-block keys above.
func (k *HMACKeyer) WholeStreamHMACKey() []byte {
	keyBuilder := sha512.New()
	_ = binary.Write(keyBuilder, binary.LittleEndian, ^uint64(0))
	keyBuilder.Write(k.baseKey)
	return keyBuilder.Sum(nil)
}

// DecodeHMAC reads the KDBX4 HMAC block stream from r, verifying every
// block's HMAC before appending its data, and returns the concatenated
// plaintext payload. A mismatched HMAC is reported as
// apperr.KindAuthentication, since it is cryptographically
// indistinguishable from a wrong composite key.
func DecodeHMAC(r io.Reader, masterSeed, transformedKey []byte) ([]byte, error) {
	keyer := NewHMACKeyer(masterSeed, transformedKey)

	var out []byte
	index := uint64(0)
	for {
		var blockHMAC [32]byte
		if _, err := io.ReadFull(r, blockHMAC[:]); err != nil {
			return nil, apperr.Corruption("block stream: truncated block hmac", err)
		}

		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, apperr.Corruption("block stream: truncated block length", err)
		}

		data, err := io.ReadAll(io.LimitReader(r, int64(length)))
		if err == nil && uint32(len(data)) != length {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, apperr.Corruption("block stream: truncated block data", err)
		}

		calculated := keyer.blockHMAC(index, length, data)
		if subtle.ConstantTimeCompare(calculated, blockHMAC[:]) == 0 {
			return nil, apperr.Authentication(fmt.Sprintf("block stream: hmac mismatch at block %d", index), nil)
		}

		if length == 0 {
			break
		}
		out = append(out, data...)
		index++
	}
	return out, nil
}

// EncodeHMAC writes content as a KDBX4 HMAC block stream, splitting at
// MaxBlockSize and terminating with a zero-length block whose HMAC
// still covers the empty data.
func EncodeHMAC(w io.Writer, content []byte, masterSeed, transformedKey []byte) error {
	keyer := NewHMACKeyer(masterSeed, transformedKey)

	offset := 0
	index := uint64(0)
	for {
		end := offset + MaxBlockSize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[offset:end]
		length := uint32(len(chunk))

		blockHMAC := keyer.blockHMAC(index, length, chunk)
		if _, err := w.Write(blockHMAC); err != nil {
			return apperr.IO("block stream: write hmac", err)
		}
		if err := binary.Write(w, binary.LittleEndian, length); err != nil {
			return apperr.IO("block stream: write length", err)
		}
		if _, err := w.Write(chunk); err != nil {
			return apperr.IO("block stream: write data", err)
		}

		offset = end
		if length == 0 {
			break
		}
		index++
	}
	return nil
}

// DecodeHashed reads the KDBX3.1 index/sha256/length/data block stream
// from r and returns the concatenated plaintext payload. A block whose
// SHA-256 doesn't match its declared hash is apperr.KindCorruption: the
// KDBX3 scheme authenticates integrity via StreamStartBytes, not via
// these per-block hashes, so this is a weaker check than DecodeHMAC's.
func DecodeHashed(r io.Reader) ([]byte, error) {
	var out []byte
	wantIndex := uint32(0)
	for {
		var index uint32
		if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
			return nil, apperr.Corruption("block stream: truncated block index", err)
		}
		if index != wantIndex {
			return nil, apperr.Corruption(fmt.Sprintf("block stream: expected index %d, got %d", wantIndex, index), nil)
		}

		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, apperr.Corruption("block stream: truncated block hash", err)
		}

		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, apperr.Corruption("block stream: truncated block length", err)
		}

		if length == 0 {
			if hash != ([32]byte{}) {
				return nil, apperr.Corruption("block stream: terminator block has non-zero hash", nil)
			}
			break
		}

		data, err := io.ReadAll(io.LimitReader(r, int64(length)))
		if err == nil && uint32(len(data)) != length {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, apperr.Corruption("block stream: truncated block data", err)
		}

		if sha256.Sum256(data) != hash {
			return nil, apperr.Corruption(fmt.Sprintf("block stream: sha256 mismatch at block %d", index), nil)
		}

		out = append(out, data...)
		wantIndex++
	}
	return out, nil
}

// EncodeHashed writes content as a KDBX3.1 index/sha256/length/data
// block stream, splitting at MaxBlockSize and terminating with a
// zero-length, zero-hash block.
func EncodeHashed(w io.Writer, content []byte) error {
	index := uint32(0)
	offset := 0
	for offset < len(content) {
		end := offset + MaxBlockSize
		if end > len(content) {
			end = len(content)
		}
		data := content[offset:end]
		hash := sha256.Sum256(data)

		if err := writeHashedBlock(w, index, hash, data); err != nil {
			return err
		}

		offset = end
		index++
	}
	return writeHashedBlock(w, index, [32]byte{}, nil)
}

func writeHashedBlock(w io.Writer, index uint32, hash [32]byte, data []byte) error {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, index)
	buf.Write(hash[:])
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return apperr.IO("block stream: write hashed block", err)
	}
	return nil
}
