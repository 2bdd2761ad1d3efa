// Package kdblegacy implements a read-only parser for the
// pre-KDBX "KDB" file format (KeePass 1.x). It produces a flat list
// of groups (each carrying a nesting Level) and entries (each
// referencing a GroupID), which Decode nests into the same
// Group/Entry shape the database package's arena model expects, so
// the facade can treat a KDB file identically to a freshly opened
// KDBX3/KDBX4 one after Decode returns.
package kdblegacy

import (
	"encoding/binary"
	"fmt"
	"io"

	"keepassdb/apperr"
)

// cipher flag bits in Header.Flags, per the KeePass 1.x format.
const (
	flagSHA2     = 1 << 0
	flagRijndael = 1 << 1
	flagArcFour  = 1 << 2
	flagTwofish  = 1 << 3
)

// Header is the 124-byte KDB preamble: the 12 bytes of magic/version
// ReadMagic already consumes, followed by the 112 fixed-size fields
// this type holds.
type Header struct {
	Flags         uint32
	Version       uint32
	MasterSeed    []byte // 16 bytes
	EncryptionIV  []byte // 16 bytes
	GroupCount    uint32
	EntryCount    uint32
	ContentsHash  [32]byte
	TransformSeed []byte // 32 bytes
	KeyRounds     uint64
}

// Cipher reports which outer block cipher Flags selects.
func (h *Header) Cipher() (aes bool, twofish bool, err error) {
	switch {
	case h.Flags&flagRijndael != 0:
		return true, false, nil
	case h.Flags&flagTwofish != 0:
		return false, true, nil
	case h.Flags&flagArcFour != 0:
		return false, false, apperr.NotSupported("kdblegacy: ArcFour cipher is not supported", nil)
	default:
		return false, false, apperr.Corruption(fmt.Sprintf("kdblegacy: unrecognized cipher flags 0x%X", h.Flags), nil)
	}
}

// ReadHeader consumes the fixed-size portion of the KDB header
// immediately following the 12-byte magic/version preamble.
func ReadHeader(r io.Reader) (*Header, error) {
	h := &Header{}

	read := func(dst interface{}) error {
		return binary.Read(r, binary.LittleEndian, dst)
	}
	readBytes := func(n int) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	if err := read(&h.Flags); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated flags", err)
	}
	if err := read(&h.Version); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated version", err)
	}
	var err error
	if h.MasterSeed, err = readBytes(16); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated master seed", err)
	}
	if h.EncryptionIV, err = readBytes(16); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated encryption iv", err)
	}
	if err := read(&h.GroupCount); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated group count", err)
	}
	if err := read(&h.EntryCount); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated entry count", err)
	}
	hash, err := readBytes(32)
	if err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated contents hash", err)
	}
	copy(h.ContentsHash[:], hash)
	if h.TransformSeed, err = readBytes(32); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated transform seed", err)
	}
	var rounds uint32
	if err := read(&rounds); err != nil {
		return nil, apperr.Corruption("kdblegacy: truncated key transform rounds", err)
	}
	h.KeyRounds = uint64(rounds)

	return h, nil
}
