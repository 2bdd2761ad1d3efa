// Package header implements the outer and inner header codecs shared
// by the KDBX3 and KDBX4 pipelines: magic/version detection, the
// outer TLV header (whose length widths differ between the two formats),
// the post-header SHA-256/HMAC authentication pair KDBX4 appends, and
// the KDBX4 inner-header TLVs that precede the XML payload once the
// block stream has been decrypted.
package header

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"keepassdb/apperr"
	"keepassdb/internal/cryptoprim"
	"keepassdb/internal/variantdict"
)

// Format identifies which of the three on-disk generations a file's
// magic bytes select.
type Format int

const (
	FormatUnknown Format = iota
	FormatKDB
	FormatKDBX3
	FormatKDBX4
)

func (f Format) String() string {
	switch f {
	case FormatKDB:
		return "KDB"
	case FormatKDBX3:
		return "KDBX3"
	case FormatKDBX4:
		return "KDBX4"
	default:
		return "Unknown"
	}
}

// Base and secondary signatures. The base signature is common to every
// generation; the secondary signature distinguishes legacy KDB from
// the two KDBX generations (and flags the 2.x pre-release format,
// which this library refuses to open).
const (
	baseSignature = 0x9AA2D903

	sigKDB             = 0xB54BFB65
	sigKDBXPrerelease  = 0xB54BFB66
	sigKDBX            = 0xB54BFB67
)

// Magic is the decoded 12-byte file preamble: base signature,
// secondary signature, and the (minor, major) version pair.
type Magic struct {
	Format Format
	Minor  uint16
	Major  uint16
}

// ReadMagic consumes the 12-byte preamble from r and classifies it.
// An unrecognized secondary signature, or a KDBX major version this
// library doesn't implement, is reported as apperr.KindFormatVersion;
// a short read is apperr.KindCorruption.
func ReadMagic(r io.Reader) (Magic, error) {
	var sig1, sig2 uint32
	if err := binary.Read(r, binary.LittleEndian, &sig1); err != nil {
		return Magic{}, apperr.Corruption("header: truncated base signature", err)
	}
	if sig1 != baseSignature {
		return Magic{}, apperr.FormatVersion(fmt.Sprintf("header: unrecognized base signature 0x%08X", sig1), nil)
	}
	if err := binary.Read(r, binary.LittleEndian, &sig2); err != nil {
		return Magic{}, apperr.Corruption("header: truncated secondary signature", err)
	}

	var minor, major uint16
	if err := binary.Read(r, binary.LittleEndian, &minor); err != nil {
		return Magic{}, apperr.Corruption("header: truncated minor version", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &major); err != nil {
		return Magic{}, apperr.Corruption("header: truncated major version", err)
	}

	switch sig2 {
	case sigKDB:
		return Magic{Format: FormatKDB, Minor: minor, Major: major}, nil
	case sigKDBXPrerelease:
		return Magic{}, apperr.FormatVersion("header: 2.x pre-release format is not supported", nil)
	case sigKDBX:
		switch major {
		case 3:
			return Magic{Format: FormatKDBX3, Minor: minor, Major: major}, nil
		case 4:
			return Magic{Format: FormatKDBX4, Minor: minor, Major: major}, nil
		default:
			return Magic{}, apperr.FormatVersion(fmt.Sprintf("header: unsupported KDBX major version %d", major), nil)
		}
	default:
		return Magic{}, apperr.FormatVersion(fmt.Sprintf("header: unrecognized secondary signature 0x%08X", sig2), nil)
	}
}

// Cipher UUIDs recognized for the outer (and KDB) block cipher.
var (
	CipherAES256CBC = uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	CipherChaCha20  = uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a")
	CipherTwofishCBC = uuid.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c")
)

// KDF UUIDs recognized in a KDBX4 KdfParameters variant dictionary.
var (
	KDFAESKDBX3 = uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
	KDFAESKDBX4 = uuid.MustParse("7c02bb82-79a7-4ac0-927d-114a00648238")
	KDFArgon2d  = uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c")
	KDFArgon2id = uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6")
)

// CompressionFlag mirrors outer header field 3.
type CompressionFlag uint32

const (
	CompressionNone CompressionFlag = 0
	CompressionGzip CompressionFlag = 1
)

// Outer is the parsed outer TLV header, length widths normalized across
// KDBX3 (u16 length) and KDBX4 (u32 length).
type Outer struct {
	CipherID             uuid.UUID
	CompressionFlags     CompressionFlag
	MasterSeed           []byte
	TransformSeed        []byte // KDBX3 only
	TransformRounds      uint64 // KDBX3 only
	EncryptionIV         []byte
	InnerRandomStreamKey []byte // KDBX3 only
	StreamStartBytes     []byte // KDBX3 only
	InnerRandomStreamID  uint32 // KDBX3 only
	KdfParameters        *variantdict.Dict // KDBX4 only
	PublicCustomData     *variantdict.Dict // KDBX4 only
}

const (
	fieldComment             = 1
	fieldCipherID            = 2
	fieldCompressionFlags    = 3
	fieldMasterSeed          = 4
	fieldTransformSeed       = 5
	fieldTransformRounds     = 6
	fieldEncryptionIV        = 7
	fieldInnerRandomStreamKey = 8
	fieldStreamStartBytes    = 9
	fieldInnerRandomStreamID = 10
	fieldKdfParameters       = 11
	fieldPublicCustomData    = 12
)

// DecodeOuter reads the outer TLV header from r. lengthIs32 selects
// the KDBX4 u32-length encoding; false selects KDBX3's u16 lengths.
// It returns the parsed header together with the raw bytes consumed
// (magic excluded), which callers use both to compute the KDBX4
// SHA-256/HMAC authenticators and, for KDBX3, simply discard.
func DecodeOuter(r io.Reader, lengthIs32 bool) (*Outer, []byte, error) {
	var raw bytes.Buffer
	tee := io.TeeReader(r, &raw)

	out := &Outer{}
	for {
		var id uint8
		if err := binary.Read(tee, binary.LittleEndian, &id); err != nil {
			return nil, nil, apperr.Corruption("header: truncated field id", err)
		}

		var length uint32
		if lengthIs32 {
			if err := binary.Read(tee, binary.LittleEndian, &length); err != nil {
				return nil, nil, apperr.Corruption("header: truncated field length", err)
			}
		} else {
			var length16 uint16
			if err := binary.Read(tee, binary.LittleEndian, &length16); err != nil {
				return nil, nil, apperr.Corruption("header: truncated field length", err)
			}
			length = uint32(length16)
		}

		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(tee, data); err != nil {
				return nil, nil, apperr.Corruption("header: truncated field data", err)
			}
		}

		if id == 0 {
			break
		}
		if err := out.setField(id, data); err != nil {
			return nil, nil, err
		}
	}

	return out, raw.Bytes(), nil
}

func (o *Outer) setField(id uint8, data []byte) error {
	switch id {
	case fieldComment:
		// Free-form, never read back; ignored.
	case fieldCipherID:
		if len(data) != 16 {
			return apperr.Corruption(fmt.Sprintf("header: cipher id length %d, want 16", len(data)), nil)
		}
		id, err := uuid.FromBytes(data)
		if err != nil {
			return apperr.Corruption("header: malformed cipher id", err)
		}
		o.CipherID = id
	case fieldCompressionFlags:
		if len(data) != 4 {
			return apperr.Corruption("header: malformed compression flags", nil)
		}
		o.CompressionFlags = CompressionFlag(binary.LittleEndian.Uint32(data))
	case fieldMasterSeed:
		o.MasterSeed = data
	case fieldTransformSeed:
		o.TransformSeed = data
	case fieldTransformRounds:
		if len(data) != 8 {
			return apperr.Corruption("header: malformed transform rounds", nil)
		}
		o.TransformRounds = binary.LittleEndian.Uint64(data)
	case fieldEncryptionIV:
		o.EncryptionIV = data
	case fieldInnerRandomStreamKey:
		o.InnerRandomStreamKey = data
	case fieldStreamStartBytes:
		o.StreamStartBytes = data
	case fieldInnerRandomStreamID:
		if len(data) != 4 {
			return apperr.Corruption("header: malformed inner random stream id", nil)
		}
		o.InnerRandomStreamID = binary.LittleEndian.Uint32(data)
	case fieldKdfParameters:
		dict, err := variantdict.Decode(data)
		if err != nil {
			return err
		}
		o.KdfParameters = dict
	case fieldPublicCustomData:
		dict, err := variantdict.Decode(data)
		if err != nil {
			return err
		}
		o.PublicCustomData = dict
	default:
		return apperr.Corruption(fmt.Sprintf("header: unknown outer header field id %d", id), nil)
	}
	return nil
}

// EncodeOuter serializes o using the KDBX3 or KDBX4 TLV widths and
// returns the raw bytes (the same bytes the KDBX4 authenticators are
// computed over).
func EncodeOuter(o *Outer, lengthIs32 bool) []byte {
	var buf bytes.Buffer

	write := func(id uint8, data []byte) {
		if len(data) == 0 && id != fieldCompressionFlags {
			return
		}
		buf.WriteByte(id)
		if lengthIs32 {
			_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
		} else {
			_ = binary.Write(&buf, binary.LittleEndian, uint16(len(data)))
		}
		buf.Write(data)
	}

	cipherBytes, _ := o.CipherID.MarshalBinary()
	write(fieldCipherID, cipherBytes)

	compression := make([]byte, 4)
	binary.LittleEndian.PutUint32(compression, uint32(o.CompressionFlags))
	write(fieldCompressionFlags, compression)

	write(fieldMasterSeed, o.MasterSeed)

	if lengthIs32 {
		// KDBX4: KDF parameters replace TransformSeed/Rounds.
		if o.KdfParameters != nil {
			write(fieldKdfParameters, o.KdfParameters.Encode())
		}
		write(fieldEncryptionIV, o.EncryptionIV)
		if o.PublicCustomData != nil {
			write(fieldPublicCustomData, o.PublicCustomData.Encode())
		}
	} else {
		write(fieldTransformSeed, o.TransformSeed)
		rounds := make([]byte, 8)
		binary.LittleEndian.PutUint64(rounds, o.TransformRounds)
		write(fieldTransformRounds, rounds)
		write(fieldEncryptionIV, o.EncryptionIV)
		write(fieldInnerRandomStreamKey, o.InnerRandomStreamKey)
		write(fieldStreamStartBytes, o.StreamStartBytes)
		streamID := make([]byte, 4)
		binary.LittleEndian.PutUint32(streamID, o.InnerRandomStreamID)
		write(fieldInnerRandomStreamID, streamID)
	}

	buf.WriteByte(0)
	if lengthIs32 {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(4))
	} else {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(4))
	}
	buf.Write([]byte{0x0D, 0x0A, 0x0D, 0x0A})

	return buf.Bytes()
}

// VerifyHeaderSHA256 checks the plain SHA-256 KDBX4 writes immediately
// after the outer header, reporting a mismatch as Corruption (the two
// generations of check are cryptographically distinguishable: this
// one needs no key at all, so a mismatch means the bytes themselves
// were damaged in transit, not that the wrong password was supplied).
func VerifyHeaderSHA256(rawHeader []byte, want [32]byte) error {
	got := sha256.Sum256(rawHeader)
	if subtle.ConstantTimeCompare(got[:], want[:]) == 0 {
		return apperr.Corruption("header: sha256 mismatch", nil)
	}
	return nil
}

// VerifyHeaderHMAC checks the keyed HMAC-SHA256 KDBX4 writes after the
// plain SHA-256. A mismatch here is reported as Authentication since
// it is indistinguishable from an incorrect composite key.
func VerifyHeaderHMAC(rawHeader []byte, hmacKey []byte, want [32]byte) error {
	got := cryptoprim.HMACSHA256(hmacKey, rawHeader)
	if subtle.ConstantTimeCompare(got[:], want[:]) == 0 {
		return apperr.Authentication("header: hmac mismatch (wrong key or tampered file)", nil)
	}
	return nil
}
