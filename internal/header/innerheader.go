package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"keepassdb/apperr"
)

// InnerBinary is one entry of the KDBX4 inner header's binary pool,
// indexed by its position of appearance (0, 1, 2, …); XML
// <Binary Ref="N"> elements reference that index.
type InnerBinary struct {
	Protected bool
	Data      []byte
}

// Inner is the KDBX4 inner header: the keystream selection/key for
// protected XML strings, plus the binary pool, both of which precede
// the XML document in the decrypted, decompressed payload.
type Inner struct {
	StreamID  uint32
	StreamKey []byte
	Binaries  []InnerBinary
}

const (
	innerFieldStreamID  = 1
	innerFieldStreamKey = 2
	innerFieldBinary    = 3
)

// DecodeInner reads the KDBX4 inner header TLVs from r, stopping at
// the terminator (id=0) and leaving r positioned at the start of the
// XML document.
func DecodeInner(r io.Reader) (*Inner, error) {
	in := &Inner{}
	for {
		var id uint8
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, apperr.Corruption("inner header: truncated field id", err)
		}

		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, apperr.Corruption("inner header: truncated field length", err)
		}

		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, apperr.Corruption("inner header: truncated field data", err)
			}
		}

		if id == 0 {
			break
		}

		switch id {
		case innerFieldStreamID:
			if len(data) != 4 {
				return nil, apperr.Corruption("inner header: malformed stream id", nil)
			}
			in.StreamID = binary.LittleEndian.Uint32(data)
		case innerFieldStreamKey:
			in.StreamKey = data
		case innerFieldBinary:
			if len(data) < 1 {
				return nil, apperr.Corruption("inner header: truncated binary flag", nil)
			}
			in.Binaries = append(in.Binaries, InnerBinary{
				Protected: data[0] != 0,
				Data:      data[1:],
			})
		default:
			return nil, apperr.Corruption(fmt.Sprintf("inner header: unknown field id %d", id), nil)
		}
	}
	return in, nil
}

// EncodeInner serializes in as the KDBX4 inner header TLV sequence,
// terminated by id=0.
func EncodeInner(in *Inner) []byte {
	var buf bytes.Buffer

	write := func(id uint8, data []byte) {
		buf.WriteByte(id)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
		buf.Write(data)
	}

	streamID := make([]byte, 4)
	binary.LittleEndian.PutUint32(streamID, in.StreamID)
	write(innerFieldStreamID, streamID)
	write(innerFieldStreamKey, in.StreamKey)

	for _, b := range in.Binaries {
		flag := byte(0)
		if b.Protected {
			flag = 1
		}
		payload := make([]byte, 0, len(b.Data)+1)
		payload = append(payload, flag)
		payload = append(payload, b.Data...)
		write(innerFieldBinary, payload)
	}

	write(0, nil)
	return buf.Bytes()
}
