package kdblegacy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"keepassdb/apperr"
)

const fieldTerminator = 0xFFFF

// readTLV reads one (id uint16, size uint32, data) record. A
// terminator record (id 0xFFFF) returns ok=false.
func readTLV(r io.Reader) (id uint16, data []byte, ok bool, err error) {
	if err = binary.Read(r, binary.LittleEndian, &id); err != nil {
		return 0, nil, false, apperr.Corruption("kdblegacy: truncated field id", err)
	}
	if id == fieldTerminator {
		var size uint32
		_ = binary.Read(r, binary.LittleEndian, &size)
		if size > 0 {
			_, _ = io.CopyN(io.Discard, r, int64(size))
		}
		return id, nil, false, nil
	}

	var size uint32
	if err = binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, nil, false, apperr.Corruption("kdblegacy: truncated field size", err)
	}
	data = make([]byte, size)
	if size > 0 {
		if _, err = io.ReadFull(r, data); err != nil {
			return 0, nil, false, apperr.Corruption("kdblegacy: truncated field data", err)
		}
	}
	return id, data, true, nil
}

func cString(data []byte) string {
	if n := bytes.IndexByte(data, 0); n >= 0 {
		data = data[:n]
	}
	return string(data)
}

const (
	groupFieldID               = 1
	groupFieldName             = 2
	groupFieldCreationTime     = 3
	groupFieldModificationTime = 4
	groupFieldAccessTime       = 5
	groupFieldExpiryTime       = 6
	groupFieldImageID          = 7
	groupFieldLevel            = 8
	groupFieldFlags            = 9
)

// Group is one flat KDB group record, before Decode nests it under
// its Level-implied parent.
type Group struct {
	ID               uint32
	Name             string
	ImageID          int32
	Level            uint16
	Flags            uint32
	CreationTime     time.Time
	ModificationTime time.Time
	AccessTime       time.Time
	ExpiryTime       time.Time
}

func readGroup(r io.Reader) (*Group, error) {
	g := &Group{}
	for {
		id, data, ok, err := readTLV(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return g, nil
		}
		switch id {
		case groupFieldID:
			if len(data) != 4 {
				return nil, apperr.Corruption("kdblegacy: malformed group id field", nil)
			}
			g.ID = binary.LittleEndian.Uint32(data)
		case groupFieldName:
			g.Name = cString(data)
		case groupFieldCreationTime:
			g.CreationTime = parseFieldTime(data)
		case groupFieldModificationTime:
			g.ModificationTime = parseFieldTime(data)
		case groupFieldAccessTime:
			g.AccessTime = parseFieldTime(data)
		case groupFieldExpiryTime:
			g.ExpiryTime = parseFieldTime(data)
		case groupFieldImageID:
			if len(data) != 4 {
				return nil, apperr.Corruption("kdblegacy: malformed group image id field", nil)
			}
			g.ImageID = int32(binary.LittleEndian.Uint32(data))
		case groupFieldLevel:
			if len(data) != 2 {
				return nil, apperr.Corruption("kdblegacy: malformed group level field", nil)
			}
			g.Level = binary.LittleEndian.Uint16(data)
		case groupFieldFlags:
			if len(data) != 4 {
				return nil, apperr.Corruption("kdblegacy: malformed group flags field", nil)
			}
			g.Flags = binary.LittleEndian.Uint32(data)
		default:
			return nil, apperr.Corruption(fmt.Sprintf("kdblegacy: unknown group field id %d", id), nil)
		}
	}
}

const (
	entryFieldUUID             = 1
	entryFieldGroupID          = 2
	entryFieldImageID          = 3
	entryFieldTitle            = 4
	entryFieldURL              = 5
	entryFieldUsername         = 6
	entryFieldPassword         = 7
	entryFieldNotes            = 8
	entryFieldCreationTime     = 9
	entryFieldModificationTime = 10
	entryFieldAccessTime       = 11
	entryFieldExpiryTime       = 12
	entryFieldBinaryDesc       = 13
	entryFieldBinaryData       = 14
)

// Entry is one flat KDB entry record, before Decode attaches it to
// its GroupID-referenced parent.
type Entry struct {
	UUID             [16]byte
	GroupID          uint32
	ImageID          int32
	Title            string
	URL              string
	Username         string
	Password         string
	Notes            string
	CreationTime     time.Time
	ModificationTime time.Time
	AccessTime       time.Time
	ExpiryTime       time.Time
	BinaryDesc       string
	BinaryData       []byte
}

func readEntry(r io.Reader) (*Entry, error) {
	e := &Entry{}
	for {
		id, data, ok, err := readTLV(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return e, nil
		}
		switch id {
		case entryFieldUUID:
			if len(data) != 16 {
				return nil, apperr.Corruption("kdblegacy: malformed entry uuid field", nil)
			}
			copy(e.UUID[:], data)
		case entryFieldGroupID:
			if len(data) != 4 {
				return nil, apperr.Corruption("kdblegacy: malformed entry group id field", nil)
			}
			e.GroupID = binary.LittleEndian.Uint32(data)
		case entryFieldImageID:
			if len(data) != 4 {
				return nil, apperr.Corruption("kdblegacy: malformed entry image id field", nil)
			}
			e.ImageID = int32(binary.LittleEndian.Uint32(data))
		case entryFieldTitle:
			e.Title = cString(data)
		case entryFieldURL:
			e.URL = cString(data)
		case entryFieldUsername:
			e.Username = cString(data)
		case entryFieldPassword:
			e.Password = cString(data)
		case entryFieldNotes:
			e.Notes = cString(data)
		case entryFieldCreationTime:
			e.CreationTime = parseFieldTime(data)
		case entryFieldModificationTime:
			e.ModificationTime = parseFieldTime(data)
		case entryFieldAccessTime:
			e.AccessTime = parseFieldTime(data)
		case entryFieldExpiryTime:
			e.ExpiryTime = parseFieldTime(data)
		case entryFieldBinaryDesc:
			e.BinaryDesc = cString(data)
		case entryFieldBinaryData:
			e.BinaryData = data
		default:
			return nil, apperr.Corruption(fmt.Sprintf("kdblegacy: unknown entry field id %d", id), nil)
		}
	}
}

func parseFieldTime(data []byte) time.Time {
	if len(data) != 5 {
		return time.Time{}
	}
	return decodePackedTime(data)
}
