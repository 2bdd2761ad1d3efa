// Package variantdict implements KDBX4's typed key/value map codec,
// used to encode KDF parameters (outer header id 11), public custom
// data (id 12), and nowhere else. The wire format is a 2-byte version
// (high byte must be major version 1), then records of
// {u8 type, u32 key-len, key-bytes, u32 value-len, value-bytes}
// terminated by a single 0 byte.
package variantdict

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"keepassdb/apperr"
)

// Type is the one-byte tag identifying a value's wire encoding.
type Type byte

const (
	TypeUInt32 Type = 0x04
	TypeUInt64 Type = 0x05
	TypeBool   Type = 0x08
	TypeInt32  Type = 0x0C
	TypeInt64  Type = 0x0D
	TypeString Type = 0x18
	TypeBytes  Type = 0x42
)

// currentMajorVersion is the only major version this codec accepts or
// emits; a version whose high byte differs is rejected outright.
const currentMajorVersion = 1

// wireVersion is written to the version field: major version 1 in the
// high byte, minor 0 in the low byte.
const wireVersion = uint16(currentMajorVersion) << 8

// Value is one typed entry in a Dict.
type Value struct {
	Type Type
	raw  []byte
}

func (v Value) Uint32() (uint32, error) {
	if v.Type != TypeUInt32 || len(v.raw) != 4 {
		return 0, fmt.Errorf("variantdict: value is not a uint32")
	}
	return binary.LittleEndian.Uint32(v.raw), nil
}

func (v Value) Uint64() (uint64, error) {
	if v.Type != TypeUInt64 || len(v.raw) != 8 {
		return 0, fmt.Errorf("variantdict: value is not a uint64")
	}
	return binary.LittleEndian.Uint64(v.raw), nil
}

func (v Value) Bool() (bool, error) {
	if v.Type != TypeBool || len(v.raw) != 1 {
		return false, fmt.Errorf("variantdict: value is not a bool")
	}
	return v.raw[0] != 0, nil
}

func (v Value) Int32() (int32, error) {
	if v.Type != TypeInt32 || len(v.raw) != 4 {
		return 0, fmt.Errorf("variantdict: value is not an int32")
	}
	return int32(binary.LittleEndian.Uint32(v.raw)), nil
}

func (v Value) Int64() (int64, error) {
	if v.Type != TypeInt64 || len(v.raw) != 8 {
		return 0, fmt.Errorf("variantdict: value is not an int64")
	}
	return int64(binary.LittleEndian.Uint64(v.raw)), nil
}

func (v Value) String() (string, error) {
	if v.Type != TypeString {
		return "", fmt.Errorf("variantdict: value is not a string")
	}
	return string(v.raw), nil
}

func (v Value) Bytes() ([]byte, error) {
	if v.Type != TypeBytes {
		return nil, fmt.Errorf("variantdict: value is not a byte array")
	}
	return v.raw, nil
}

func Uint32Value(n uint32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return Value{Type: TypeUInt32, raw: b}
}

func Uint64Value(n uint64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return Value{Type: TypeUInt64, raw: b}
}

func BoolValue(b bool) Value {
	v := byte(0)
	if b {
		v = 1
	}
	return Value{Type: TypeBool, raw: []byte{v}}
}

func Int32Value(n int32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return Value{Type: TypeInt32, raw: b}
}

func Int64Value(n int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return Value{Type: TypeInt64, raw: b}
}

func StringValue(s string) Value {
	return Value{Type: TypeString, raw: []byte(s)}
}

func BytesValue(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{Type: TypeBytes, raw: cp}
}

// Dict is an ordered key/value map: iteration and serialization follow
// insertion order, since KeePass implementations (this one included)
// key the KDF selector ($UUID) first by convention and a writer SHOULD
// be deterministic.
type Dict struct {
	order  []string
	values map[string]Value
}

// New returns an empty Dict ready for Set calls.
func New() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Set inserts or overwrites key with v. A fresh key is appended to the
// insertion order; overwriting an existing key keeps its original
// position.
func (d *Dict) Set(key string, v Value) {
	if _, exists := d.values[key]; !exists {
		d.order = append(d.order, key)
	}
	d.values[key] = v
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Decode parses the wire format described in the package doc comment.
// Duplicate keys and unknown type tags are hard errors.
func Decode(data []byte) (*Dict, error) {
	r := bytes.NewReader(data)

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, apperr.Corruption("variant dictionary: truncated version", err)
	}
	if version>>8 != currentMajorVersion {
		return nil, apperr.Corruption(
			fmt.Sprintf("variant dictionary: unsupported major version %d", version>>8), nil)
	}

	dict := New()
	for {
		var typ byte
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, apperr.Corruption("variant dictionary: missing terminator", err)
		}
		if typ == 0 {
			break
		}

		key, err := readLP32(r)
		if err != nil {
			return nil, apperr.Corruption("variant dictionary: truncated key", err)
		}
		val, err := readLP32(r)
		if err != nil {
			return nil, apperr.Corruption("variant dictionary: truncated value", err)
		}

		keyStr := string(key)
		if _, exists := dict.values[keyStr]; exists {
			return nil, apperr.Corruption(fmt.Sprintf("variant dictionary: duplicate key %q", keyStr), nil)
		}

		switch Type(typ) {
		case TypeUInt32, TypeUInt64, TypeBool, TypeInt32, TypeInt64, TypeString, TypeBytes:
			dict.order = append(dict.order, keyStr)
			dict.values[keyStr] = Value{Type: Type(typ), raw: val}
		default:
			return nil, apperr.Corruption(fmt.Sprintf("variant dictionary: unknown type 0x%02X for key %q", typ, keyStr), nil)
		}
	}

	return dict, nil
}

// Encode serializes d in its insertion order.
func (d *Dict) Encode() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, wireVersion)

	for _, key := range d.order {
		val := d.values[key]
		_ = binary.Write(&buf, binary.LittleEndian, byte(val.Type))
		writeLP32(&buf, []byte(key))
		writeLP32(&buf, val.raw)
	}
	buf.WriteByte(0)

	return buf.Bytes()
}

func readLP32(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func writeLP32(w *bytes.Buffer, data []byte) {
	_ = binary.Write(w, binary.LittleEndian, uint32(len(data)))
	w.Write(data)
}
