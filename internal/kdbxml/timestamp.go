package kdbxml

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"strings"
	"time"

	"keepassdb/apperr"
)

// kdbxEpoch is the KDBX4 timestamp epoch: 0001-01-01T00:00:00Z.
var kdbxEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// Timestamp is a Group/Entry/Meta date field. Base64 selects which of
// the two on-disk encodings Marshal uses; callers building a tree for
// a specific target format set it explicitly (KDBX4: true, KDBX3:
// false). Unmarshal detects the encoding from the content itself and
// ignores whatever Base64 was set to beforehand: real files mix the
// two forms regardless of their nominal version, so readers accept
// both.
type Timestamp struct {
	Time   time.Time
	Base64 bool
}

// NewTimestamp wraps t for the given target encoding.
func NewTimestamp(t time.Time, base64Encoded bool) Timestamp {
	return Timestamp{Time: t.UTC(), Base64: base64Encoded}
}

// MarshalXML writes the base64-encoded signed 64-bit seconds-since-
// epoch form when Base64 is set, otherwise ISO-8601 UTC.
func (t Timestamp) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if t.Base64 {
		secs := t.Time.Unix() - kdbxEpoch.Unix()
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(secs))
		return e.EncodeElement(base64.StdEncoding.EncodeToString(buf), start)
	}
	return e.EncodeElement(t.Time.UTC().Format(time.RFC3339), start)
}

// UnmarshalXML tries the base64/binary form first (valid base64
// decoding to exactly 8 bytes), falling back to RFC3339 parsing.
func (t *Timestamp) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	s = strings.TrimSpace(s)

	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) == 8 {
		secs := int64(binary.LittleEndian.Uint64(decoded))
		t.Time = time.Unix(secs+kdbxEpoch.Unix(), 0).UTC()
		t.Base64 = true
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return apperr.XmlSchema("kdbxml: unrecognized timestamp "+s, err)
	}
	t.Time = parsed.UTC()
	t.Base64 = false
	return nil
}
