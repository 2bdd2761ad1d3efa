package kdbxml

import (
	"encoding/base64"
	"encoding/xml"
	"strings"

	"keepassdb/apperr"
)

// B64Bytes is a byte slice carried in the XML as base64 chardata:
// UUIDs, custom icon images, group/entry UUID references, and the
// KDBX3 Meta binary pool's Content all use this encoding.
type B64Bytes []byte

// MarshalXML encodes b as base64 chardata of start.
func (b B64Bytes) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(base64.StdEncoding.EncodeToString(b), start)
}

// UnmarshalXML decodes start's chardata as base64 into b. Empty
// content decodes to a nil slice rather than an error, since several
// of these elements are legitimately absent in minimal documents.
func (b *B64Bytes) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*b = nil
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return apperr.XmlSchema("kdbxml: invalid base64 in "+start.Name.Local, err)
	}
	*b = decoded
	return nil
}

// MarshalText and UnmarshalText apply the same base64 encoding where
// B64Bytes is a ",chardata" field (the KDBX3 Meta binary pool's
// Content), since encoding/xml uses the text interfaces there rather
// than MarshalXML/UnmarshalXML.
func (b B64Bytes) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(b)), nil
}

func (b *B64Bytes) UnmarshalText(text []byte) error {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return apperr.XmlSchema("kdbxml: invalid base64 chardata", err)
	}
	*b = decoded
	return nil
}
