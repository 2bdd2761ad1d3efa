package kdbxml

import (
	"encoding/base64"
	"encoding/xml"

	"keepassdb/apperr"
)

// StringValue is an EntryString's payload. Raw holds exactly what is
// on the wire at the point this struct is built: plaintext UTF-8 when
// Protected is false, and the still-masked inner-stream ciphertext
// bytes when Protected is true. protect.go's UnmaskProtectedValues /
// MaskProtectedValues are what translate Raw between masked and
// plaintext; Marshal/UnmarshalXML never touch the keystream, since
// they have no way to see the document-order state it depends on.
type StringValue struct {
	Protected bool
	Raw       []byte
}

const protectedAttrLocal = "Protected"

// MarshalXML writes the Protected attribute (only when true, matching
// real KeePass output which omits it for unprotected fields) and the
// chardata: base64 when Protected, plain UTF-8 text otherwise.
func (v StringValue) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if v.Protected {
		start.Attr = append(start.Attr, xml.Attr{
			Name:  xml.Name{Local: protectedAttrLocal},
			Value: "True",
		})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	var chardata string
	if v.Protected {
		chardata = base64.StdEncoding.EncodeToString(v.Raw)
	} else {
		chardata = string(v.Raw)
	}
	if chardata != "" {
		if err := e.EncodeToken(xml.CharData(chardata)); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML reads the Protected attribute and the chardata. When
// Protected, the chardata is base64 and Raw stores the decoded
// ciphertext bytes unmasked later by protect.go; otherwise Raw stores
// the UTF-8 text verbatim.
func (v *StringValue) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == protectedAttrLocal {
			v.Protected = attr.Value == "True" || attr.Value == "true"
		}
	}

	var chardata string
	if err := d.DecodeElement(&chardata, &start); err != nil {
		return err
	}

	if !v.Protected {
		v.Raw = []byte(chardata)
		return nil
	}
	if chardata == "" {
		v.Raw = nil
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(chardata)
	if err != nil {
		// Not recoverable: a skipped ciphertext would also desync the
		// keystream for every protected value after this one.
		return apperr.XmlSchema("kdbxml: invalid base64 in protected value", err)
	}
	v.Raw = decoded
	return nil
}

// PlainText returns Raw as a string, valid only after protect.go has
// unmasked the tree (or when Protected is false to begin with).
func (v StringValue) PlainText() string {
	return string(v.Raw)
}
