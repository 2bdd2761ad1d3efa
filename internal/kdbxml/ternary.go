package kdbxml

import (
	"encoding/xml"
	"strings"

	"golang.org/x/text/cases"

	"keepassdb/apperr"
)

// TernaryBool is KeePass's tri-state boolean: absent/"null" means
// "inherit from the parent group", distinct from an explicit false.
// Conflating null with false loses that inheritance signal, so it is
// modeled as its own enum rather than a *bool.
type TernaryBool int

const (
	TernaryUnset TernaryBool = iota
	TernaryTrue
	TernaryFalse
)

var foldCase = cases.Fold()

// MarshalXML writes "null", "True", or "False".
func (t TernaryBool) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	s := "null"
	switch t {
	case TernaryTrue:
		s = "True"
	case TernaryFalse:
		s = "False"
	}
	return e.EncodeElement(s, start)
}

// UnmarshalXML accepts "null" (or empty) for TernaryUnset, and
// "True"/"False" in any case for the other two, matching KeePass's
// own case-insensitive parsing.
func (t *TernaryBool) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}

	switch foldCase.String(strings.TrimSpace(s)) {
	case "", "null":
		*t = TernaryUnset
	case "true":
		*t = TernaryTrue
	case "false":
		*t = TernaryFalse
	default:
		return apperr.XmlSchema("kdbxml: unexpected ternary value "+s, nil)
	}
	return nil
}
