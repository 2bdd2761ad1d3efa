package kdbxml

import (
	"bytes"
	"encoding/xml"

	"keepassdb/apperr"
	"keepassdb/internal/innerstream"
)

// Decode parses the decrypted, decompressed payload into a
// KeePassFile and unmasks every Protected string in canonical order
// using ks. ks must be freshly constructed (not yet advanced) for
// this call.
func Decode(payload []byte, ks innerstream.Keystream) (*KeePassFile, error) {
	var doc KeePassFile
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, apperr.XmlSchema("kdbxml: malformed document", err)
	}
	UnmaskProtectedValues(&doc.Root.Group, ks)
	return &doc, nil
}

// Encode masks every Protected string in canonical order using ks
// (which, like Decode, must be freshly constructed) and serializes
// doc as the plaintext payload later compressed and encrypted by the
// caller. Masking mutates doc.Root.Group in place; callers that still
// need the plaintext values afterward must pass a copy.
func Encode(doc *KeePassFile, ks innerstream.Keystream) ([]byte, error) {
	MaskProtectedValues(&doc.Root.Group, ks)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := enc.Encode(doc); err != nil {
		return nil, apperr.XmlSchema("kdbxml: encode failed", err)
	}
	return buf.Bytes(), nil
}
