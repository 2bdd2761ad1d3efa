package compositekey

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"strings"

	"keepassdb/internal/cryptoprim"
)

// keyfileXML is the modern <KeyFile><Key><Data>base64</Data></Key></KeyFile>
// format KeePass writes; older keyfiles omit the Hash attribute.
type keyfileXML struct {
	XMLName xml.Name `xml:"KeyFile"`
	Key     struct {
		Data struct {
			Hash  string `xml:"Hash,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"Key"`
}

// ParseKeyfile resolves raw keyfile bytes into the key material fed
// into Composite, per the KeePass keyfile rules: an XML-with-hash
// keyfile, a 64-character hex string, a raw 32-byte binary key, or
// (the fallback) the SHA-256 of the whole file.
func ParseKeyfile(data []byte) ([]byte, error) {
	if key, ok := tryXMLKeyfile(data); ok {
		return key, nil
	}
	if key, ok := tryHexKeyfile(data); ok {
		return key, nil
	}
	if len(data) == 32 {
		return data, nil
	}
	digest := cryptoprim.SHA256(data)
	return digest[:], nil
}

func tryXMLKeyfile(data []byte) ([]byte, bool) {
	var kf keyfileXML
	if err := xml.Unmarshal(data, &kf); err != nil {
		return nil, false
	}
	text := strings.TrimSpace(kf.Key.Data.Value)
	if text == "" {
		return nil, false
	}
	decoded, err := decodeBase64Loose(text)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func tryHexKeyfile(data []byte) ([]byte, bool) {
	text := strings.TrimSpace(string(data))
	if len(text) != 64 {
		return nil, false
	}
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// decodeBase64Loose exists because some keyfile generators wrap the
// base64 payload in newlines; standard encoding tolerates that once
// whitespace is stripped.
func decodeBase64Loose(s string) ([]byte, error) {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(stripped)
}
