package kdbxml_test

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keepassdb/internal/innerstream"
	"keepassdb/internal/kdbxml"
)

func TestB64BytesRoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name       `xml:"W"`
		Value   kdbxml.B64Bytes `xml:"Value"`
	}

	in := wrapper{Value: []byte{0x01, 0x02, 0x03, 0xFF}}
	out, err := xml.Marshal(in)
	require.NoError(t, err)

	var decoded wrapper
	require.NoError(t, xml.Unmarshal(out, &decoded))
	require.Equal(t, in.Value, decoded.Value)
}

func TestB64BytesEmptyIsNil(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name       `xml:"W"`
		Value   kdbxml.B64Bytes `xml:"Value"`
	}

	var decoded wrapper
	require.NoError(t, xml.Unmarshal([]byte(`<W><Value></Value></W>`), &decoded))
	require.Nil(t, decoded.Value)
}

func TestTernaryBoolRoundTrip(t *testing.T) {
	t.Parallel()

	for _, tb := range []kdbxml.TernaryBool{kdbxml.TernaryUnset, kdbxml.TernaryTrue, kdbxml.TernaryFalse} {
		type wrapper struct {
			XMLName xml.Name          `xml:"W"`
			Value   kdbxml.TernaryBool `xml:"Value"`
		}
		in := wrapper{Value: tb}
		out, err := xml.Marshal(in)
		require.NoError(t, err)

		var decoded wrapper
		require.NoError(t, xml.Unmarshal(out, &decoded))
		require.Equal(t, tb, decoded.Value)
	}
}

func TestTernaryBoolCaseInsensitive(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name          `xml:"W"`
		Value   kdbxml.TernaryBool `xml:"Value"`
	}
	var decoded wrapper
	require.NoError(t, xml.Unmarshal([]byte(`<W><Value>tRuE</Value></W>`), &decoded))
	require.Equal(t, kdbxml.TernaryTrue, decoded.Value)
}

func TestTernaryBoolRejectsGarbage(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name          `xml:"W"`
		Value   kdbxml.TernaryBool `xml:"Value"`
	}
	var decoded wrapper
	require.Error(t, xml.Unmarshal([]byte(`<W><Value>maybe</Value></W>`), &decoded))
}

func TestTimestampBase64RoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name         `xml:"W"`
		Value   kdbxml.Timestamp `xml:"Value"`
	}
	want := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	in := wrapper{Value: kdbxml.NewTimestamp(want, true)}

	out, err := xml.Marshal(in)
	require.NoError(t, err)

	var decoded wrapper
	require.NoError(t, xml.Unmarshal(out, &decoded))
	require.True(t, decoded.Value.Base64)
	require.True(t, want.Equal(decoded.Value.Time))
}

func TestTimestampISO8601RoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name         `xml:"W"`
		Value   kdbxml.Timestamp `xml:"Value"`
	}
	want := time.Date(2010, 1, 2, 3, 4, 5, 0, time.UTC)
	in := wrapper{Value: kdbxml.NewTimestamp(want, false)}

	out, err := xml.Marshal(in)
	require.NoError(t, err)

	var decoded wrapper
	require.NoError(t, xml.Unmarshal(out, &decoded))
	require.False(t, decoded.Value.Base64)
	require.True(t, want.Equal(decoded.Value.Time))
}

func TestStringValueUnprotectedRoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name           `xml:"W"`
		Value   kdbxml.StringValue `xml:"Value"`
	}
	in := wrapper{Value: kdbxml.StringValue{Raw: []byte("hello world")}}
	out, err := xml.Marshal(in)
	require.NoError(t, err)
	require.NotContains(t, string(out), `Protected="True"`)

	var decoded wrapper
	require.NoError(t, xml.Unmarshal(out, &decoded))
	require.False(t, decoded.Value.Protected)
	require.Equal(t, "hello world", decoded.Value.PlainText())
}

func TestStringValueProtectedRoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name           `xml:"W"`
		Value   kdbxml.StringValue `xml:"Value"`
	}
	in := wrapper{Value: kdbxml.StringValue{Protected: true, Raw: []byte("s3cr3t")}}
	out, err := xml.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(out), `Protected="True"`)

	var decoded wrapper
	require.NoError(t, xml.Unmarshal(out, &decoded))
	require.True(t, decoded.Value.Protected)
	require.Equal(t, in.Value.Raw, decoded.Value.Raw)
}

func TestStringValueProtectedRejectsBadBase64(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		XMLName xml.Name           `xml:"W"`
		Value   kdbxml.StringValue `xml:"Value"`
	}
	var decoded wrapper
	err := xml.Unmarshal([]byte(`<W><Value Protected="True">!!not base64!!</Value></W>`), &decoded)
	require.Error(t, err)
}

func newTestDocument() *kdbxml.KeePassFile {
	doc := &kdbxml.KeePassFile{}
	doc.Meta.Generator = "test"
	doc.Meta.DatabaseName = "db"
	doc.Root.Group = kdbxml.Group{
		Name: "Root",
		Entries: []kdbxml.Entry{
			{
				Strings: []kdbxml.EntryString{
					{Key: "Title", Value: kdbxml.StringValue{Raw: []byte("entry1")}},
					{Key: "Password", Value: kdbxml.StringValue{Protected: true, Raw: []byte("hunter2")}},
				},
				History: []kdbxml.Entry{
					{
						Strings: []kdbxml.EntryString{
							{Key: "Password", Value: kdbxml.StringValue{Protected: true, Raw: []byte("oldpass")}},
						},
					},
				},
			},
		},
		Groups: []kdbxml.Group{
			{
				Name: "Sub",
				Entries: []kdbxml.Entry{
					{
						Strings: []kdbxml.EntryString{
							{Key: "Password", Value: kdbxml.StringValue{Protected: true, Raw: []byte("subpass")}},
						},
					},
				},
			},
		},
	}
	return doc
}

func TestCodecRoundTripWithNoneCipher(t *testing.T) {
	t.Parallel()

	doc := newTestDocument()
	ks, err := innerstream.New(innerstream.CipherNone, nil)
	require.NoError(t, err)

	encoded, err := kdbxml.Encode(doc, ks)
	require.NoError(t, err)

	ks2, err := innerstream.New(innerstream.CipherNone, nil)
	require.NoError(t, err)
	decoded, err := kdbxml.Decode(encoded, ks2)
	require.NoError(t, err)

	require.Equal(t, "hunter2", decoded.Root.Group.Entries[0].Strings[1].Value.PlainText())
}

func TestCodecRoundTripWithSalsa20(t *testing.T) {
	t.Parallel()

	doc := newTestDocument()
	key := []byte("some inner stream key material")

	ksEncode, err := innerstream.New(innerstream.CipherSalsa20, key)
	require.NoError(t, err)
	encoded, err := kdbxml.Encode(doc, ksEncode)
	require.NoError(t, err)

	// The protected value is no longer readable as plaintext directly
	// off the wire: re-unmarshal raw to confirm it round-trips through
	// Decode's unmask instead of happening to match by coincidence.
	var raw kdbxml.KeePassFile
	require.NoError(t, xml.Unmarshal(encoded, &raw))
	require.NotEqual(t, []byte("hunter2"), raw.Root.Group.Entries[0].Strings[1].Value.Raw)

	ksDecode, err := innerstream.New(innerstream.CipherSalsa20, key)
	require.NoError(t, err)
	decoded, err := kdbxml.Decode(encoded, ksDecode)
	require.NoError(t, err)

	require.Equal(t, "hunter2", decoded.Root.Group.Entries[0].Strings[1].Value.PlainText())
	require.Equal(t, "oldpass", decoded.Root.Group.Entries[0].History[0].Strings[0].Value.PlainText())
	require.Equal(t, "subpass", decoded.Root.Group.Groups[0].Entries[0].Strings[0].Value.PlainText())
	require.Equal(t, "entry1", decoded.Root.Group.Entries[0].Strings[0].Value.PlainText())
}
