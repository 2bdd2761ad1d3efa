package compositekey_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/apperr"
	"keepassdb/internal/compositekey"
	"keepassdb/internal/header"
	"keepassdb/internal/variantdict"
)

func TestCompositeOrderMatters(t *testing.T) {
	t.Parallel()

	a := compositekey.Composite(compositekey.Components{Password: []byte("hunter2")})
	b := compositekey.Composite(compositekey.Components{Keyfile: []byte("hunter2")})
	require.NotEqual(t, a, b)
}

func TestCompositeDeterministic(t *testing.T) {
	t.Parallel()

	c := compositekey.Components{Password: []byte("pw"), Keyfile: []byte("kf"), ChallengeResponse: []byte("cr")}
	require.Equal(t, compositekey.Composite(c), compositekey.Composite(c))
}

func TestTransformKDBX3(t *testing.T) {
	t.Parallel()

	composite := compositekey.Composite(compositekey.Components{Password: []byte("demopass")})
	seed := bytes.Repeat([]byte{0x11}, 32)
	transformed, err := compositekey.TransformKDBX3(composite, seed, 100)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, transformed)
}

func TestTransformKDBX4AESKDF(t *testing.T) {
	t.Parallel()

	composite := compositekey.Composite(compositekey.Components{Password: []byte("demopass")})

	dict := variantdict.New()
	dict.Set("$UUID", variantdict.BytesValue(header.KDFAESKDBX4[:]))
	dict.Set("S", variantdict.BytesValue(bytes.Repeat([]byte{0x22}, 32)))
	dict.Set("R", variantdict.Uint64Value(50))

	transformed, err := compositekey.TransformKDBX4(composite, dict)
	require.NoError(t, err)

	direct, err := compositekey.TransformKDBX3(composite, bytes.Repeat([]byte{0x22}, 32), 50)
	require.NoError(t, err)
	require.Equal(t, direct, transformed)
}

func TestTransformKDBX4Argon2id(t *testing.T) {
	t.Parallel()

	composite := compositekey.Composite(compositekey.Components{Password: []byte("demopass")})

	dict := variantdict.New()
	dict.Set("$UUID", variantdict.BytesValue(header.KDFArgon2id[:]))
	dict.Set("S", variantdict.BytesValue(bytes.Repeat([]byte{0x33}, 32)))
	dict.Set("I", variantdict.Uint64Value(2))
	dict.Set("M", variantdict.Uint64Value(1048576))
	dict.Set("P", variantdict.Uint32Value(2))
	dict.Set("V", variantdict.Uint32Value(19))

	transformed, err := compositekey.TransformKDBX4(composite, dict)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, transformed)
}

func TestTransformKDBX4UnknownUUID(t *testing.T) {
	t.Parallel()

	composite := compositekey.Composite(compositekey.Components{Password: []byte("x")})
	dict := variantdict.New()
	dict.Set("$UUID", variantdict.BytesValue(bytes.Repeat([]byte{0xFF}, 16)))

	_, err := compositekey.TransformKDBX4(composite, dict)
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindKeyDerivation))
}

func TestParseKeyfileRawBinary(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{0x01}, 32)
	key, err := compositekey.ParseKeyfile(raw)
	require.NoError(t, err)
	require.Equal(t, raw, key)
}

func TestParseKeyfileHex(t *testing.T) {
	t.Parallel()

	hexKey := bytes.Repeat([]byte("ab"), 32)
	key, err := compositekey.ParseKeyfile(hexKey)
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestParseKeyfileFallbackHashesContent(t *testing.T) {
	t.Parallel()

	content := []byte("not a recognized keyfile format at all")
	key, err := compositekey.ParseKeyfile(content)
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestParseKeyfileXML(t *testing.T) {
	t.Parallel()

	xmlDoc := []byte(`<KeyFile><Key><Data>AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA=</Data></Key></KeyFile>`)
	key, err := compositekey.ParseKeyfile(xmlDoc)
	require.NoError(t, err)
	require.Len(t, key, 32)
	require.Equal(t, byte(0x01), key[0])
}
