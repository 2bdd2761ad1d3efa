package variantdict_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"keepassdb/apperr"
	"keepassdb/internal/variantdict"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	d := variantdict.New()
	d.Set("$UUID", variantdict.BytesValue([]byte{0x01, 0x02, 0x03, 0x04}))
	d.Set("S", variantdict.BytesValue(make([]byte, 32)))
	d.Set("P", variantdict.Uint32Value(2))
	d.Set("M", variantdict.Uint64Value(1048576))
	d.Set("I", variantdict.Uint64Value(2))
	d.Set("V", variantdict.Int32Value(19))

	encoded := d.Encode()
	decoded, err := variantdict.Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, d.Keys(), decoded.Keys())

	p, ok := decoded.Get("P")
	require.True(t, ok)
	pVal, err := p.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(2), pVal)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	t.Parallel()

	data := []byte{0x00, 0x01, 0xFF, 0x01, 0x00, 0x00, 0x00, 'K', 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := variantdict.Decode(data)
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindCorruption))
}

func TestDecodeRejectsWrongMajorVersion(t *testing.T) {
	t.Parallel()

	data := []byte{0x00, 0x02, 0x00} // version = 0x0200 => major 2
	_, err := variantdict.Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()

	d := variantdict.New()
	d.Set("P", variantdict.Uint32Value(1))
	encoded := d.Encode()

	// Append a second "P" record before the terminator by re-encoding
	// by hand: strip the terminator, append another uint32 "P" record,
	// then a fresh terminator.
	withoutTerminator := encoded[:len(encoded)-1]
	extra := []byte{0x04, 0x01, 0x00, 0x00, 0x00, 'P', 0x04, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	tampered := append(append([]byte{}, withoutTerminator...), extra...)
	tampered = append(tampered, 0x00)

	_, err := variantdict.Decode(tampered)
	require.Error(t, err)
}

// TestRoundTripProperty: decode(encode(d)) == d for all valid d.
func TestRoundTripProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	keyGen := gen.RegexMatch(`^[A-Za-z][A-Za-z0-9]{0,8}$`)

	properties.Property("uint32 round-trips", prop.ForAll(
		func(key string, value uint32) bool {
			d := variantdict.New()
			d.Set(key, variantdict.Uint32Value(value))

			decoded, err := variantdict.Decode(d.Encode())
			if err != nil {
				return false
			}
			got, ok := decoded.Get(key)
			if !ok {
				return false
			}
			gotVal, err := got.Uint32()
			return err == nil && gotVal == value
		},
		keyGen,
		gen.UInt32(),
	))

	properties.Property("string round-trips", prop.ForAll(
		func(key string, value string) bool {
			d := variantdict.New()
			d.Set(key, variantdict.StringValue(value))

			decoded, err := variantdict.Decode(d.Encode())
			if err != nil {
				return false
			}
			got, ok := decoded.Get(key)
			if !ok {
				return false
			}
			gotVal, err := got.String()
			return err == nil && gotVal == value
		},
		keyGen,
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestEncodingIsDeterministicForEqualInsertionOrder(t *testing.T) {
	t.Parallel()

	build := func() *variantdict.Dict {
		d := variantdict.New()
		d.Set("$UUID", variantdict.BytesValue([]byte{0xAA}))
		d.Set("R", variantdict.Uint64Value(6000))
		return d
	}

	require.Equal(t, build().Encode(), build().Encode())
}
