package innerstream_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/internal/innerstream"
)

func TestChaCha20RoundTripAcrossMultipleFields(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x11}, 32)
	fields := [][]byte{
		[]byte("Password1!"),
		[]byte(""),
		[]byte("a much longer secret note field value, spanning more than one chacha20 block boundary to exercise counter continuation"),
		[]byte("tail"),
	}

	enc, err := innerstream.New(innerstream.CipherChaCha20, key)
	require.NoError(t, err)
	dec, err := innerstream.New(innerstream.CipherChaCha20, key)
	require.NoError(t, err)

	for _, f := range fields {
		ct := enc.XOR(f)
		if len(f) > 0 {
			require.NotEqual(t, f, ct)
		}
		pt := dec.XOR(ct)
		require.Equal(t, f, pt)
	}
}

func TestSalsa20RoundTripAcrossMultipleFields(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x22}, 32)
	fields := [][]byte{
		[]byte("short"),
		bytes.Repeat([]byte{0x01, 0x02, 0x03}, 40), // crosses a 64-byte block boundary
		[]byte("final field"),
	}

	enc, err := innerstream.New(innerstream.CipherSalsa20, key)
	require.NoError(t, err)
	dec, err := innerstream.New(innerstream.CipherSalsa20, key)
	require.NoError(t, err)

	for _, f := range fields {
		ct := enc.XOR(f)
		require.NotEqual(t, f, ct)
		pt := dec.XOR(ct)
		require.Equal(t, f, pt)
	}
}

// TestOrderMatters confirms the stated invariant: consuming the same
// ciphertexts out of order does not recover the original plaintexts.
func TestOrderMatters(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x33}, 32)
	a := []byte("first field value")
	b := []byte("second field value")

	enc, err := innerstream.New(innerstream.CipherChaCha20, key)
	require.NoError(t, err)
	_ = enc.XOR(a)
	ctB := enc.XOR(b)

	dec, err := innerstream.New(innerstream.CipherChaCha20, key)
	require.NoError(t, err)
	// Consume out of order: decrypt ctB first.
	wrong := dec.XOR(ctB)
	require.NotEqual(t, b, wrong)
}

func TestNoneCipherIsIdentity(t *testing.T) {
	t.Parallel()

	ks, err := innerstream.New(innerstream.CipherNone, nil)
	require.NoError(t, err)

	in := []byte("plaintext unchanged")
	require.Equal(t, in, ks.XOR(in))
}

func TestUnknownCipherIDRejected(t *testing.T) {
	t.Parallel()

	_, err := innerstream.New(innerstream.CipherID(99), []byte("key"))
	require.Error(t, err)
}

func TestCipherIDString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Salsa20", innerstream.CipherSalsa20.String())
	require.Equal(t, "ChaCha20", innerstream.CipherChaCha20.String())
	require.Equal(t, "None", innerstream.CipherNone.String())
}
