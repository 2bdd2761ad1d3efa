package cryptoprim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/internal/cryptoprim"
)

func TestAESKDFIsDeterministic(t *testing.T) {
	t.Parallel()

	var composite [32]byte
	copy(composite[:], []byte("0123456789abcdef0123456789abcde"))
	seed, err := cryptoprim.RandomBytes(32)
	require.NoError(t, err)

	out1, err := cryptoprim.AESKDF(composite, seed, 600)
	require.NoError(t, err)
	out2, err := cryptoprim.AESKDF(composite, seed, 600)
	require.NoError(t, err)

	require.Equal(t, out1, out2)
}

func TestAESKDFRoundsChangeOutput(t *testing.T) {
	t.Parallel()

	var composite [32]byte
	copy(composite[:], []byte("0123456789abcdef0123456789abcde"))
	seed, err := cryptoprim.RandomBytes(32)
	require.NoError(t, err)

	out1, err := cryptoprim.AESKDF(composite, seed, 1)
	require.NoError(t, err)
	out2, err := cryptoprim.AESKDF(composite, seed, 2)
	require.NoError(t, err)

	require.NotEqual(t, out1, out2)
}

func TestAESKDFRejectsBadSeedLength(t *testing.T) {
	t.Parallel()

	var composite [32]byte
	_, err := cryptoprim.AESKDF(composite, make([]byte, 16), 1)
	require.Error(t, err)
}

func TestArgon2dAndArgon2idDiffer(t *testing.T) {
	t.Parallel()

	salt, err := cryptoprim.RandomBytes(16)
	require.NoError(t, err)
	params := cryptoprim.Argon2Params{
		Salt:        salt,
		Iterations:  2,
		MemoryKiB:   8 * 1024,
		Parallelism: 1,
	}

	d, err := cryptoprim.Argon2d([]byte("hunter2"), params)
	require.NoError(t, err)
	id, err := cryptoprim.Argon2id([]byte("hunter2"), params)
	require.NoError(t, err)

	require.NotEqual(t, d, id)
}

func TestArgon2RejectsSecretAndAssocData(t *testing.T) {
	t.Parallel()

	salt, err := cryptoprim.RandomBytes(16)
	require.NoError(t, err)
	params := cryptoprim.Argon2Params{
		Salt:        salt,
		Iterations:  2,
		MemoryKiB:   8 * 1024,
		Parallelism: 1,
		Secret:      []byte("extra"),
	}

	_, err = cryptoprim.Argon2id([]byte("hunter2"), params)
	require.Error(t, err)
}

func TestArgon2RejectsMissingSalt(t *testing.T) {
	t.Parallel()

	_, err := cryptoprim.Argon2id([]byte("hunter2"), cryptoprim.Argon2Params{Iterations: 1, MemoryKiB: 1024, Parallelism: 1})
	require.Error(t, err)
}
