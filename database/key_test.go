package database_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/database"
)

type fixedProvider struct {
	response [20]byte
}

func (p fixedProvider) Challenge([32]byte) ([20]byte, error) {
	return p.response, nil
}

func TestDatabaseKeyBuilderOrderIndependent(t *testing.T) {
	t.Parallel()

	keyfile := bytes.Repeat([]byte{0x11}, 32)

	k1, err := database.NewDatabaseKey().WithPassword("pw").WithKeyfile(bytes.NewReader(keyfile))
	require.NoError(t, err)

	k2 := database.NewDatabaseKey()
	k2, err = k2.WithKeyfile(bytes.NewReader(keyfile))
	require.NoError(t, err)
	k2.WithPassword("pw")

	db := database.New(database.DefaultConfig())
	var buf1, buf2 bytes.Buffer
	require.NoError(t, db.Save(&buf1, k1))
	require.NoError(t, db.Save(&buf2, k2))

	// Regardless of call order, both keys must decrypt each other's
	// output, since presence of each component (not call order)
	// determines the derived key.
	_, err = database.Open(bytes.NewReader(buf1.Bytes()), k2)
	require.NoError(t, err)
	_, err = database.Open(bytes.NewReader(buf2.Bytes()), k1)
	require.NoError(t, err)
}

func TestDatabaseKeyWithChallengeResponse(t *testing.T) {
	t.Parallel()

	provider := fixedProvider{response: [20]byte{1, 2, 3}}
	key := database.NewDatabaseKey().WithPassword("pw").WithChallengeResponse(provider)

	db := database.New(database.DefaultConfig())
	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, key))

	_, err := database.Open(bytes.NewReader(buf.Bytes()), database.NewDatabaseKey().WithPassword("pw"))
	require.Error(t, err, "opening without the challenge-response component must fail like a wrong password")

	_, err = database.Open(bytes.NewReader(buf.Bytes()), database.NewDatabaseKey().WithPassword("pw").WithChallengeResponse(provider))
	require.NoError(t, err)
}
