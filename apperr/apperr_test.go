package apperr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/apperr"
)

func TestIsKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		kind     apperr.Kind
		expected bool
	}{
		{"corruption-matches", apperr.Corruption("bad tlv", nil), apperr.KindCorruption, true},
		{"authentication-matches", apperr.Authentication("hmac mismatch", nil), apperr.KindAuthentication, true},
		{"mismatched-kind", apperr.Corruption("bad tlv", nil), apperr.KindAuthentication, false},
		{"random-error", errors.New("boom"), apperr.KindCorruption, false},
		{"nil-error", nil, apperr.KindCorruption, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expected, apperr.IsKind(tc.err, tc.kind))
		})
	}
}

func TestIsAppErr(t *testing.T) {
	t.Parallel()

	require.True(t, apperr.IsAppErr(apperr.Invariant("cycle", nil)))
	require.False(t, apperr.IsAppErr(errors.New("random error")))
	require.False(t, apperr.IsAppErr(nil))
}

func TestErrorsIsSentinel(t *testing.T) {
	t.Parallel()

	err := apperr.Authentication("wrong password", errors.New("hmac mismatch"))
	require.True(t, errors.Is(err, apperr.ErrAuthentication))
	require.False(t, errors.Is(err, apperr.ErrCorruption))
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("gzip: invalid header")
	err := apperr.Corruption("decompress failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := apperr.KeyDerivation("unsupported kdf uuid", nil)
	require.Contains(t, err.Error(), "KeyDerivation")
	require.Contains(t, err.Error(), "unsupported kdf uuid")
}
