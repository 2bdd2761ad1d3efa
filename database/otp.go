package database

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"keepassdb/apperr"
)

// otpFieldKey is the well-known string field KeePass plugins (KeeOTP,
// KeePassXC) use to store an otpauth:// URI on an entry.
const otpFieldKey = "otp"

// CurrentOTP computes the current RFC 6238 TOTP code for the
// otpauth:// URI stored in e's otp field. Returns apperr.KindNotSupported if
// the entry has no otp field or the URI selects anything other than
// TOTP (HOTP tokens are not time-based and have no "current" code).
func (e *EntryData) CurrentOTP() (string, error) {
	field, ok := e.Strings[otpFieldKey]
	if !ok || field.Value == "" {
		return "", apperr.NotSupported("database: entry has no otp field", nil)
	}

	key, err := otp.NewKeyFromURL(field.Value)
	if err != nil {
		return "", apperr.Corruption("database: malformed otp uri", err)
	}
	if key.Type() != "totp" {
		return "", apperr.NotSupported("database: only totp otp uris are supported, got "+key.Type(), nil)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		return "", apperr.Corruption("database: totp code generation failed", err)
	}
	return code, nil
}
