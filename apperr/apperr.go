// Package apperr defines the typed error kinds callers use to react
// differently to failures opening or saving a KeePass database, per the
// classification callers need: IO, FormatVersion, Corruption,
// Authentication, KeyDerivation, XmlSchema, Invariant, NotSupported.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindIO wraps an underlying reader/writer failure.
	KindIO Kind = iota
	// KindFormatVersion is returned when the magic is recognized but the
	// major version is unsupported.
	KindFormatVersion
	// KindCorruption is a structural decode failure: bad TLV length,
	// missing terminator, unknown variant-dictionary type, SHA
	// mismatch, gzip error, malformed XML.
	KindCorruption
	// KindAuthentication is an HMAC mismatch (KDBX4) or StreamStartBytes
	// mismatch (KDBX3); reported identically to "incorrect key" since
	// the two are cryptographically indistinguishable.
	KindAuthentication
	// KindKeyDerivation covers invalid or unsupported KDF parameters.
	KindKeyDerivation
	// KindXmlSchema covers a required element missing, a duplicate
	// UUID, invalid base64, or an out-of-range timestamp.
	KindXmlSchema
	// KindInvariant covers cycle/duplicate-UUID/missing-binary-ref
	// mutator rejections.
	KindInvariant
	// KindNotSupported covers writing a non-KDBX4 format or an unknown
	// cipher UUID.
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindFormatVersion:
		return "FormatVersion"
	case KindCorruption:
		return "Corruption"
	case KindAuthentication:
		return "Authentication"
	case KindKeyDerivation:
		return "KeyDerivation"
	case KindXmlSchema:
		return "XmlSchema"
	case KindInvariant:
		return "Invariant"
	case KindNotSupported:
		return "NotSupported"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the package boundary.
// It always wraps exactly one Kind sentinel so callers can branch with
// errors.Is against the Err* sentinels below, and Unwrap exposes the
// lower-level cause (an io error, an xml error, …) when there is one.
type Error struct {
	Kind    Kind
	Summary string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Summary, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, apperr.ErrCorruption) match any *Error of that
// Kind regardless of Summary/Err, by comparing against the Kind sentinel.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*kindSentinel)
	if !ok {
		return false
	}
	return e.Kind == sentinel.kind
}

type kindSentinel struct {
	kind Kind
}

func (s *kindSentinel) Error() string { return "apperr: " + s.kind.String() }

// Sentinels usable with errors.Is(err, apperr.ErrXxx) without needing to
// unwrap to a concrete *Error first.
var (
	ErrIO             error = &kindSentinel{KindIO}
	ErrFormatVersion  error = &kindSentinel{KindFormatVersion}
	ErrCorruption     error = &kindSentinel{KindCorruption}
	ErrAuthentication error = &kindSentinel{KindAuthentication}
	ErrKeyDerivation  error = &kindSentinel{KindKeyDerivation}
	ErrXmlSchema      error = &kindSentinel{KindXmlSchema}
	ErrInvariant      error = &kindSentinel{KindInvariant}
	ErrNotSupported   error = &kindSentinel{KindNotSupported}
)

// New builds an *Error of the given kind wrapping cause (which may be
// nil for a pure validation failure with no lower-level error).
func New(kind Kind, summary string, cause error) *Error {
	return &Error{Kind: kind, Summary: summary, Err: cause}
}

// IO wraps an underlying reader/writer error.
func IO(summary string, cause error) *Error { return New(KindIO, summary, cause) }

// FormatVersion reports a recognized-but-unsupported major version.
func FormatVersion(summary string, cause error) *Error {
	return New(KindFormatVersion, summary, cause)
}

// Corruption reports a structural decode failure.
func Corruption(summary string, cause error) *Error {
	return New(KindCorruption, summary, cause)
}

// Authentication reports an HMAC/StreamStartBytes mismatch.
func Authentication(summary string, cause error) *Error {
	return New(KindAuthentication, summary, cause)
}

// KeyDerivation reports invalid or unsupported KDF parameters.
func KeyDerivation(summary string, cause error) *Error {
	return New(KindKeyDerivation, summary, cause)
}

// XmlSchema reports a required-element/format violation in the inner XML.
func XmlSchema(summary string, cause error) *Error {
	return New(KindXmlSchema, summary, cause)
}

// Invariant reports a mutator rejecting a cycle, duplicate UUID, or
// dangling binary reference.
func Invariant(summary string, cause error) *Error {
	return New(KindInvariant, summary, cause)
}

// NotSupported reports an operation the format/cipher doesn't allow.
func NotSupported(summary string, cause error) *Error {
	return New(KindNotSupported, summary, cause)
}

// IsKind reports whether err is an *Error (directly or via Unwrap chain)
// of the given Kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsAppErr reports whether err is a non-nil *Error produced by this
// package, anywhere in its Unwrap chain.
func IsAppErr(err error) bool {
	var appErr *Error
	return err != nil && errors.As(err, &appErr)
}
