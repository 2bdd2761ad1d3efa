package kdbxml

import "keepassdb/internal/innerstream"

// walkProtectedStrings visits every Protected EntryString.Value in a
// fixed canonical order: an entry's own Strings, then each History
// snapshot's Strings (oldest to newest, as stored), then recurse into
// child Groups. This is the element order KeePass 2 itself writes
// (entries before subgroups, strings before history), so the canonical
// walk consumes the keystream in the same document order the masking
// side did, for foreign files and for this package's own output alike.
func walkProtectedStrings(g *Group, visit func(*StringValue)) {
	for i := range g.Entries {
		walkEntryStrings(&g.Entries[i], visit)
	}
	for i := range g.Groups {
		walkProtectedStrings(&g.Groups[i], visit)
	}
}

func walkEntryStrings(e *Entry, visit func(*StringValue)) {
	for i := range e.Strings {
		if e.Strings[i].Value.Protected {
			visit(&e.Strings[i].Value)
		}
	}
	for i := range e.History {
		walkEntryStrings(&e.History[i], visit)
	}
}

// UnmaskProtectedValues replaces every Protected StringValue's Raw
// with the plaintext obtained by XORing it against ks, consuming the
// keystream in canonical document order. Call this once, immediately
// after unmarshalling a freshly decrypted document, before reading
// any protected field.
func UnmaskProtectedValues(root *Group, ks innerstream.Keystream) {
	walkProtectedStrings(root, func(v *StringValue) {
		v.Raw = ks.XOR(v.Raw)
	})
}

// MaskProtectedValues replaces every Protected StringValue's Raw with
// ciphertext XORed against ks, consuming the keystream in the same
// canonical order UnmaskProtectedValues uses. Call this once,
// immediately before marshalling a document for Save, on a fresh
// keystream generator seeded the same way Open will seed its own.
func MaskProtectedValues(root *Group, ks innerstream.Keystream) {
	walkProtectedStrings(root, func(v *StringValue) {
		v.Raw = ks.XOR(v.Raw)
	})
}
