package kdblegacy

import (
	"bytes"
	"crypto/subtle"
	"io"

	"keepassdb/apperr"
	"keepassdb/internal/compositekey"
	"keepassdb/internal/cryptoprim"
)

// TreeGroup is a Group nested under its Level-implied parent, with
// the entries Decode attached to it by GroupID.
type TreeGroup struct {
	*Group
	Children []*TreeGroup
	Entries  []*Entry
}

// DecodedFile is the result of a successful Decode: the forest of
// top-level groups (a well-formed KDB file normally has exactly one,
// but the format does not require it) plus any entry whose GroupID
// names no group actually present, kept rather than dropped so the
// caller can decide how to surface the inconsistency.
type DecodedFile struct {
	Roots             []*TreeGroup
	UnassignedEntries []*Entry
}

// Decode reads the remainder of a KDB file (r positioned immediately
// after the 12-byte magic/version preamble header.ReadMagic already
// consumed) and returns the decoded group/entry forest. key supplies
// whichever of password/keyfile/challenge-response the caller has
// available; Composite/TransformKDBX3 are the same composite-key and
// AES-KDF machinery KDBX3 uses; KDB has no Argon2 option.
func Decode(r io.Reader, key compositekey.Components) (*DecodedFile, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	composite := compositekey.Composite(key)
	transformed, err := compositekey.TransformKDBX3(composite, hdr.TransformSeed, hdr.KeyRounds)
	if err != nil {
		return nil, err
	}
	masterKey := compositekey.MasterKey(hdr.MasterSeed, transformed)

	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.IO("kdblegacy: reading encrypted payload", err)
	}

	useAES, useTwofish, err := hdr.Cipher()
	if err != nil {
		return nil, err
	}

	var padded []byte
	if useAES {
		padded, err = cryptoprim.AESCBCDecrypt(masterKey[:], hdr.EncryptionIV, ciphertext)
	} else if useTwofish {
		padded, err = cryptoprim.TwofishCBCDecrypt(masterKey[:], hdr.EncryptionIV, ciphertext)
	}
	if err != nil {
		return nil, apperr.Corruption("kdblegacy: decrypt failed", err)
	}

	plaintext, err := cryptoprim.PKCS7Unpad(padded, 16)
	if err != nil {
		// An unpadding failure here is cryptographically indistinguishable
		// from a wrong key, same as KDBX3's StreamStartBytes check.
		return nil, apperr.Authentication("kdblegacy: invalid padding (wrong key or corrupt file)", err)
	}

	gotHash := cryptoprim.SHA256(plaintext)
	if subtle.ConstantTimeCompare(gotHash[:], hdr.ContentsHash[:]) == 0 {
		return nil, apperr.Authentication("kdblegacy: contents hash mismatch (wrong key or corrupt file)", nil)
	}

	body := bytes.NewReader(plaintext)

	groups := make([]*Group, 0, hdr.GroupCount)
	for i := uint32(0); i < hdr.GroupCount; i++ {
		g, err := readGroup(body)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	entries := make([]*Entry, 0, hdr.EntryCount)
	for i := uint32(0); i < hdr.EntryCount; i++ {
		e, err := readEntry(body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return buildTree(groups, entries), nil
}

func buildTree(groups []*Group, entries []*Entry) *DecodedFile {
	var roots []*TreeGroup
	byID := map[uint32]*TreeGroup{}
	parentAt := map[uint16]*TreeGroup{}

	for _, g := range groups {
		node := &TreeGroup{Group: g}
		byID[g.ID] = node

		if g.Level == 0 {
			roots = append(roots, node)
		} else if parent, ok := parentAt[g.Level-1]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			// Malformed level jump (child before any parent at the
			// previous level): treat as a root rather than lose it.
			roots = append(roots, node)
		}

		parentAt[g.Level] = node
		for lvl := range parentAt {
			if lvl > g.Level {
				delete(parentAt, lvl)
			}
		}
	}

	df := &DecodedFile{Roots: roots}
	for _, e := range entries {
		if node, ok := byID[e.GroupID]; ok {
			node.Entries = append(node.Entries, e)
		} else {
			df.UnassignedEntries = append(df.UnassignedEntries, e)
		}
	}
	return df
}
