package database

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/subtle"
	"io"
	"time"

	"github.com/google/uuid"

	"keepassdb/apperr"
	"keepassdb/internal/blockstream"
	"keepassdb/internal/compositekey"
	"keepassdb/internal/cryptoprim"
	"keepassdb/internal/header"
	"keepassdb/internal/innerstream"
	"keepassdb/internal/kdblegacy"
	"keepassdb/internal/kdbxml"
	"keepassdb/internal/variantdict"
	"keepassdb/telemetry"
)

// Option adjusts a single Open or Save call.
type Option func(*callOptions)

type callOptions struct {
	svc *telemetry.Service
}

// WithTelemetry routes the call's logging (decode failures at Warn,
// successful opens/saves at Debug) through svc. Calls made without it
// discard their log records.
func WithTelemetry(svc *telemetry.Service) Option {
	return func(o *callOptions) { o.svc = svc }
}

func resolveOptions(opts []Option) *callOptions {
	o := &callOptions{svc: telemetry.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Database is the in-memory materialization of a KeePass file: its
// format configuration, metadata, node tree, deleted-objects
// tombstones, and binary attachment pool. It is what Open returns and
// the receiver of every tree mutator.
type Database struct {
	Config         Config
	Meta           MetaInfo
	Binaries       map[int]BinaryEntry
	DeletedObjects []DeletedObject

	arena *Arena
}

// New creates an empty database under cfg: a lone root group named
// after the default meta's database name, no entries, no binaries.
func New(cfg Config) *Database {
	db := &Database{Config: cfg, Meta: DefaultMeta(), Binaries: map[int]BinaryEntry{}}

	arena := newArena()
	root := &Node{
		Kind:  KindGroup,
		UUID:  uuid.Must(uuid.NewV7()),
		Times: newTimes(),
		Group: &GroupData{Name: db.Meta.DatabaseName},
	}
	arena.root = arena.alloc(root)
	db.arena = arena
	return db
}

// Root returns the root group's id.
func (db *Database) Root() NodeID { return db.arena.Root() }

// Node returns the node stored at id.
func (db *Database) Node(id NodeID) (*Node, bool) { return db.arena.Node(id) }

// FindByUUID resolves u to its NodeID, if present anywhere in the tree.
func (db *Database) FindByUUID(u uuid.UUID) (NodeID, bool) { return db.arena.FindByUUID(u) }

// Walk visits the whole tree in pre-order starting at the root,
// skipping nothing.
func (db *Database) Walk(fn func(*Node)) { db.arena.Walk(fn) }

// AddGroup creates a fresh Group under parentID and returns its id.
func (db *Database) AddGroup(parentID NodeID, name string) (NodeID, error) {
	node := &Node{
		Kind:  KindGroup,
		UUID:  uuid.Must(uuid.NewV7()),
		Times: newTimes(),
		Group: &GroupData{Name: name},
	}
	return db.arena.addChild(parentID, node)
}

// AddEntry creates a fresh Entry under parentID with the given title,
// username, and password strings (Password stored Protected) and
// returns its id. Callers needing more fields set them on the
// returned node's EntryData.Strings directly.
func (db *Database) AddEntry(parentID NodeID, title, username, password string) (NodeID, error) {
	node := &Node{
		Kind:  KindEntry,
		UUID:  uuid.Must(uuid.NewV7()),
		Times: newTimes(),
		Entry: &EntryData{
			Strings: map[string]StringField{
				"Title":    {Value: title},
				"UserName": {Value: username},
				"Password": {Value: password, Protected: true},
			},
			Binaries: map[string]BinaryRef{},
		},
	}
	return db.arena.addChild(parentID, node)
}

// Remove detaches id from its parent. If the database's recycle bin
// is enabled and id is not already inside it, the node is moved to
// the recycle-bin group instead of being tombstoned; the recycle-bin
// group itself is created on first use. Otherwise (recycle bin
// disabled, id already inside the bin, or id holding the bin) id is
// deleted from the tree and appended to DeletedObjects with a
// tombstone timestamp.
func (db *Database) Remove(id NodeID) error {
	if db.Meta.RecycleBinEnabled {
		bin, err := db.recycleBinGroup()
		if err != nil {
			return err
		}
		if bin != id && !db.arena.isDescendant(bin, id) && !db.arena.isDescendant(id, bin) {
			return db.arena.Move(id, bin)
		}
	}

	node, err := db.arena.Remove(id)
	if err != nil {
		return err
	}
	db.DeletedObjects = append(db.DeletedObjects, DeletedObject{UUID: node.UUID, DeletionTime: node.Times.LastModification})
	return nil
}

// PushHistory appends a snapshot of id's current entry data to its
// History list (oldest first, newest last), then trims the list to
// Meta.HistoryMaxItems entries and Meta.HistoryMaxSize bytes, oldest
// dropped first. A negative limit disables that cap. Call it before
// editing an entry so the pre-edit state is preserved; snapshots are
// value copies and never carry history of their own.
func (db *Database) PushHistory(id NodeID) error {
	node, ok := db.arena.Node(id)
	if !ok || node.Kind != KindEntry {
		return apperr.Invariant("database: push_history target is not an entry", nil)
	}

	snapshot := cloneEntryData(node.Entry)
	node.Entry.History = append(node.Entry.History, *snapshot)
	db.trimHistory(node.Entry)
	return nil
}

func cloneEntryData(e *EntryData) *EntryData {
	cp := *e
	cp.Strings = make(map[string]StringField, len(e.Strings))
	for k, v := range e.Strings {
		cp.Strings[k] = v
	}
	cp.Binaries = make(map[string]BinaryRef, len(e.Binaries))
	for k, v := range e.Binaries {
		cp.Binaries[k] = v
	}
	cp.AutoType.Associations = append([]Association(nil), e.AutoType.Associations...)
	cp.History = nil
	return &cp
}

func (db *Database) trimHistory(e *EntryData) {
	if maxItems := db.Meta.HistoryMaxItems; maxItems >= 0 {
		for len(e.History) > int(maxItems) {
			e.History = e.History[1:]
		}
	}
	if maxSize := db.Meta.HistoryMaxSize; maxSize >= 0 {
		for len(e.History) > 0 && historySize(e.History) > maxSize {
			e.History = e.History[1:]
		}
	}
}

func historySize(h []EntryData) int64 {
	var total int64
	for i := range h {
		for k, v := range h[i].Strings {
			total += int64(len(k) + len(v.Value))
		}
	}
	return total
}

func (db *Database) recycleBinGroup() (NodeID, error) {
	if db.Meta.RecycleBinUUID != uuid.Nil {
		if id, ok := db.arena.FindByUUID(db.Meta.RecycleBinUUID); ok {
			return id, nil
		}
	}
	id, err := db.AddGroup(db.Root(), "Recycle Bin")
	if err != nil {
		return 0, err
	}
	node, _ := db.arena.Node(id)
	db.Meta.RecycleBinUUID = node.UUID
	db.Meta.RecycleBinChanged = node.Times.Creation
	return id, nil
}

// Open dispatches on r's magic to the KDB, KDBX3, or KDBX4 pipeline,
// decrypting, authenticating, decompressing, and parsing the inner
// document into a fully materialized Database. Secret key material is
// zeroized before Open returns, success or failure.
func Open(r io.Reader, key *DatabaseKey, opts ...Option) (*Database, error) {
	o := resolveOptions(opts)
	ctx := context.Background()
	start := time.Now()

	magic, err := header.ReadMagic(r)
	if err != nil {
		o.svc.LogDecodeError(ctx, "open", err)
		return nil, err
	}

	var db *Database
	switch magic.Format {
	case header.FormatKDB:
		db, err = openKDB(r, key)
	case header.FormatKDBX3:
		db, err = openKDBX3(r, key)
	case header.FormatKDBX4:
		db, err = openKDBX4(r, key)
	default:
		err = apperr.FormatVersion("database: unrecognized file format", nil)
	}
	if err != nil {
		o.svc.LogDecodeError(ctx, "open "+magic.Format.String(), err)
		return nil, err
	}

	o.svc.LogOpen(ctx, magic.Format.String(), time.Since(start))
	return db, nil
}

func openKDB(r io.Reader, key *DatabaseKey) (*Database, error) {
	comps, err := key.components([32]byte{})
	if err != nil {
		return nil, err
	}
	defer cryptoprim.Zeroize(comps.Password)

	decoded, err := kdblegacy.Decode(r, comps)
	if err != nil {
		return nil, err
	}
	return fromKDBLegacy(decoded)
}

func openKDBX3(r io.Reader, key *DatabaseKey) (*Database, error) {
	outer, _, err := header.DecodeOuter(r, false)
	if err != nil {
		return nil, err
	}

	seed, err := kdfSeed(outer)
	comps, derr := key.components(seed)
	if derr != nil {
		return nil, derr
	}
	defer cryptoprim.Zeroize(comps.Password)
	if err != nil {
		return nil, err
	}

	composite := compositekey.Composite(comps)
	defer cryptoprim.Zeroize(composite[:])
	transformed, err := compositekey.TransformKDBX3(composite, outer.TransformSeed, outer.TransformRounds)
	if err != nil {
		return nil, err
	}
	defer cryptoprim.Zeroize(transformed[:])
	masterKey := compositekey.MasterKey(outer.MasterSeed, transformed)
	defer cryptoprim.Zeroize(masterKey[:])

	plaintext, err := decryptOuter(r, outer, masterKey[:])
	if err != nil {
		return nil, err
	}
	if len(plaintext) < len(outer.StreamStartBytes) ||
		subtle.ConstantTimeCompare(plaintext[:len(outer.StreamStartBytes)], outer.StreamStartBytes) == 0 {
		return nil, apperr.Authentication("database: stream start bytes mismatch (wrong key or corrupt file)", nil)
	}
	plaintext = plaintext[len(outer.StreamStartBytes):]

	blocks, err := blockstream.DecodeHashed(bytes.NewReader(plaintext))
	if err != nil {
		return nil, err
	}
	payload, err := decompress(blocks, outer.CompressionFlags)
	if err != nil {
		return nil, err
	}

	ks, err := innerstream.New(innerstream.CipherID(outer.InnerRandomStreamID), outer.InnerRandomStreamKey)
	if err != nil {
		return nil, err
	}
	doc, err := kdbxml.Decode(payload, ks)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Format:        header.FormatKDBX3,
		CipherID:      outer.CipherID,
		Compression:   outer.CompressionFlags,
		InnerStreamID: innerstream.CipherID(outer.InnerRandomStreamID),
	}
	return fromKDBXML(doc, nil, cfg)
}

func openKDBX4(r io.Reader, key *DatabaseKey) (*Database, error) {
	outer, rawHeader, err := header.DecodeOuter(r, true)
	if err != nil {
		return nil, err
	}

	var wantSHA [32]byte
	if _, err := io.ReadFull(r, wantSHA[:]); err != nil {
		return nil, apperr.Corruption("database: truncated header sha256", err)
	}
	var wantHMAC [32]byte
	if _, err := io.ReadFull(r, wantHMAC[:]); err != nil {
		return nil, apperr.Corruption("database: truncated header hmac", err)
	}
	if err := header.VerifyHeaderSHA256(rawHeader, wantSHA); err != nil {
		return nil, err
	}

	seed, err := kdfSeed(outer)
	comps, derr := key.components(seed)
	if derr != nil {
		return nil, derr
	}
	defer cryptoprim.Zeroize(comps.Password)
	if err != nil {
		return nil, err
	}

	composite := compositekey.Composite(comps)
	defer cryptoprim.Zeroize(composite[:])
	transformed, err := compositekey.TransformKDBX4(composite, outer.KdfParameters)
	if err != nil {
		return nil, err
	}
	defer cryptoprim.Zeroize(transformed[:])

	keyer := blockstream.NewHMACKeyer(outer.MasterSeed, transformed[:])
	if err := header.VerifyHeaderHMAC(rawHeader, keyer.WholeStreamHMACKey(), wantHMAC); err != nil {
		return nil, err
	}

	masterKey := compositekey.MasterKey(outer.MasterSeed, transformed)
	defer cryptoprim.Zeroize(masterKey[:])

	blocks, err := blockstream.DecodeHMAC(r, outer.MasterSeed, transformed[:])
	if err != nil {
		return nil, err
	}
	decrypted, err := decryptBody(blocks, outer.CipherID, masterKey[:], outer.EncryptionIV)
	if err != nil {
		return nil, err
	}
	payload, err := decompress(decrypted, outer.CompressionFlags)
	if err != nil {
		return nil, err
	}

	body := bytes.NewReader(payload)
	inner, err := header.DecodeInner(body)
	if err != nil {
		return nil, err
	}
	rest, err := io.ReadAll(body)
	if err != nil {
		return nil, apperr.IO("database: reading xml payload", err)
	}

	ks, err := innerstream.New(innerstream.CipherID(inner.StreamID), inner.StreamKey)
	if err != nil {
		return nil, err
	}
	doc, err := kdbxml.Decode(rest, ks)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Format:        header.FormatKDBX4,
		CipherID:      outer.CipherID,
		Compression:   outer.CompressionFlags,
		KdfParams:     outer.KdfParameters,
		InnerStreamID: innerstream.CipherID(inner.StreamID),
	}
	return fromKDBXML(doc, inner.Binaries, cfg)
}

// kdfSeed extracts the 32-byte seed a challenge-response provider
// signs. KDBX3 carries none dedicated to this purpose, so the
// transform seed (always present) stands in; KDBX4 uses the AES-KDF
// or Argon2 "S" parameter when present.
func kdfSeed(outer *header.Outer) ([32]byte, error) {
	var seed [32]byte
	switch {
	case len(outer.TransformSeed) > 0:
		h := cryptoprim.SHA256(outer.TransformSeed)
		copy(seed[:], h[:])
	case outer.KdfParameters != nil:
		if v, ok := outer.KdfParameters.Get("S"); ok {
			if s, err := v.Bytes(); err == nil {
				h := cryptoprim.SHA256(s)
				copy(seed[:], h[:])
			}
		}
	}
	return seed, nil
}

func decryptOuter(r io.Reader, outer *header.Outer, masterKey []byte) ([]byte, error) {
	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.IO("database: reading encrypted payload", err)
	}
	return decryptBody(ciphertext, outer.CipherID, masterKey, outer.EncryptionIV)
}

func decryptBody(ciphertext []byte, cipherID uuid.UUID, masterKey, iv []byte) ([]byte, error) {
	switch cipherID {
	case header.CipherAES256CBC:
		padded, err := cryptoprim.AESCBCDecrypt(masterKey, iv, ciphertext)
		if err != nil {
			return nil, apperr.Corruption("database: aes-cbc decrypt failed", err)
		}
		plain, err := cryptoprim.PKCS7Unpad(padded, 16)
		if err != nil {
			return nil, apperr.Authentication("database: invalid padding (wrong key or corrupt file)", err)
		}
		return plain, nil
	case header.CipherTwofishCBC:
		padded, err := cryptoprim.TwofishCBCDecrypt(masterKey, iv, ciphertext)
		if err != nil {
			return nil, apperr.Corruption("database: twofish-cbc decrypt failed", err)
		}
		plain, err := cryptoprim.PKCS7Unpad(padded, 16)
		if err != nil {
			return nil, apperr.Authentication("database: invalid padding (wrong key or corrupt file)", err)
		}
		return plain, nil
	case header.CipherChaCha20:
		plain, err := cryptoprim.ChaCha20XOR(masterKey, iv, ciphertext)
		if err != nil {
			return nil, apperr.Corruption("database: chacha20 decrypt failed", err)
		}
		return plain, nil
	default:
		return nil, apperr.NotSupported("database: unknown cipher id "+cipherID.String(), nil)
	}
}

func encryptBody(plaintext []byte, cipherID uuid.UUID, masterKey, iv []byte) ([]byte, error) {
	switch cipherID {
	case header.CipherAES256CBC:
		return cryptoprim.AESCBCEncrypt(masterKey, iv, cryptoprim.PKCS7Pad(plaintext, 16))
	case header.CipherTwofishCBC:
		return cryptoprim.TwofishCBCEncrypt(masterKey, iv, cryptoprim.PKCS7Pad(plaintext, 16))
	case header.CipherChaCha20:
		return cryptoprim.ChaCha20XOR(masterKey, iv, plaintext)
	default:
		return nil, apperr.NotSupported("database: unknown cipher id "+cipherID.String(), nil)
	}
}

func decompress(data []byte, flag header.CompressionFlag) ([]byte, error) {
	if flag != header.CompressionGzip {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Corruption("database: malformed gzip stream", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, apperr.Corruption("database: gzip decompress failed", err)
	}
	return out, nil
}

func compress(data []byte, flag header.CompressionFlag) ([]byte, error) {
	if flag != header.CompressionGzip {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, apperr.IO("database: gzip compress failed", err)
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.IO("database: gzip compress failed", err)
	}
	return buf.Bytes(), nil
}

// Save serializes db as a KDBX4 file to w under key. KDBX4 is the only
// writable format: a non-KDBX4 Config is rejected with NotSupported
// rather than silently upgraded. Every save generates a fresh
// MasterSeed, EncryptionIV, and KDF salt/seed, so two successive saves
// of an unmodified Database are never byte-identical.
func (db *Database) Save(w io.Writer, key *DatabaseKey, opts ...Option) error {
	o := resolveOptions(opts)
	start := time.Now()

	if db.Config.Format != header.FormatKDBX4 {
		return apperr.NotSupported("database: save only supports kdbx4", nil)
	}

	masterSeed, err := cryptoprim.RandomBytes(32)
	if err != nil {
		return apperr.IO("database: generating master seed", err)
	}
	iv, err := cryptoprim.RandomBytes(ivSize(db.Config.CipherID))
	if err != nil {
		return apperr.IO("database: generating encryption iv", err)
	}

	kdfParams, err := rekeyKDFParams(db.Config.KdfParams)
	if err != nil {
		return err
	}

	seed, err := kdfSeed(&header.Outer{KdfParameters: kdfParams})
	if err != nil {
		return err
	}
	comps, err := key.components(seed)
	if err != nil {
		return err
	}
	defer cryptoprim.Zeroize(comps.Password)

	composite := compositekey.Composite(comps)
	defer cryptoprim.Zeroize(composite[:])
	transformed, err := compositekey.TransformKDBX4(composite, kdfParams)
	if err != nil {
		return err
	}
	defer cryptoprim.Zeroize(transformed[:])
	masterKey := compositekey.MasterKey(masterSeed, transformed)
	defer cryptoprim.Zeroize(masterKey[:])

	innerKey, err := cryptoprim.RandomBytes(64)
	if err != nil {
		return apperr.IO("database: generating inner stream key", err)
	}
	ks, err := innerstream.New(db.Config.InnerStreamID, innerKey)
	if err != nil {
		return err
	}

	doc, binaries := toKDBXML(db)
	xmlPayload, err := kdbxml.Encode(doc, ks)
	if err != nil {
		return err
	}

	inner := &header.Inner{
		StreamID:  uint32(db.Config.InnerStreamID),
		StreamKey: innerKey,
		Binaries:  binaries,
	}
	payload := append(header.EncodeInner(inner), xmlPayload...)

	compressed, err := compress(payload, db.Config.Compression)
	if err != nil {
		return err
	}
	ciphertext, err := encryptBody(compressed, db.Config.CipherID, masterKey[:], iv)
	if err != nil {
		return err
	}

	outer := &header.Outer{
		CipherID:         db.Config.CipherID,
		CompressionFlags: db.Config.Compression,
		MasterSeed:       masterSeed,
		EncryptionIV:     iv,
		KdfParameters:    kdfParams,
	}
	rawHeader := header.EncodeOuter(outer, true)

	magic := []byte{0x03, 0xD9, 0xA2, 0x9A, 0x67, 0xFB, 0x4B, 0xB5, 0x00, 0x00, 0x04, 0x00}
	if _, err := w.Write(magic); err != nil {
		return apperr.IO("database: writing magic", err)
	}
	if _, err := w.Write(rawHeader); err != nil {
		return apperr.IO("database: writing outer header", err)
	}

	sha := cryptoprim.SHA256(rawHeader)
	if _, err := w.Write(sha[:]); err != nil {
		return apperr.IO("database: writing header sha256", err)
	}

	keyer := blockstream.NewHMACKeyer(masterSeed, transformed[:])
	hmac := cryptoprim.HMACSHA256(keyer.WholeStreamHMACKey(), rawHeader)
	if _, err := w.Write(hmac[:]); err != nil {
		return apperr.IO("database: writing header hmac", err)
	}

	if err := blockstream.EncodeHMAC(w, ciphertext, masterSeed, transformed[:]); err != nil {
		return err
	}

	o.svc.LogSave(context.Background(), db.Config.Format.String(), time.Since(start))
	return nil
}

func ivSize(cipherID uuid.UUID) int {
	if cipherID == header.CipherChaCha20 {
		return 12
	}
	return 16
}

// rekeyKDFParams returns a copy of params with a freshly generated
// salt/seed ("S"): the KDF is re-salted on every save, not just the
// master seed. AES-KDF's seed and Argon2's salt are both stored under
// key "S", so one path covers every $UUID selector.
func rekeyKDFParams(params *variantdict.Dict) (*variantdict.Dict, error) {
	if params == nil {
		return nil, apperr.KeyDerivation("database: save requires kdf parameters", nil)
	}
	saltVal, ok := params.Get("S")
	if !ok {
		return nil, apperr.KeyDerivation("database: kdf parameters missing S", nil)
	}
	oldSalt, err := saltVal.Bytes()
	if err != nil {
		return nil, apperr.KeyDerivation("database: kdf S is not a byte array", err)
	}
	newSalt, err := cryptoprim.RandomBytes(len(oldSalt))
	if err != nil {
		return nil, apperr.IO("database: generating kdf salt", err)
	}

	fresh := variantdict.New()
	for _, k := range params.Keys() {
		v, _ := params.Get(k)
		if k == "S" {
			fresh.Set(k, variantdict.BytesValue(newSalt))
		} else {
			fresh.Set(k, v)
		}
	}
	return fresh, nil
}
