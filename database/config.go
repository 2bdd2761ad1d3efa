package database

import (
	"time"

	"github.com/google/uuid"

	"keepassdb/internal/cryptoprim"
	"keepassdb/internal/header"
	"keepassdb/internal/innerstream"
	"keepassdb/internal/kdbxml"
	"keepassdb/internal/variantdict"
)

// Config is a database's on-disk format configuration: the cipher,
// compression, KDF, and inner-stream selectors that Open reads off
// the file header (or Save writes back out). New databases default to
// KDBX4 with AES-256 KDF and ChaCha20 as the inner stream, the same
// defaults KeePass itself picks for a freshly created file.
type Config struct {
	Format        header.Format
	CipherID      uuid.UUID
	Compression   header.CompressionFlag
	KdfParams     *variantdict.Dict
	InnerStreamID innerstream.CipherID
}

// DefaultConfig returns the Config a freshly created database uses:
// KDBX4, AES-256-CBC, gzip compression, AES-KDF at a conservative
// round count, ChaCha20 inner stream.
func DefaultConfig() Config {
	seed, err := cryptoprim.RandomBytes(32)
	if err != nil {
		// crypto/rand failing is not a condition a caller can usefully
		// recover from; DefaultConfig has no error return, so a
		// deterministic zero seed is the least-bad fallback rather than
		// a panic. Save always regenerates the seed anyway.
		seed = make([]byte, 32)
	}

	dict := variantdict.New()
	dict.Set("$UUID", variantdict.BytesValue(mustUUIDBytes(header.KDFAESKDBX4)))
	dict.Set("S", variantdict.BytesValue(seed))
	dict.Set("R", variantdict.Uint64Value(600000))

	return Config{
		Format:        header.FormatKDBX4,
		CipherID:      header.CipherAES256CBC,
		Compression:   header.CompressionGzip,
		KdfParams:     dict,
		InnerStreamID: innerstream.CipherChaCha20,
	}
}

func mustUUIDBytes(u uuid.UUID) []byte {
	b, _ := u.MarshalBinary()
	return b
}

// CustomIcon is a {UUID, PNG bytes} pair in the database's icon pool.
type CustomIcon struct {
	UUID uuid.UUID
	Data []byte
}

// MetaInfo is the database-wide settings and metadata record.
type MetaInfo struct {
	Generator                  string
	SettingsChanged            time.Time
	DatabaseName               string
	DatabaseNameChanged        time.Time
	DatabaseDescription        string
	DatabaseDescriptionChanged time.Time
	DefaultUserName            string
	DefaultUserNameChanged     time.Time
	MaintenanceHistoryDays     int32
	Color                      string
	MasterKeyChanged           time.Time
	MasterKeyChangeRec         int32
	MasterKeyChangeForce       int32
	MemoryProtection           kdbxml.MemoryProtection
	CustomIcons                []CustomIcon
	RecycleBinEnabled          bool
	RecycleBinUUID             uuid.UUID
	RecycleBinChanged          time.Time
	EntryTemplatesGroup        uuid.UUID
	EntryTemplatesGroupChanged time.Time
	HistoryMaxItems            int32
	HistoryMaxSize             int64
	LastSelectedGroup          uuid.UUID
	LastTopVisibleGroup        uuid.UUID
	CustomData                 map[string]string
}

// DefaultMeta returns the meta record a freshly created database
// starts with.
func DefaultMeta() MetaInfo {
	now := time.Now().UTC()
	return MetaInfo{
		Generator:              "keepassdb",
		SettingsChanged:        now,
		DatabaseName:           "New Database",
		DatabaseNameChanged:    now,
		MaintenanceHistoryDays: 365,
		MasterKeyChanged:       now,
		HistoryMaxItems:        10,
		HistoryMaxSize:         6 * 1024 * 1024,
		RecycleBinEnabled:      true,
		CustomData:             map[string]string{},
	}
}

// DeletedObject is a tombstone left by Database.Remove when the
// recycle bin is disabled (or bypassed).
type DeletedObject struct {
	UUID         uuid.UUID
	DeletionTime time.Time
}

// BinaryEntry is one attachment in the database-wide binary pool.
type BinaryEntry struct {
	Data      []byte
	Protected bool
}
