// Package kdbxml implements the XML binding between the decrypted
// KDBX3/KDBX4 payload and a wire-format tree that mirrors the
// <KeePassFile> schema element for element. It does not know about
// the arena-based Node model the public database package exposes;
// that conversion lives in database, which imports this package only
// for its wire types and the keystream-ordering helpers in protect.go.
package kdbxml

import "encoding/xml"

// KeePassFile is the XML document root.
type KeePassFile struct {
	XMLName xml.Name `xml:"KeePassFile"`
	Meta    Meta      `xml:"Meta"`
	Root    Root      `xml:"Root"`
}

// Meta carries database-wide settings and metadata.
type Meta struct {
	Generator                  string            `xml:"Generator"`
	HeaderHash                 string            `xml:"HeaderHash,omitempty"`
	SettingsChanged             *Timestamp        `xml:"SettingsChanged,omitempty"`
	DatabaseName                string            `xml:"DatabaseName"`
	DatabaseNameChanged         *Timestamp        `xml:"DatabaseNameChanged,omitempty"`
	DatabaseDescription         string            `xml:"DatabaseDescription"`
	DatabaseDescriptionChanged  *Timestamp        `xml:"DatabaseDescriptionChanged,omitempty"`
	DefaultUserName             string            `xml:"DefaultUserName"`
	DefaultUserNameChanged      *Timestamp        `xml:"DefaultUserNameChanged,omitempty"`
	MaintenanceHistoryDays      int32             `xml:"MaintenanceHistoryDays"`
	Color                       string            `xml:"Color"`
	MasterKeyChanged            *Timestamp        `xml:"MasterKeyChanged,omitempty"`
	MasterKeyChangeRec          int32             `xml:"MasterKeyChangeRec"`
	MasterKeyChangeForce        int32             `xml:"MasterKeyChangeForce"`
	MemoryProtection            MemoryProtection  `xml:"MemoryProtection"`
	CustomIcons                 *CustomIconList   `xml:"CustomIcons,omitempty"`
	RecycleBinEnabled           bool              `xml:"RecycleBinEnabled"`
	RecycleBinUUID              B64Bytes          `xml:"RecycleBinUUID,omitempty"`
	RecycleBinChanged           *Timestamp        `xml:"RecycleBinChanged,omitempty"`
	EntryTemplatesGroup         B64Bytes          `xml:"EntryTemplatesGroup,omitempty"`
	EntryTemplatesGroupChanged  *Timestamp        `xml:"EntryTemplatesGroupChanged,omitempty"`
	HistoryMaxItems             int32             `xml:"HistoryMaxItems"`
	HistoryMaxSize              int64             `xml:"HistoryMaxSize"`
	LastSelectedGroup           B64Bytes          `xml:"LastSelectedGroup,omitempty"`
	LastTopVisibleGroup         B64Bytes          `xml:"LastTopVisibleGroup,omitempty"`
	Binaries                    *MetaBinaries     `xml:"Binaries,omitempty"`
	CustomData                  *CustomDataList   `xml:"CustomData,omitempty"`
}

// MemoryProtection holds the per-field protection flags stored under
// <Meta>. They are carried through decode and encode unchanged; nothing
// in this module reads them to decide whether a field is Protected.
type MemoryProtection struct {
	ProtectTitle    bool `xml:"ProtectTitle"`
	ProtectUserName bool `xml:"ProtectUserName"`
	ProtectPassword bool `xml:"ProtectPassword"`
	ProtectURL      bool `xml:"ProtectURL"`
	ProtectNotes    bool `xml:"ProtectNotes"`
}

// CustomIconList is the pool of user-supplied icon images groups and
// entries may reference by CustomIconUUID.
type CustomIconList struct {
	Icons []CustomIcon `xml:"Icon"`
}

// CustomIcon is one {UUID, PNG bytes} pair in the custom icon pool.
type CustomIcon struct {
	UUID B64Bytes `xml:"UUID"`
	Data B64Bytes `xml:"Data"`
}

// MetaBinaries is the KDBX3 binary pool, stored inline under <Meta>.
// KDBX4 carries its binary pool in the inner header instead (see
// internal/header.Inner); both are addressed the same way, by a
// small integer id referenced from EntryBinary.Value.Ref.
type MetaBinaries struct {
	Binary []MetaBinary `xml:"Binary"`
}

// MetaBinary is one KDBX3 binary pool entry. Content is gzip
// compressed independently of the outer CompressionFlags when
// Compressed is true, per the legacy KDBX3 convention.
type MetaBinary struct {
	ID         int      `xml:"ID,attr"`
	Compressed bool     `xml:"Compressed,attr"`
	Content    B64Bytes `xml:",chardata"`
}

// CustomDataList is an extensible {Key, Value} bag attached to the
// database, a group, or an entry.
type CustomDataList struct {
	Items []CustomDataItem `xml:"Item"`
}

// CustomDataItem is one entry of a CustomDataList.
type CustomDataItem struct {
	Key                  string     `xml:"Key"`
	Value                string     `xml:"Value"`
	LastModificationTime *Timestamp `xml:"LastModificationTime,omitempty"`
}

// Root holds the single root group and the deleted-objects tombstone
// list.
type Root struct {
	Group          Group               `xml:"Group"`
	DeletedObjects *DeletedObjectList  `xml:"DeletedObjects,omitempty"`
}

// DeletedObjectList wraps the tombstones left behind by Remove when
// the recycle bin is disabled (or bypassed).
type DeletedObjectList struct {
	DeletedObjects []DeletedObject `xml:"DeletedObject"`
}

// DeletedObject is a tombstone: the UUID of a node that no longer
// exists in the tree, and when it was removed.
type DeletedObject struct {
	UUID         B64Bytes  `xml:"UUID"`
	DeletionTime Timestamp `xml:"DeletionTime"`
}

// Group is one node of the tree that may contain child nodes.
type Group struct {
	UUID                    B64Bytes        `xml:"UUID"`
	Name                    string          `xml:"Name"`
	Notes                   string          `xml:"Notes"`
	IconID                  int32           `xml:"IconID"`
	CustomIconUUID          B64Bytes        `xml:"CustomIconUUID,omitempty"`
	Times                   Times           `xml:"Times"`
	IsExpanded              bool            `xml:"IsExpanded"`
	DefaultAutoTypeSequence string          `xml:"DefaultAutoTypeSequence"`
	EnableAutoType          TernaryBool     `xml:"EnableAutoType"`
	EnableSearching         TernaryBool     `xml:"EnableSearching"`
	LastTopVisibleEntry     B64Bytes        `xml:"LastTopVisibleEntry,omitempty"`
	Entries                 []Entry         `xml:"Entry"`
	Groups                  []Group         `xml:"Group"`
	CustomData              *CustomDataList `xml:"CustomData,omitempty"`
}

// Entry is a leaf node carrying named fields, attachments, auto-type
// rules, and (at the top level only) prior-version snapshots.
type Entry struct {
	UUID            B64Bytes        `xml:"UUID"`
	IconID          int32           `xml:"IconID"`
	CustomIconUUID  B64Bytes        `xml:"CustomIconUUID,omitempty"`
	ForegroundColor string          `xml:"ForegroundColor"`
	BackgroundColor string          `xml:"BackgroundColor"`
	OverrideURL     string          `xml:"OverrideURL"`
	Tags            string          `xml:"Tags"`
	Times           Times           `xml:"Times"`
	Strings         []EntryString   `xml:"String"`
	Binaries        []EntryBinary   `xml:"Binary"`
	AutoType        AutoType        `xml:"AutoType"`
	History         []Entry         `xml:"History>Entry,omitempty"`
	CustomData      *CustomDataList `xml:"CustomData,omitempty"`
}

// EntryString is one {Key, Value} named field. Value carries its own
// Protected flag and ciphertext/plaintext bytes; see stringvalue.go.
type EntryString struct {
	Key   string      `xml:"Key"`
	Value StringValue `xml:"Value"`
}

// EntryBinary is one {Key, binary-pool-reference} attachment.
type EntryBinary struct {
	Key   string    `xml:"Key"`
	Value BinaryRef `xml:"Value"`
}

// BinaryRef is a reference by index into the database-wide binary
// pool (KDBX4: inner header; KDBX3: Meta/Binaries).
type BinaryRef struct {
	Ref int `xml:"Ref,attr"`
}

// AutoType is an entry's auto-type configuration.
type AutoType struct {
	Enabled                 bool          `xml:"Enabled"`
	DataTransferObfuscation int32         `xml:"DataTransferObfuscation"`
	DefaultSequence         string        `xml:"DefaultSequence,omitempty"`
	Associations            []Association `xml:"Association"`
}

// Association binds an auto-type sequence to a target window title.
type Association struct {
	Window            string `xml:"Window"`
	KeystrokeSequence string `xml:"KeystrokeSequence"`
}

// Times is the common timestamp block carried by every Group and
// Entry.
type Times struct {
	CreationTime         Timestamp `xml:"CreationTime"`
	LastModificationTime Timestamp `xml:"LastModificationTime"`
	LastAccessTime       Timestamp `xml:"LastAccessTime"`
	ExpiryTime           Timestamp `xml:"ExpiryTime"`
	Expires              bool      `xml:"Expires"`
	UsageCount           int32     `xml:"UsageCount"`
	LocationChanged      Timestamp `xml:"LocationChanged"`
}
