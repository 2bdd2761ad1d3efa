package database

import (
	"github.com/google/uuid"

	"keepassdb/apperr"
	"keepassdb/internal/header"
	"keepassdb/internal/kdblegacy"
)

// kdbGroupNamespace seeds the deterministic UUIDs synthesized for KDB
// groups, which carry only a 32-bit integer ID on disk. Entries
// already carry a real 16-byte UUID field and need no synthesis.
var kdbGroupNamespace = uuid.MustParse("6f1b3d2a-6e1b-4a7e-9b1f-1f7b6f1b3d2a")

var kdbRootUUID = uuid.MustParse("0b1d5f3a-2c7e-4f6a-8b1d-5f3a2c7e4f6a")

// fromKDBLegacy builds a Database from a decoded KDB forest. A KDB
// file may contain more than one top-level group (the format has no
// single-root requirement); collapsing them all under one synthetic
// root group here, rather than erroring, gives KDB callers the same
// single-root tree shape every KDBX file already has.
func fromKDBLegacy(decoded *kdblegacy.DecodedFile) (*Database, error) {
	db := &Database{
		Config:   Config{Format: header.FormatKDB},
		Meta:     DefaultMeta(),
		Binaries: map[int]BinaryEntry{},
	}

	arena := newArena()
	root := &Node{
		Kind:  KindGroup,
		UUID:  kdbRootUUID,
		Times: newTimes(),
		Group: &GroupData{Name: "Database"},
	}
	arena.root = arena.alloc(root)
	db.arena = arena

	for _, tg := range decoded.Roots {
		if err := db.addKDBGroup(arena.root, tg); err != nil {
			return nil, err
		}
	}
	for _, e := range decoded.UnassignedEntries {
		if _, err := db.addKDBEntry(arena.root, e); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func (db *Database) addKDBGroup(parentID NodeID, tg *kdblegacy.TreeGroup) error {
	node := &Node{
		Kind:  KindGroup,
		UUID:  uuid.NewSHA1(kdbGroupNamespace, groupIDBytes(tg.Group.ID)),
		Times: kdbGroupTimes(tg.Group),
		Group: &GroupData{
			Name:   tg.Group.Name,
			IconID: tg.Group.ImageID,
		},
	}
	id, err := db.arena.addChild(parentID, node)
	if err != nil {
		return err
	}
	for _, e := range tg.Entries {
		if _, err := db.addKDBEntry(id, e); err != nil {
			return err
		}
	}
	for _, child := range tg.Children {
		if err := db.addKDBGroup(id, child); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) addKDBEntry(parentID NodeID, e *kdblegacy.Entry) (NodeID, error) {
	u, err := uuid.FromBytes(e.UUID[:])
	if err != nil {
		return 0, apperr.XmlSchema("database: malformed kdb entry uuid", err)
	}

	entry := &EntryData{
		IconID: e.ImageID,
		Strings: map[string]StringField{
			"Title":    {Value: e.Title},
			"UserName": {Value: e.Username},
			"Password": {Value: e.Password, Protected: true},
			"URL":      {Value: e.URL},
			"Notes":    {Value: e.Notes},
		},
		Binaries: map[string]BinaryRef{},
	}

	// KDB stores at most one attachment inline per entry; the pool id
	// is minted here since the legacy format has no pool of its own.
	if len(e.BinaryData) > 0 {
		id := len(db.Binaries)
		db.Binaries[id] = BinaryEntry{Data: e.BinaryData}
		name := e.BinaryDesc
		if name == "" {
			name = "attachment"
		}
		entry.Binaries[name] = BinaryRef{Ref: id}
	}

	node := &Node{
		Kind: KindEntry,
		UUID: u,
		Times: Times{
			Creation:         e.CreationTime,
			LastModification: e.ModificationTime,
			LastAccess:       e.AccessTime,
			Expiry:           e.ExpiryTime,
		},
		Entry: entry,
	}
	return db.arena.addChild(parentID, node)
}

func kdbGroupTimes(g *kdblegacy.Group) Times {
	return Times{
		Creation:         g.CreationTime,
		LastModification: g.ModificationTime,
		LastAccess:       g.AccessTime,
		Expiry:           g.ExpiryTime,
	}
}

func groupIDBytes(id uint32) []byte {
	return []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
}
