package database

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"keepassdb/apperr"
	"keepassdb/internal/header"
	"keepassdb/internal/kdbxml"
)

// fromKDBXML builds a fresh Database from a decoded wire document.
// doc's protected strings must already be unmasked to plaintext
// (kdbxml.Decode does this before returning). innerBinaries is the
// KDBX4 inner-header binary pool; pass nil for KDBX3, whose binaries
// live inline in doc.Meta.Binaries instead.
func fromKDBXML(doc *kdbxml.KeePassFile, innerBinaries []header.InnerBinary, cfg Config) (*Database, error) {
	db := &Database{Config: cfg, Meta: metaFromXML(&doc.Meta), Binaries: map[int]BinaryEntry{}}

	if innerBinaries != nil {
		for i, b := range innerBinaries {
			db.Binaries[i] = BinaryEntry{Data: b.Data, Protected: b.Protected}
		}
	} else if doc.Meta.Binaries != nil {
		for _, b := range doc.Meta.Binaries.Binary {
			content := []byte(b.Content)
			if b.Compressed {
				var err error
				if content, err = gunzip(content); err != nil {
					return nil, apperr.Corruption(fmt.Sprintf("database: binary pool id %d: malformed gzip", b.ID), err)
				}
			}
			db.Binaries[b.ID] = BinaryEntry{Data: content}
		}
	}

	arena := newArena()
	rootID, err := addGroupFromXML(arena, 0, &doc.Root.Group)
	if err != nil {
		return nil, err
	}
	arena.root = rootID
	db.arena = arena

	if doc.Root.DeletedObjects != nil {
		for _, d := range doc.Root.DeletedObjects.DeletedObjects {
			u, err := uuidFromB64(d.UUID)
			if err != nil {
				return nil, err
			}
			db.DeletedObjects = append(db.DeletedObjects, DeletedObject{UUID: u, DeletionTime: d.DeletionTime.Time})
		}
	}

	if err := db.checkBinaryRefs(); err != nil {
		return nil, err
	}

	return db, nil
}

// checkBinaryRefs enforces the pool-resolution invariant: every
// Binary reference in every entry (history snapshots included) must
// name an id present in the pool.
func (db *Database) checkBinaryRefs() error {
	var err error
	db.Walk(func(n *Node) {
		if err != nil || n.Kind != KindEntry {
			return
		}
		err = db.checkEntryBinaryRefs(n.Entry)
	})
	return err
}

func (db *Database) checkEntryBinaryRefs(e *EntryData) error {
	for key, ref := range e.Binaries {
		if _, ok := db.Binaries[ref.Ref]; !ok {
			return apperr.Invariant(fmt.Sprintf("database: binary %q references missing pool id %d", key, ref.Ref), nil)
		}
	}
	for i := range e.History {
		if err := db.checkEntryBinaryRefs(&e.History[i]); err != nil {
			return err
		}
	}
	return nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// toKDBXML serializes db's tree into the wire struct tree. The
// returned document's protected strings are still plaintext; the
// caller (Save) runs kdbxml.Encode to mask and marshal. Returns
// the inner-header binary pool alongside, since KDBX4 (the only
// format Save supports) carries binaries there rather than in Meta.
func toKDBXML(db *Database) (*kdbxml.KeePassFile, []header.InnerBinary) {
	doc := &kdbxml.KeePassFile{Meta: metaToXML(&db.Meta)}

	root, _ := db.arena.Node(db.arena.Root())
	doc.Root.Group = groupToXML(db, root)

	if len(db.DeletedObjects) > 0 {
		list := &kdbxml.DeletedObjectList{}
		for _, d := range db.DeletedObjects {
			list.DeletedObjects = append(list.DeletedObjects, kdbxml.DeletedObject{
				UUID:         uuidBytes(d.UUID),
				DeletionTime: kdbxml.NewTimestamp(d.DeletionTime, true),
			})
		}
		doc.Root.DeletedObjects = list
	}

	var binaries []header.InnerBinary
	maxID := -1
	for id := range db.Binaries {
		if id > maxID {
			maxID = id
		}
	}
	for id := 0; id <= maxID; id++ {
		if b, ok := db.Binaries[id]; ok {
			binaries = append(binaries, header.InnerBinary{Protected: b.Protected, Data: b.Data})
		} else {
			binaries = append(binaries, header.InnerBinary{})
		}
	}

	return doc, binaries
}

func uuidFromB64(b kdbxml.B64Bytes) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, apperr.XmlSchema("database: uuid field is not 16 bytes", nil)
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.UUID{}, apperr.XmlSchema("database: malformed uuid", err)
	}
	return u, nil
}

func uuidFromB64Lenient(b kdbxml.B64Bytes) uuid.UUID {
	if len(b) != 16 {
		return uuid.UUID{}
	}
	u, _ := uuid.FromBytes(b)
	return u
}

func uuidBytes(u uuid.UUID) kdbxml.B64Bytes {
	b, _ := u.MarshalBinary()
	return b
}

func uuidBytesOrNil(u uuid.UUID) kdbxml.B64Bytes {
	if u == uuid.Nil {
		return nil
	}
	return uuidBytes(u)
}

func timesFromXML(t kdbxml.Times) Times {
	return Times{
		Creation:         t.CreationTime.Time,
		LastModification: t.LastModificationTime.Time,
		LastAccess:       t.LastAccessTime.Time,
		Expiry:           t.ExpiryTime.Time,
		ExpiryEnabled:    t.Expires,
		UsageCount:       t.UsageCount,
		LocationChanged:  t.LocationChanged.Time,
	}
}

func timesToXML(t Times) kdbxml.Times {
	return kdbxml.Times{
		CreationTime:         kdbxml.NewTimestamp(t.Creation, true),
		LastModificationTime: kdbxml.NewTimestamp(t.LastModification, true),
		LastAccessTime:       kdbxml.NewTimestamp(t.LastAccess, true),
		ExpiryTime:           kdbxml.NewTimestamp(t.Expiry, true),
		Expires:              t.ExpiryEnabled,
		UsageCount:           t.UsageCount,
		LocationChanged:      kdbxml.NewTimestamp(t.LocationChanged, true),
	}
}

func customDataFromXML(list *kdbxml.CustomDataList) map[string]string {
	if list == nil {
		return nil
	}
	out := make(map[string]string, len(list.Items))
	for _, item := range list.Items {
		out[item.Key] = item.Value
	}
	return out
}

func customDataToXML(m map[string]string) *kdbxml.CustomDataList {
	if len(m) == 0 {
		return nil
	}
	list := &kdbxml.CustomDataList{}
	for _, k := range sortedKeys(m) {
		list.Items = append(list.Items, kdbxml.CustomDataItem{Key: k, Value: m[k]})
	}
	return list
}

func addGroupFromXML(arena *Arena, parentID NodeID, xg *kdbxml.Group) (NodeID, error) {
	u, err := uuidFromB64(xg.UUID)
	if err != nil {
		return 0, err
	}

	node := &Node{
		Kind:       KindGroup,
		UUID:       u,
		Times:      timesFromXML(xg.Times),
		CustomData: customDataFromXML(xg.CustomData),
		Group: &GroupData{
			Name:                    xg.Name,
			Notes:                   xg.Notes,
			IconID:                  xg.IconID,
			CustomIconUUID:          uuidFromB64Lenient(xg.CustomIconUUID),
			IsExpanded:              xg.IsExpanded,
			DefaultAutoTypeSequence: xg.DefaultAutoTypeSequence,
			EnableAutoType:          xg.EnableAutoType,
			EnableSearching:         xg.EnableSearching,
			LastTopVisibleEntry:     uuidFromB64Lenient(xg.LastTopVisibleEntry),
		},
	}

	var id NodeID
	if parentID == 0 {
		id = arena.alloc(node)
	} else {
		id, err = arena.addChild(parentID, node)
		if err != nil {
			return 0, err
		}
	}

	for i := range xg.Entries {
		if _, err := addEntryFromXML(arena, id, &xg.Entries[i]); err != nil {
			return 0, err
		}
	}
	for i := range xg.Groups {
		if _, err := addGroupFromXML(arena, id, &xg.Groups[i]); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func addEntryFromXML(arena *Arena, parentID NodeID, xe *kdbxml.Entry) (NodeID, error) {
	u, err := uuidFromB64(xe.UUID)
	if err != nil {
		return 0, err
	}

	entryData := entryDataFromXML(xe)

	node := &Node{
		Kind:       KindEntry,
		UUID:       u,
		Times:      timesFromXML(xe.Times),
		CustomData: customDataFromXML(xe.CustomData),
		Entry:      entryData,
	}
	return arena.addChild(parentID, node)
}

func entryDataFromXML(xe *kdbxml.Entry) *EntryData {
	data := &EntryData{
		IconID:          xe.IconID,
		CustomIconUUID:  uuidFromB64Lenient(xe.CustomIconUUID),
		ForegroundColor: xe.ForegroundColor,
		BackgroundColor: xe.BackgroundColor,
		OverrideURL:     xe.OverrideURL,
		Tags:            xe.Tags,
		Strings:         make(map[string]StringField, len(xe.Strings)),
		Binaries:        make(map[string]BinaryRef, len(xe.Binaries)),
		AutoType: AutoType{
			Enabled:                 xe.AutoType.Enabled,
			DataTransferObfuscation: xe.AutoType.DataTransferObfuscation,
			DefaultSequence:         xe.AutoType.DefaultSequence,
		},
	}
	for _, s := range xe.Strings {
		data.Strings[s.Key] = StringField{Value: s.Value.PlainText(), Protected: s.Value.Protected}
	}
	for _, b := range xe.Binaries {
		data.Binaries[b.Key] = BinaryRef{Ref: b.Value.Ref}
	}
	for _, assoc := range xe.AutoType.Associations {
		data.AutoType.Associations = append(data.AutoType.Associations, Association{
			Window: assoc.Window, Sequence: assoc.KeystrokeSequence,
		})
	}
	for i := range xe.History {
		data.History = append(data.History, *entryDataFromXML(&xe.History[i]))
	}
	return data
}

func groupToXML(db *Database, n *Node) kdbxml.Group {
	g := n.Group
	xg := kdbxml.Group{
		UUID:                    uuidBytes(n.UUID),
		Name:                    g.Name,
		Notes:                   g.Notes,
		IconID:                  g.IconID,
		CustomIconUUID:          uuidBytesOrNil(g.CustomIconUUID),
		Times:                   timesToXML(n.Times),
		IsExpanded:              g.IsExpanded,
		DefaultAutoTypeSequence: g.DefaultAutoTypeSequence,
		EnableAutoType:          g.EnableAutoType,
		EnableSearching:         g.EnableSearching,
		LastTopVisibleEntry:     uuidBytesOrNil(g.LastTopVisibleEntry),
		CustomData:              customDataToXML(n.CustomData),
	}
	for _, childID := range g.Children {
		child, _ := db.arena.Node(childID)
		if child.Kind == KindGroup {
			xg.Groups = append(xg.Groups, groupToXML(db, child))
		} else {
			xg.Entries = append(xg.Entries, entryToXML(child))
		}
	}
	return xg
}

func entryToXML(n *Node) kdbxml.Entry {
	e := n.Entry
	xe := kdbxml.Entry{
		UUID:            uuidBytes(n.UUID),
		IconID:          e.IconID,
		CustomIconUUID:  uuidBytesOrNil(e.CustomIconUUID),
		ForegroundColor: e.ForegroundColor,
		BackgroundColor: e.BackgroundColor,
		OverrideURL:     e.OverrideURL,
		Tags:            e.Tags,
		Times:           timesToXML(n.Times),
		AutoType: kdbxml.AutoType{
			Enabled:                 e.AutoType.Enabled,
			DataTransferObfuscation: e.AutoType.DataTransferObfuscation,
			DefaultSequence:         e.AutoType.DefaultSequence,
		},
		CustomData: customDataToXML(n.CustomData),
	}
	for _, key := range stringFieldKeys(e.Strings) {
		field := e.Strings[key]
		xe.Strings = append(xe.Strings, kdbxml.EntryString{
			Key:   key,
			Value: kdbxml.StringValue{Protected: field.Protected, Raw: []byte(field.Value)},
		})
	}
	for _, key := range sortedKeys(e.Binaries) {
		xe.Binaries = append(xe.Binaries, kdbxml.EntryBinary{Key: key, Value: kdbxml.BinaryRef{Ref: e.Binaries[key].Ref}})
	}
	for _, assoc := range e.AutoType.Associations {
		xe.AutoType.Associations = append(xe.AutoType.Associations, kdbxml.Association{
			Window: assoc.Window, KeystrokeSequence: assoc.Sequence,
		})
	}
	for _, snapshot := range e.History {
		xe.History = append(xe.History, entryDataToXMLSnapshot(n.UUID, n.Times, &snapshot))
	}
	return xe
}

// entryDataToXMLSnapshot serializes one History snapshot. Nested
// history is stripped here: snapshots never carry further snapshots on
// the wire, whatever the in-memory value claims.
func entryDataToXMLSnapshot(uuidVal uuid.UUID, times Times, e *EntryData) kdbxml.Entry {
	flat := *e
	flat.History = nil
	snapshotNode := &Node{UUID: uuidVal, Times: times, Entry: &flat}
	return entryToXML(snapshotNode)
}

// wellKnownFieldOrder pins the standard fields to the positions
// KeePass itself writes them in; remaining custom fields follow
// sorted, so two saves of the same tree emit the same document (and
// therefore consume the keystream identically).
var wellKnownFieldOrder = []string{"Title", "UserName", "Password", "URL", "Notes"}

func stringFieldKeys(m map[string]StringField) []string {
	keys := make([]string, 0, len(m))
	for _, k := range wellKnownFieldOrder {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	var custom []string
	for k := range m {
		if !isWellKnownField(k) {
			custom = append(custom, k)
		}
	}
	sort.Strings(custom)
	return append(keys, custom...)
}

func isWellKnownField(k string) bool {
	for _, w := range wellKnownFieldOrder {
		if k == w {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func metaFromXML(m *kdbxml.Meta) MetaInfo {
	info := MetaInfo{
		Generator:              m.Generator,
		DatabaseName:           m.DatabaseName,
		DatabaseDescription:    m.DatabaseDescription,
		DefaultUserName:        m.DefaultUserName,
		MaintenanceHistoryDays: m.MaintenanceHistoryDays,
		Color:                  m.Color,
		MasterKeyChangeRec:     m.MasterKeyChangeRec,
		MasterKeyChangeForce:   m.MasterKeyChangeForce,
		MemoryProtection:       m.MemoryProtection,
		RecycleBinEnabled:      m.RecycleBinEnabled,
		RecycleBinUUID:         uuidFromB64Lenient(m.RecycleBinUUID),
		EntryTemplatesGroup:    uuidFromB64Lenient(m.EntryTemplatesGroup),
		HistoryMaxItems:        m.HistoryMaxItems,
		HistoryMaxSize:         m.HistoryMaxSize,
		LastSelectedGroup:      uuidFromB64Lenient(m.LastSelectedGroup),
		LastTopVisibleGroup:    uuidFromB64Lenient(m.LastTopVisibleGroup),
		CustomData:             customDataFromXML(m.CustomData),
	}
	if m.SettingsChanged != nil {
		info.SettingsChanged = m.SettingsChanged.Time
	}
	if m.DatabaseNameChanged != nil {
		info.DatabaseNameChanged = m.DatabaseNameChanged.Time
	}
	if m.DatabaseDescriptionChanged != nil {
		info.DatabaseDescriptionChanged = m.DatabaseDescriptionChanged.Time
	}
	if m.DefaultUserNameChanged != nil {
		info.DefaultUserNameChanged = m.DefaultUserNameChanged.Time
	}
	if m.MasterKeyChanged != nil {
		info.MasterKeyChanged = m.MasterKeyChanged.Time
	}
	if m.RecycleBinChanged != nil {
		info.RecycleBinChanged = m.RecycleBinChanged.Time
	}
	if m.EntryTemplatesGroupChanged != nil {
		info.EntryTemplatesGroupChanged = m.EntryTemplatesGroupChanged.Time
	}
	if m.CustomIcons != nil {
		for _, icon := range m.CustomIcons.Icons {
			info.CustomIcons = append(info.CustomIcons, CustomIcon{
				UUID: uuidFromB64Lenient(icon.UUID), Data: icon.Data,
			})
		}
	}
	return info
}

func metaToXML(m *MetaInfo) kdbxml.Meta {
	settingsChanged := kdbxml.NewTimestamp(m.SettingsChanged, true)
	nameChanged := kdbxml.NewTimestamp(m.DatabaseNameChanged, true)
	descChanged := kdbxml.NewTimestamp(m.DatabaseDescriptionChanged, true)
	userChanged := kdbxml.NewTimestamp(m.DefaultUserNameChanged, true)
	keyChanged := kdbxml.NewTimestamp(m.MasterKeyChanged, true)
	recycleChanged := kdbxml.NewTimestamp(m.RecycleBinChanged, true)
	templatesChanged := kdbxml.NewTimestamp(m.EntryTemplatesGroupChanged, true)

	xm := kdbxml.Meta{
		Generator:                  m.Generator,
		SettingsChanged:            &settingsChanged,
		DatabaseName:               m.DatabaseName,
		DatabaseNameChanged:        &nameChanged,
		DatabaseDescription:        m.DatabaseDescription,
		DatabaseDescriptionChanged: &descChanged,
		DefaultUserName:            m.DefaultUserName,
		DefaultUserNameChanged:     &userChanged,
		MaintenanceHistoryDays:     m.MaintenanceHistoryDays,
		Color:                      m.Color,
		MasterKeyChanged:           &keyChanged,
		MasterKeyChangeRec:         m.MasterKeyChangeRec,
		MasterKeyChangeForce:       m.MasterKeyChangeForce,
		MemoryProtection:           m.MemoryProtection,
		RecycleBinEnabled:          m.RecycleBinEnabled,
		RecycleBinUUID:             uuidBytesOrNil(m.RecycleBinUUID),
		RecycleBinChanged:          &recycleChanged,
		EntryTemplatesGroup:        uuidBytesOrNil(m.EntryTemplatesGroup),
		EntryTemplatesGroupChanged: &templatesChanged,
		HistoryMaxItems:            m.HistoryMaxItems,
		HistoryMaxSize:             m.HistoryMaxSize,
		LastSelectedGroup:          uuidBytesOrNil(m.LastSelectedGroup),
		LastTopVisibleGroup:        uuidBytesOrNil(m.LastTopVisibleGroup),
		CustomData:                 customDataToXML(m.CustomData),
	}
	if len(m.CustomIcons) > 0 {
		list := &kdbxml.CustomIconList{}
		for _, icon := range m.CustomIcons {
			list.Icons = append(list.Icons, kdbxml.CustomIcon{UUID: uuidBytes(icon.UUID), Data: icon.Data})
		}
		xm.CustomIcons = list
	}
	return xm
}
