package database_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/apperr"
	"keepassdb/database"
	"keepassdb/telemetry"
)

func TestNewDatabaseHasSingleRootGroup(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	root, ok := db.Node(db.Root())
	require.True(t, ok)
	require.Equal(t, database.KindGroup, root.Kind)
}

func TestSaveOpenRoundTrip(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	groupID, err := db.AddGroup(db.Root(), "Demo group")
	require.NoError(t, err)

	entryID, err := db.AddEntry(groupID, "Demo entry", "jdoe", "hunter2")
	require.NoError(t, err)

	var buf bytes.Buffer
	key := database.NewDatabaseKey().WithPassword("demopass")
	require.NoError(t, db.Save(&buf, key))

	reopened, err := database.Open(&buf, database.NewDatabaseKey().WithPassword("demopass"))
	require.NoError(t, err)

	group, ok := reopened.Node(groupID)
	require.True(t, ok)
	require.Equal(t, "Demo group", group.Title())

	entry, ok := reopened.Node(entryID)
	require.True(t, ok)
	require.Equal(t, "Demo entry", entry.Title())
	require.Equal(t, "jdoe", entry.Entry.Strings["UserName"].Value)
	require.Equal(t, "hunter2", entry.Entry.Strings["Password"].Value)
	require.True(t, entry.Entry.Strings["Password"].Protected)
}

func TestSaveRejectsNonKDBX4(t *testing.T) {
	t.Parallel()

	cfg := database.DefaultConfig()
	cfg.Format = 0 // FormatUnknown in the header package's enumeration
	db := database.New(cfg)

	var buf bytes.Buffer
	err := db.Save(&buf, database.NewDatabaseKey().WithPassword("x"))
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindNotSupported))
}

func TestOpenWrongPasswordIsAuthenticationError(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())

	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, database.NewDatabaseKey().WithPassword("right")))

	_, err := database.Open(bytes.NewReader(buf.Bytes()), database.NewDatabaseKey().WithPassword("wrong"))
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindAuthentication))
}

func TestOpenTamperedCiphertextIsAuthenticationError(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	_, err := db.AddEntry(db.Root(), "T", "u", "p")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, database.NewDatabaseKey().WithPassword("demopass")))

	raw := buf.Bytes()
	// The file ends with the zero-length terminator record (32-byte
	// hmac + 4-byte length); the byte just before it is the last byte
	// of the final data block, so flipping it trips that block's HMAC
	// rather than merely truncating the framing.
	raw[len(raw)-37] ^= 0xFF

	_, err = database.Open(bytes.NewReader(raw), database.NewDatabaseKey().WithPassword("demopass"))
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindAuthentication))
}

func TestRemoveRootIsRejected(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	err := db.Remove(db.Root())
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestRemoveMovesToRecycleBinWhenEnabled(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	entryID, err := db.AddEntry(db.Root(), "E1", "u", "p")
	require.NoError(t, err)

	require.NoError(t, db.Remove(entryID))

	node, ok := db.Node(entryID)
	require.True(t, ok, "entry should still exist, moved under the recycle bin rather than deleted")
	require.NotEqual(t, db.Root(), node.Parent)
	require.Empty(t, db.DeletedObjects)
}

func TestRemoveTombstonesWhenRecycleBinDisabled(t *testing.T) {
	t.Parallel()

	cfg := database.DefaultConfig()
	db := database.New(cfg)
	db.Meta.RecycleBinEnabled = false

	entryID, err := db.AddEntry(db.Root(), "E1", "u", "p")
	require.NoError(t, err)

	require.NoError(t, db.Remove(entryID))

	_, ok := db.Node(entryID)
	require.False(t, ok)
	require.Len(t, db.DeletedObjects, 1)
}

func TestEmptyDatabaseRoundTrips(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())

	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, database.NewDatabaseKey().WithPassword("demopass")))

	reopened, err := database.Open(&buf, database.NewDatabaseKey().WithPassword("demopass"))
	require.NoError(t, err)

	count := 0
	reopened.Walk(func(*database.Node) { count++ })
	require.Equal(t, 1, count, "an empty database is just its root group")
}

func TestBinaryAttachmentRoundTrips(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	entryID, err := db.AddEntry(db.Root(), "With attachment", "u", "p")
	require.NoError(t, err)

	payload := []byte("attachment payload bytes")
	db.Binaries[0] = database.BinaryEntry{Data: payload}
	entry, _ := db.Node(entryID)
	entry.Entry.Binaries["notes.txt"] = database.BinaryRef{Ref: 0}

	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, database.NewDatabaseKey().WithPassword("demopass")))

	reopened, err := database.Open(&buf, database.NewDatabaseKey().WithPassword("demopass"))
	require.NoError(t, err)

	entry, ok := reopened.Node(entryID)
	require.True(t, ok)
	ref, ok := entry.Entry.Binaries["notes.txt"]
	require.True(t, ok)
	require.Equal(t, payload, reopened.Binaries[ref.Ref].Data)
}

func TestPushHistorySnapshotsAndCaps(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	db.Meta.HistoryMaxItems = 3

	entryID, err := db.AddEntry(db.Root(), "E", "u", "pass0")
	require.NoError(t, err)
	entry, _ := db.Node(entryID)

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.PushHistory(entryID))
		entry.Entry.Strings["Password"] = database.StringField{Value: "pass" + string(rune('0'+i)), Protected: true}
	}

	require.Len(t, entry.Entry.History, 3, "history must be capped at HistoryMaxItems")
	// Oldest snapshots were dropped first: the surviving ones are the
	// states preceding edits 3, 4, and 5.
	require.Equal(t, "pass2", entry.Entry.History[0].Strings["Password"].Value)
	require.Equal(t, "pass4", entry.Entry.History[2].Strings["Password"].Value)
	for _, snapshot := range entry.Entry.History {
		require.Empty(t, snapshot.History, "snapshots must not nest history")
	}
}

func TestPushHistoryRejectsGroups(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	err := db.PushHistory(db.Root())
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestHistoryRoundTripsThroughSave(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	entryID, err := db.AddEntry(db.Root(), "E", "u", "oldpass")
	require.NoError(t, err)
	require.NoError(t, db.PushHistory(entryID))
	entry, _ := db.Node(entryID)
	entry.Entry.Strings["Password"] = database.StringField{Value: "newpass", Protected: true}

	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, database.NewDatabaseKey().WithPassword("demopass")))

	reopened, err := database.Open(&buf, database.NewDatabaseKey().WithPassword("demopass"))
	require.NoError(t, err)

	entry, ok := reopened.Node(entryID)
	require.True(t, ok)
	require.Equal(t, "newpass", entry.Entry.Strings["Password"].Value)
	require.Len(t, entry.Entry.History, 1)
	require.Equal(t, "oldpass", entry.Entry.History[0].Strings["Password"].Value)
}

func TestOpenAndSaveLogThroughTelemetry(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	svc := telemetry.RequireNewForTest(&sink)
	defer svc.Shutdown()

	db := database.New(database.DefaultConfig())
	key := database.NewDatabaseKey().WithPassword("demopass")

	var buf bytes.Buffer
	require.NoError(t, db.Save(&buf, key, database.WithTelemetry(svc)))
	require.Contains(t, sink.String(), "database saved")

	_, err := database.Open(bytes.NewReader(buf.Bytes()), key, database.WithTelemetry(svc))
	require.NoError(t, err)
	require.Contains(t, sink.String(), "database opened")

	_, err = database.Open(bytes.NewReader(nil), key, database.WithTelemetry(svc))
	require.Error(t, err)
	require.Contains(t, sink.String(), "decode failed")
}

func TestFindByUUID(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	entryID, err := db.AddEntry(db.Root(), "E1", "u", "p")
	require.NoError(t, err)

	entry, _ := db.Node(entryID)
	found, ok := db.FindByUUID(entry.UUID)
	require.True(t, ok)
	require.Equal(t, entryID, found)
}

func TestWalkVisitsEveryNode(t *testing.T) {
	t.Parallel()

	db := database.New(database.DefaultConfig())
	groupID, err := db.AddGroup(db.Root(), "G1")
	require.NoError(t, err)
	_, err = db.AddEntry(groupID, "E1", "u", "p")
	require.NoError(t, err)
	_, err = db.AddEntry(db.Root(), "E2", "u", "p")
	require.NoError(t, err)

	count := 0
	db.Walk(func(*database.Node) { count++ })
	require.Equal(t, 4, count) // root + group + 2 entries
}
