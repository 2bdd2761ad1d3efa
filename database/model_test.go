package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"keepassdb/apperr"
)

func TestArenaAddChildRejectsDuplicateUUID(t *testing.T) {
	t.Parallel()

	arena := newArena()
	root := &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}}
	arena.root = arena.alloc(root)

	u := uuid.Must(uuid.NewV7())
	first := &Node{Kind: KindEntry, UUID: u, Entry: &EntryData{}}
	_, err := arena.addChild(arena.root, first)
	require.NoError(t, err)

	second := &Node{Kind: KindEntry, UUID: u, Entry: &EntryData{}}
	_, err = arena.addChild(arena.root, second)
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestArenaMoveRejectsCycle(t *testing.T) {
	t.Parallel()

	arena := newArena()
	root := &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}}
	arena.root = arena.alloc(root)

	childID, err := arena.addChild(arena.root, &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}})
	require.NoError(t, err)

	grandchildID, err := arena.addChild(childID, &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}})
	require.NoError(t, err)

	err = arena.Move(childID, grandchildID)
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestArenaRemoveDeletesEntireSubtree(t *testing.T) {
	t.Parallel()

	arena := newArena()
	root := &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}}
	arena.root = arena.alloc(root)

	childID, err := arena.addChild(arena.root, &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}})
	require.NoError(t, err)
	grandchildID, err := arena.addChild(childID, &Node{Kind: KindEntry, UUID: uuid.Must(uuid.NewV7()), Entry: &EntryData{}})
	require.NoError(t, err)

	_, err = arena.Remove(childID)
	require.NoError(t, err)

	_, ok := arena.Node(childID)
	require.False(t, ok)
	_, ok = arena.Node(grandchildID)
	require.False(t, ok)
}

func TestArenaWalkPreOrder(t *testing.T) {
	t.Parallel()

	arena := newArena()
	root := &Node{Kind: KindGroup, UUID: uuid.Must(uuid.NewV7()), Group: &GroupData{}}
	arena.root = arena.alloc(root)

	_, err := arena.addChild(arena.root, &Node{Kind: KindEntry, UUID: uuid.Must(uuid.NewV7()), Entry: &EntryData{}})
	require.NoError(t, err)

	var kinds []NodeKind
	arena.Walk(func(n *Node) { kinds = append(kinds, n.Kind) })
	require.Equal(t, []NodeKind{KindGroup, KindEntry}, kinds)
}
