package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryUpsertGetDelete(t *testing.T) {
	r := NewRegistry()

	p := Peer{Address: "10.0.0.5", Port: 9001, LastSeen: time.Now(), Status: StatusOnline}
	r.Upsert("bob", p)

	got, ok := r.Get("bob")
	require.True(t, ok)
	require.Equal(t, p, got)

	require.True(t, r.Delete("bob"))
	require.False(t, r.Delete("bob"))
	_, ok = r.Get("bob")
	require.False(t, ok)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Upsert("bob", Peer{Address: "10.0.0.5", Port: 9001, Status: StatusOnline})

	snap := r.Snapshot()
	snap["carol"] = Peer{Address: "10.0.0.6", Port: 9002}
	delete(snap, "bob")

	require.Equal(t, 1, r.Len())
	_, ok := r.Get("bob")
	require.True(t, ok)
}

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Touch("ghost", time.Now())
	require.False(t, ok, "touch must not create entries")

	then := time.Now().Add(-30 * time.Second)
	r.Upsert("bob", Peer{Address: "10.0.0.5", Port: 9001, LastSeen: then, Status: StatusOffline})

	now := time.Now()
	prev, ok := r.Touch("bob", now)
	require.True(t, ok)
	require.Equal(t, StatusOffline, prev)

	got, _ := r.Get("bob")
	require.Equal(t, StatusOnline, got.Status)
	require.True(t, got.LastSeen.After(then))
}

func TestRegistryMarkOffline(t *testing.T) {
	r := NewRegistry()
	seen := time.Now()
	r.Upsert("bob", Peer{Address: "10.0.0.5", Port: 9001, LastSeen: seen, Status: StatusOnline})

	prev, ok := r.MarkOffline("bob")
	require.True(t, ok)
	require.Equal(t, StatusOnline, prev)

	got, ok := r.Get("bob")
	require.True(t, ok, "marking offline must not delete the entry")
	require.Equal(t, StatusOffline, got.Status)
	require.Equal(t, seen, got.LastSeen, "offline must not advance last_seen")
}
