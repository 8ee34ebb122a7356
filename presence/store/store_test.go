package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get("alice")
	require.ErrorIs(t, err, ErrNotFound)

	reg := Registration{Address: "10.0.0.5", Port: 9001, LastSeen: time.Now().Truncate(time.Second)}
	require.NoError(t, s.Put("alice", reg))

	got, err := s.Get("alice")
	require.NoError(t, err)
	require.Equal(t, reg.Address, got.Address)
	require.Equal(t, reg.Port, got.Port)
	require.True(t, reg.LastSeen.Equal(got.LastSeen))

	require.NoError(t, s.Put("bob", Registration{Address: "10.0.0.6", Port: 9002, LastSeen: time.Now()}))

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "alice")
	require.Contains(t, all, "bob")

	require.NoError(t, s.Delete("alice"))
	_, err = s.Get("alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	testStore(t, s)
}

func TestLevelDBStore(t *testing.T) {
	s, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestLevelDBSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	reg := Registration{Address: "10.0.0.5", Port: 9001, LastSeen: time.Now()}
	require.NoError(t, s.Put("alice", reg))
	require.NoError(t, s.Close())

	s, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("alice")
	require.NoError(t, err)
	require.Equal(t, reg.Address, got.Address)
	require.Equal(t, reg.Port, got.Port)
}

func TestMemoryAllIsACopy(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Put("alice", Registration{Address: "10.0.0.5", Port: 9001}))

	all, _ := s.All()
	delete(all, "alice")

	_, err := s.Get("alice")
	require.NoError(t, err)
}
