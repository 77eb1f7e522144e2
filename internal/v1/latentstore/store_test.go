package latentstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "rooms.json"))
	records, err := s.Load(24 * time.Hour)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSave_ThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	s := New(path)

	records := []registry.LatentRecord{
		{RoomID: "PRE777", CreatorToken: "tk-abc", CreatedAt: time.Now(), MaxParticipants: 8},
	}
	require.NoError(t, s.Save(records))

	loaded, err := s.Load(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "PRE777", loaded[0].RoomID)
	assert.Equal(t, "tk-abc", loaded[0].CreatorToken)
}

func TestLoad_DiscardsExpiredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	s := New(path)

	records := []registry.LatentRecord{
		{RoomID: "FRESH1", CreatorToken: "tk-a", CreatedAt: time.Now()},
		{RoomID: "STALE1", CreatorToken: "tk-b", CreatedAt: time.Now().Add(-48 * time.Hour)},
	}
	require.NoError(t, s.Save(records))

	loaded, err := s.Load(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "FRESH1", loaded[0].RoomID)
}

func TestSave_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "rooms.json")
	s := New(path)

	require.NoError(t, s.Save([]registry.LatentRecord{{RoomID: "A", CreatorToken: "t"}}))

	loaded, err := s.Load(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
