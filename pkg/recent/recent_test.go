package recent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, limit int) *Store {
	s := NewStore(filepath.Join(t.TempDir(), "nested", "recent.json"), limit)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}
	return s
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.SessionID)
	}
	return out
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t, 0)

	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_AddNewestFirstAndDedup(t *testing.T) {
	s := newTestStore(t, 0)

	require.NoError(t, s.Add("111 111 111", "receiver"))
	require.NoError(t, s.Add("222222222", "initiator"))
	require.NoError(t, s.Add("111111111", "receiver"))

	entries, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"111111111", "222222222"}, ids(entries))
	assert.Equal(t, "receiver", entries[0].Role)
	assert.True(t, entries[0].UsedAt.After(entries[1].UsedAt))
}

func TestStore_TrimsToLimit(t *testing.T) {
	s := newTestStore(t, 3)

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, s.Add(id, ""))
	}

	entries, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4", "3"}, ids(entries))
}

func TestStore_RejectsEmptyID(t *testing.T) {
	s := newTestStore(t, 0)
	assert.Error(t, s.Add("   ", ""))
}

func TestStore_CorruptFile(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.path), 0o755))
	require.NoError(t, os.WriteFile(s.path, []byte("{nope"), 0o600))

	_, err := s.List()
	assert.Error(t, err)
	assert.Error(t, s.Add("123456789", ""))
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, s.Clear())

	require.NoError(t, s.Add("123456789", ""))
	require.NoError(t, s.Clear())

	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
