package hub

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRecordLookup(t *testing.T) {
	m, err := OpenManifest(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Lookup("org/model", "main", "tokenizer.json")
	assert.ErrorIs(t, err, errNoEntry)

	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, m.Record(Entry{
		Repo: "org/model", Revision: "main", Filename: "tokenizer.json",
		ETag: `"a"`, Path: "/tmp/a", Size: 10, FetchedAt: fetched,
	}))
	require.NoError(t, m.Record(Entry{
		Repo: "org/model", Revision: "main", Filename: "tokenizer.json",
		ETag: `"b"`, Path: "/tmp/b", Size: 20, FetchedAt: fetched,
	}))

	got, err := m.Lookup("org/model", "main", "tokenizer.json")
	require.NoError(t, err)
	assert.Equal(t, `"b"`, got.ETag)
	assert.Equal(t, "/tmp/b", got.Path)
	assert.EqualValues(t, 20, got.Size)
	assert.True(t, fetched.Equal(got.FetchedAt))
}

func TestManifestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manifest.db")
	m, err := OpenManifest(path)
	require.NoError(t, err)
	require.NoError(t, m.Record(Entry{Repo: "r", Revision: "main", Filename: "f", Path: "/p"}))
	require.NoError(t, m.Close())

	m, err = OpenManifest(path)
	require.NoError(t, err)
	defer m.Close()
	got, err := m.Lookup("r", "main", "f")
	require.NoError(t, err)
	assert.Equal(t, "/p", got.Path)
}
