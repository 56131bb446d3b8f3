package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewFileStore(path)

	creds := Credentials{
		AccessToken:  "tok",
		RefreshToken: "ref",
		User:         json.RawMessage(`{"id":1}`),
		Admin:        &AdminIdentity{ID: 3, Name: "Agent"},
	}
	require.NoError(t, store.Save(creds))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.AccessToken)
	assert.Equal(t, "ref", loaded.RefreshToken)
	assert.JSONEq(t, `{"id":1}`, string(loaded.User))
	require.NotNil(t, loaded.Admin)
	assert.Equal(t, int64(3), loaded.Admin.ID)

	id, err := loaded.AdminID()
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

	creds, err := store.Load()
	require.NoError(t, err)
	assert.True(t, creds.Empty())

	_, err = creds.AdminID()
	assert.ErrorIs(t, err, ErrNoAdmin)
}

func TestFileStoreClearWipesAllFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(Credentials{
		AccessToken:  "tok",
		RefreshToken: "ref",
		User:         json.RawMessage(`{"id":1}`),
		Admin:        &AdminIdentity{ID: 3},
	}))
	require.NoError(t, store.Clear())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.AccessToken)
	assert.Empty(t, loaded.RefreshToken)
	assert.Empty(t, loaded.User)
	assert.Nil(t, loaded.Admin)

	// Nothing sensitive left on disk either.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "tok")
	assert.NotContains(t, string(raw), "ref")
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore(Credentials{AccessToken: "tok", Admin: &AdminIdentity{ID: 9}})
	require.NoError(t, store.Clear())

	creds, err := store.Load()
	require.NoError(t, err)
	assert.True(t, creds.Empty())
	assert.Nil(t, creds.Admin)
}
