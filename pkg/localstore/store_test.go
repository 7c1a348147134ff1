package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "state.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("maturity-storage", []byte(`{"maturityState":1}`)))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get("maturity-storage")
	require.NoError(t, err)
	assert.JSONEq(t, `{"maturityState":1}`, string(got))
}

func TestStoreDelete(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put("k", []byte("v")))
	require.NoError(t, store.Delete("k"))
	_, err = store.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
}
