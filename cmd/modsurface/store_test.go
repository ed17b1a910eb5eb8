package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]KVStore {
	t.Helper()
	sq, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]KVStore{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestKVStore_RoundTrip(t *testing.T) {
	for name, kv := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			path := []string{storeKeyParamMap, "http://example.org/plugins/eq#stereo"}

			has, err := kv.Has(path)
			require.NoError(t, err)
			assert.False(t, has)

			var missing ParamMapping
			ok, err := kv.Get(path, &missing)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set(path, ParamMapping{"gain", "", "freq"}))

			var got ParamMapping
			ok, err = kv.Get(path, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ParamMapping{"gain", "", "freq"}, got)

			has, err = kv.Has(path)
			require.NoError(t, err)
			assert.True(t, has)

			// Overwrite.
			require.NoError(t, kv.Set(path, ParamMapping{"q"}))
			ok, err = kv.Get(path, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ParamMapping{"q"}, got)
		})
	}
}

func TestKVStore_PathsDoNotCollide(t *testing.T) {
	for name, kv := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set([]string{"a/b"}, "joined"))
			require.NoError(t, kv.Set([]string{"a", "b"}, "nested"))

			var v string
			_, err := kv.Get([]string{"a/b"}, &v)
			require.NoError(t, err)
			assert.Equal(t, "joined", v)

			_, err = kv.Get([]string{"a", "b"}, &v)
			require.NoError(t, err)
			assert.Equal(t, "nested", v)
		})
	}
}

func TestKVStore_EmptyPath(t *testing.T) {
	for name, kv := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, kv.Set(nil, 1))
			_, err := kv.Has([]string{})
			assert.Error(t, err)
		})
	}
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set([]string{storeKeyCurrentEffect}, "/graph/delay_2"))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	var id string
	ok, err := s.Get([]string{storeKeyCurrentEffect}, &id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/graph/delay_2", id)
}

func TestOpenStore_Memory(t *testing.T) {
	kv, err := openStore(":memory:")
	require.NoError(t, err)
	_, isMem := kv.(*MemoryStore)
	assert.True(t, isMem)
}
