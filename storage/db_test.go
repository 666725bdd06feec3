package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(dir, "bolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		level.Close()
		bolt.Close()
	})
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestDatabaseRoundTrip(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, db.Put([]byte("cert/b1"), []byte("one")))
			ok, err := db.Has([]byte("cert/b1"))
			require.NoError(t, err)
			require.True(t, ok)

			got, err := db.Get([]byte("cert/b1"))
			require.NoError(t, err)
			require.Equal(t, "one", string(got))

			require.NoError(t, db.Delete([]byte("cert/b1")))
			ok, err = db.Has([]byte("cert/b1"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestDatabaseIteratePrefixOrdered(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("topic/a/0002"), []byte("2")))
			require.NoError(t, db.Put([]byte("topic/a/0001"), []byte("1")))
			require.NoError(t, db.Put([]byte("topic/b/0001"), []byte("x")))

			var seen []string
			require.NoError(t, db.Iterate([]byte("topic/a/"), func(_, value []byte) error {
				seen = append(seen, string(value))
				return nil
			}))
			require.Equal(t, []string{"1", "2"}, seen)
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("cassandra", t.TempDir())
	require.Error(t, err)

	db, err := Open("", "")
	require.NoError(t, err)
	require.IsType(t, &MemDB{}, db)
}
