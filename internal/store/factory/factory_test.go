package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskvisor/internal/store"
	"github.com/loykin/taskvisor/internal/store/file"
	rd "github.com/loykin/taskvisor/internal/store/redis"
	sq "github.com/loykin/taskvisor/internal/store/sqlite"
)

func TestOpen_DSNSelection(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)

	m, err := Open("memory://")
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, m)

	dir := t.TempDir()
	f, err := Open("file://" + filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, f)

	bare, err := Open(filepath.Join(dir, "state.yaml"))
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, bare)

	s, err := Open("sqlite://" + filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	assert.IsType(t, &sq.DB{}, s)
	_ = s.Close()

	mr := miniredis.RunT(t)
	r, err := Open("redis://" + mr.Addr())
	require.NoError(t, err)
	assert.IsType(t, &rd.Store{}, r)
	_ = r.Close()
}

func TestOpen_UnknownScheme(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	for _, dsn := range []string{"mysql://nope", "mongodb://host/db", "s3://bucket/state.json"} {
		_, err := Open(dsn)
		assert.Error(t, err, dsn)
		assert.Contains(t, err.Error(), "unsupported store DSN scheme")
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen_PostgresUnreachable(t *testing.T) {
	// schema creation needs a live server
	_, err := Open("postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	assert.Error(t, err)
}
