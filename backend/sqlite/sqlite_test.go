package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/attrmap/backend"
	"github.com/jacentio/attrmap/backend/backendtest"
)

func openTest(t *testing.T) *Client {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "attrs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) (backend.Client, string) {
		c := openTest(t)
		c.SetPageSize(3)
		return c, "things"
	})
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attrs.db")
	ctx := context.Background()

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.CreateContainer(ctx, "things"))
	require.NoError(t, c.Put(ctx, "things", backend.Item{Name: "a", Attributes: []backend.Attribute{{Name: "x", Value: "1"}}}, nil))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	attrs, err := c.Get(ctx, "things", "a", nil, false)
	require.NoError(t, err)
	assert.Equal(t, []backend.Attribute{{Name: "x", Value: "1"}}, attrs)
}

func TestPragmas(t *testing.T) {
	c := openTest(t)

	var mode string
	require.NoError(t, c.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, c.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestDropContainer_CascadesAttributes(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	require.NoError(t, c.CreateContainer(ctx, "things"))
	require.NoError(t, c.Put(ctx, "things", backend.Item{Name: "a", Attributes: []backend.Attribute{{Name: "x", Value: "1"}}}, nil))

	require.NoError(t, c.DropContainer(ctx, "things"))
	_, err := c.Get(ctx, "things", "a", nil, false)
	assert.ErrorIs(t, err, backend.ErrContainerNotFound)

	var n int
	require.NoError(t, c.db.QueryRow("SELECT COUNT(*) FROM attributes").Scan(&n))
	assert.Zero(t, n)
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause("things", []backend.Predicate{
		{ItemName: true, Op: backend.Equal, Value: "a"},
		{Name: "color", Op: backend.IsNull},
	})
	assert.Equal(t,
		"container = ? AND item = ? AND item NOT IN (SELECT item FROM attributes WHERE container = ? AND name = ?)",
		where)
	assert.Equal(t, []any{"things", "a", "things", "color"}, args)
}
