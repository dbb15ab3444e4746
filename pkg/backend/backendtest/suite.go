// Package backendtest provides a conformance suite that any backend
// capability table can be run against. Backend packages wire their
// constructor into a Suite and get the shared behavioral tests for free.
package backendtest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Suite runs the conformance tests against one backend implementation.
type Suite struct {
	// NewBackend creates a fresh, empty backend for one test. The
	// returned cleanup releases its resources.
	NewBackend func(t *testing.T) (backend.Operations, func())
}

// Context returns a request context carrying a root caller identity.
func Context() context.Context {
	return reqctx.WithCaller(context.Background(), reqctx.Caller{UID: 0, GID: 0, PID: 1})
}

// RunAll executes the full conformance suite.
func (suite *Suite) RunAll(t *testing.T) {
	t.Run("Nodes", suite.testNodes)
	t.Run("ReadWrite", suite.testReadWrite)
	t.Run("Readdir", suite.testReaddir)
	t.Run("Errors", suite.testErrors)
}

func (suite *Suite) create(t *testing.T, ops backend.Operations, path string) *backend.OpenFile {
	t.Helper()
	of := &backend.OpenFile{Flags: os.O_RDWR}
	if ops.Create != nil {
		require.NoError(t, ops.Create(Context(), path, 0o644, of))
		return of
	}
	require.NoError(t, ops.Mknod(Context(), path, 0o644, 0))
	require.NoError(t, ops.Open(Context(), path, of))
	return of
}

func (suite *Suite) testNodes(test *testing.T) {
	test.Run("CreateAndStat", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		suite.create(t, ops, "/file.txt")

		attr, err := ops.Getattr(ctx, "/file.txt", nil)
		require.NoError(t, err)
		assert.True(t, attr.Mode.IsRegular())
		assert.Equal(t, uint64(0), attr.Size)
	})

	test.Run("MkdirAndStat", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		require.NoError(t, ops.Mkdir(ctx, "/subdir", 0o755))

		attr, err := ops.Getattr(ctx, "/subdir", nil)
		require.NoError(t, err)
		assert.True(t, attr.Mode.IsDir())
	})

	test.Run("UnlinkRemoves", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		suite.create(t, ops, "/gone.txt")
		require.NoError(t, ops.Unlink(ctx, "/gone.txt"))

		_, err := ops.Getattr(ctx, "/gone.txt", nil)
		assert.True(t, backend.IsCode(err, backend.ErrNotFound))
	})

	test.Run("RmdirRejectsNonEmpty", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		require.NoError(t, ops.Mkdir(ctx, "/dir", 0o755))
		suite.create(t, ops, "/dir/child.txt")

		err := ops.Rmdir(ctx, "/dir")
		assert.True(t, backend.IsCode(err, backend.ErrNotEmpty))

		require.NoError(t, ops.Unlink(ctx, "/dir/child.txt"))
		require.NoError(t, ops.Rmdir(ctx, "/dir"))
	})

	test.Run("RenameMoves", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		of := suite.create(t, ops, "/old.txt")
		_, err := ops.Write(ctx, "/old.txt", []byte("payload"), 0, of)
		require.NoError(t, err)

		require.NoError(t, ops.Rename(ctx, "/old.txt", "/new.txt"))

		_, err = ops.Getattr(ctx, "/old.txt", nil)
		assert.True(t, backend.IsCode(err, backend.ErrNotFound))

		attr, err := ops.Getattr(ctx, "/new.txt", nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), attr.Size)
	})
}

func (suite *Suite) testReadWrite(test *testing.T) {
	test.Run("WriteThenRead", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		of := suite.create(t, ops, "/data.bin")
		n, err := ops.Write(ctx, "/data.bin", []byte("hello world"), 0, of)
		require.NoError(t, err)
		assert.Equal(t, 11, n)

		buf := make([]byte, 5)
		n, err = ops.Read(ctx, "/data.bin", buf, 6, of)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, "world", string(buf[:n]))
	})

	test.Run("ShortReadAtEOF", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		of := suite.create(t, ops, "/short.bin")
		_, err := ops.Write(ctx, "/short.bin", []byte("abc"), 0, of)
		require.NoError(t, err)

		buf := make([]byte, 16)
		n, err := ops.Read(ctx, "/short.bin", buf, 0, of)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = ops.Read(ctx, "/short.bin", buf, 100, of)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	test.Run("SparseWriteZeroFills", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		of := suite.create(t, ops, "/sparse.bin")
		_, err := ops.Write(ctx, "/sparse.bin", []byte("x"), 4, of)
		require.NoError(t, err)

		buf := make([]byte, 8)
		n, err := ops.Read(ctx, "/sparse.bin", buf, 0, of)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte{0, 0, 0, 0, 'x'}, buf[:n])
	})

	test.Run("TruncateGrowsAndShrinks", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		of := suite.create(t, ops, "/sized.bin")
		_, err := ops.Write(ctx, "/sized.bin", []byte("0123456789"), 0, of)
		require.NoError(t, err)

		require.NoError(t, ops.Truncate(ctx, "/sized.bin", 4, of))
		attr, err := ops.Getattr(ctx, "/sized.bin", nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), attr.Size)

		require.NoError(t, ops.Truncate(ctx, "/sized.bin", 8, of))
		buf := make([]byte, 8)
		n, err := ops.Read(ctx, "/sized.bin", buf, 0, of)
		require.NoError(t, err)
		assert.Equal(t, []byte{'0', '1', '2', '3', 0, 0, 0, 0}, buf[:n])
	})
}

func (suite *Suite) testReaddir(test *testing.T) {
	test.Run("ListsCreatedEntries", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		require.NoError(t, ops.Mkdir(ctx, "/dir", 0o755))
		suite.create(t, ops, "/dir/a.txt")
		suite.create(t, ops, "/dir/b.txt")

		names := map[string]bool{}
		fill := func(name string, attr *backend.Attr, nextOff uint64, plus bool) bool {
			names[name] = true
			return false
		}
		require.NoError(t, ops.Readdir(ctx, "/dir", fill, 0, &backend.OpenFile{}, 0))

		assert.True(t, names["a.txt"])
		assert.True(t, names["b.txt"])
	})

	test.Run("PlusFormCarriesAttributes", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		of := suite.create(t, ops, "/big.bin")
		_, err := ops.Write(ctx, "/big.bin", make([]byte, 100), 0, of)
		require.NoError(t, err)

		var size uint64
		fill := func(name string, attr *backend.Attr, nextOff uint64, plus bool) bool {
			if name == "big.bin" {
				require.True(t, plus)
				require.NotNil(t, attr)
				size = attr.Size
			}
			return false
		}
		require.NoError(t, ops.Readdir(ctx, "/", fill, 0, &backend.OpenFile{}, backend.ReaddirPlus))
		assert.Equal(t, uint64(100), size)
	})
}

func (suite *Suite) testErrors(test *testing.T) {
	test.Run("GetattrMissing", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()

		_, err := ops.Getattr(Context(), "/absent", nil)
		assert.True(t, backend.IsCode(err, backend.ErrNotFound))
	})

	test.Run("ExclusiveCreateTwice", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		if ops.Create == nil {
			t.Skip("no create capability")
		}

		of := &backend.OpenFile{Flags: os.O_RDWR | os.O_CREATE | os.O_EXCL}
		require.NoError(t, ops.Create(ctx, "/once.txt", 0o644, of))

		err := ops.Create(ctx, "/once.txt", 0o644, &backend.OpenFile{Flags: os.O_RDWR | os.O_CREATE | os.O_EXCL})
		assert.True(t, backend.IsCode(err, backend.ErrExists))
	})

	test.Run("OpenDirectoryAsFile", func(t *testing.T) {
		ops, cleanup := suite.NewBackend(t)
		defer cleanup()
		ctx := Context()

		require.NoError(t, ops.Mkdir(ctx, "/dir", 0o755))
		err := ops.Open(ctx, "/dir", &backend.OpenFile{})
		assert.True(t, backend.IsCode(err, backend.ErrIsDirectory))
	})
}
