package memory

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/backend/backendtest"
)

func TestConformance(t *testing.T) {
	suite := &backendtest.Suite{
		NewBackend: func(t *testing.T) (backend.Operations, func()) {
			fs := New()
			return fs.Operations(), func() { fs.Close() }
		},
	}
	suite.RunAll(t)
}

func TestHardLinkSharesContent(t *testing.T) {
	fs := New()
	ctx := backendtest.Context()
	of := &backend.OpenFile{}

	require.NoError(t, fs.Create(ctx, "/a.txt", 0o644, of))
	_, err := fs.Write(ctx, "/a.txt", []byte("shared"), 0, of)
	require.NoError(t, err)

	require.NoError(t, fs.Link(ctx, "/a.txt", "/b.txt"))

	attr, err := fs.Getattr(ctx, "/b.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), attr.Size)
	assert.Equal(t, uint32(2), attr.Nlink)

	buf := make([]byte, 6)
	n, err := fs.Read(ctx, "/b.txt", buf, 0, of)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(buf[:n]))
}

func TestConcurrentExclusiveCreate(t *testing.T) {
	fs := New()
	ctx := backendtest.Context()

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			of := &backend.OpenFile{Flags: os.O_RDWR | os.O_CREATE | os.O_EXCL}
			if err := fs.Create(ctx, "/contested.txt", 0o644, of); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestCopyFileRange(t *testing.T) {
	fs := New()
	ctx := backendtest.Context()
	ofIn := &backend.OpenFile{}
	ofOut := &backend.OpenFile{}

	require.NoError(t, fs.Create(ctx, "/src.bin", 0o644, ofIn))
	require.NoError(t, fs.Create(ctx, "/dst.bin", 0o644, ofOut))
	_, err := fs.Write(ctx, "/src.bin", []byte("0123456789"), 0, ofIn)
	require.NoError(t, err)

	n, err := fs.CopyFileRange(ctx, "/src.bin", ofIn, 2, "/dst.bin", ofOut, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = fs.Read(ctx, "/dst.bin", buf, 0, ofOut)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(buf[:n]))
}

func TestCreateTruncatesExistingFile(t *testing.T) {
	fs := New()
	ctx := backendtest.Context()

	of := &backend.OpenFile{Flags: os.O_RDWR | os.O_CREATE}
	require.NoError(t, fs.Create(ctx, "/f", 0o644, of))
	_, err := fs.Write(ctx, "/f", []byte("old content"), 0, of)
	require.NoError(t, err)

	// Re-creating without O_EXCL but with O_TRUNC empties the file.
	of = &backend.OpenFile{Flags: os.O_RDWR | os.O_CREATE | os.O_TRUNC}
	require.NoError(t, fs.Create(ctx, "/f", 0o644, of))

	attr, err := fs.Getattr(ctx, "/f", nil)
	require.NoError(t, err)
	assert.Zero(t, attr.Size)

	// Without O_TRUNC the content survives.
	of = &backend.OpenFile{Flags: os.O_RDWR | os.O_CREATE}
	_, err = fs.Write(ctx, "/f", []byte("kept"), 0, of)
	require.NoError(t, err)
	require.NoError(t, fs.Create(ctx, "/f", 0o644, of))
	attr, err = fs.Getattr(ctx, "/f", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attr.Size)
}
