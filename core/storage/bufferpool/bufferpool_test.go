package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/storage/pager"
)

// setupPool creates a pool over one open file in a temporary directory.
func setupPool(t *testing.T, poolSize int) (*BufferPoolManager, *disk.DiskManager, pager.FileID) {
	t.Helper()
	logger := zap.NewNop()
	dm, err := disk.NewDiskManager("", logger)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, dm.CreateFile(path))
	file, err := dm.OpenFile(path)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, dm.Close()) })
	return NewBufferPoolManager(poolSize, dm, nil, logger), dm, file
}

func TestNewPageAndFetch(t *testing.T) {
	bpm, _, file := setupPool(t, 4)

	page, err := bpm.NewPage(file)
	require.NoError(t, err)
	id := page.GetPageID()
	copy(page.GetData(), "payload")
	require.True(t, bpm.UnpinPage(id, true))

	page, err = bpm.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), page.GetData()[:7])
	require.True(t, bpm.UnpinPage(id, false))
}

// Filling the pool and fetching one more page forces an eviction; the
// evicted dirty page must survive the round trip through disk.
func TestEvictionWritesBackDirtyPages(t *testing.T) {
	bpm, _, file := setupPool(t, 3)

	var ids []pager.PageID
	for i := 0; i < 3; i++ {
		page, err := bpm.NewPage(file)
		require.NoError(t, err)
		page.GetData()[0] = byte(i + 1)
		ids = append(ids, page.GetPageID())
		require.True(t, bpm.UnpinPage(page.GetPageID(), true))
	}

	// A fourth page evicts the least recently used frame.
	page, err := bpm.NewPage(file)
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(page.GetPageID(), false))

	for i, id := range ids {
		page, err := bpm.FetchPage(id)
		require.NoError(t, err)
		require.Equal(t, byte(i+1), page.GetData()[0])
		require.True(t, bpm.UnpinPage(id, false))
	}
}

func TestPoolFullWhenAllPinned(t *testing.T) {
	bpm, _, file := setupPool(t, 2)

	for i := 0; i < 2; i++ {
		_, err := bpm.NewPage(file)
		require.NoError(t, err)
	}
	require.Equal(t, 2, bpm.PinnedFrames())

	_, err := bpm.NewPage(file)
	require.ErrorIs(t, err, dberror.ErrBufferPoolFull)
}

// A pinned page is never chosen as an eviction victim even when it is the
// least recently used.
func TestPinnedPageNotEvicted(t *testing.T) {
	bpm, _, file := setupPool(t, 2)

	pinned, err := bpm.NewPage(file)
	require.NoError(t, err)
	pinned.GetData()[0] = 42

	other, err := bpm.NewPage(file)
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(other.GetPageID(), false))

	// This eviction must pick the unpinned frame.
	third, err := bpm.NewPage(file)
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(third.GetPageID(), false))

	require.Equal(t, byte(42), pinned.GetData()[0])
	require.True(t, bpm.UnpinPage(pinned.GetPageID(), false))
}

func TestUnpinUnknownPage(t *testing.T) {
	bpm, _, _ := setupPool(t, 2)
	require.False(t, bpm.UnpinPage(pager.PageID{File: 7, PageNo: 7}, false))
}

func TestFlushAllPages(t *testing.T) {
	bpm, dm, file := setupPool(t, 4)

	page, err := bpm.NewPage(file)
	require.NoError(t, err)
	id := page.GetPageID()
	page.GetData()[0] = 0xEE
	require.True(t, bpm.UnpinPage(id, true))

	require.NoError(t, bpm.FlushAllPages(file))

	buf := make([]byte, pager.PageSize)
	require.NoError(t, dm.ReadPage(id, buf))
	require.Equal(t, byte(0xEE), buf[0])
}

func TestFetchPinCounts(t *testing.T) {
	bpm, _, file := setupPool(t, 4)

	page, err := bpm.NewPage(file)
	require.NoError(t, err)
	id := page.GetPageID()
	require.Equal(t, 1, bpm.PinnedFrames())

	// Fetching the cached page bumps the pin count on the same frame.
	_, err = bpm.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, uint32(2), page.GetPinCount())

	require.True(t, bpm.UnpinPage(id, false))
	require.True(t, bpm.UnpinPage(id, false))
	require.Equal(t, 0, bpm.PinnedFrames())
}
