package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/pager"
)

func setupDiskManager(t *testing.T) (*DiskManager, string) {
	t.Helper()
	dm, err := NewDiskManager("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, dm.Close()) })
	return dm, t.TempDir()
}

func TestCreateOpenClose(t *testing.T) {
	dm, dir := setupDiskManager(t)
	path := filepath.Join(dir, "a.db")

	require.NoError(t, dm.CreateFile(path))
	require.ErrorIs(t, dm.CreateFile(path), dberror.ErrFileExists)

	id, err := dm.OpenFile(path)
	require.NoError(t, err)

	// Opening the same path again returns the same handle.
	id2, err := dm.OpenFile(path)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	got, err := dm.GetFilePath(id)
	require.NoError(t, err)
	require.Equal(t, path, got)

	require.NoError(t, dm.CloseFile(id))
	_, err = dm.GetFilePath(id)
	require.ErrorIs(t, err, dberror.ErrFileNotOpen)
}

func TestOpenMissingFile(t *testing.T) {
	dm, dir := setupDiskManager(t)
	_, err := dm.OpenFile(filepath.Join(dir, "missing.db"))
	require.ErrorIs(t, err, dberror.ErrFileNotFound)
}

func TestWriteReadPage(t *testing.T) {
	dm, dir := setupDiskManager(t)
	path := filepath.Join(dir, "a.db")
	require.NoError(t, dm.CreateFile(path))
	file, err := dm.OpenFile(path)
	require.NoError(t, err)

	buf := make([]byte, pager.PageSize)
	buf[0] = 0xAB
	buf[pager.PageSize-1] = 0xCD
	id := pager.PageID{File: file, PageNo: 3}
	require.NoError(t, dm.WritePage(id, buf))

	got := make([]byte, pager.PageSize)
	require.NoError(t, dm.ReadPage(id, got))
	require.Equal(t, buf, got)
}

// Allocation advances the page counter without touching the file; reopening
// restores the counter from the file size.
func TestAllocatePage(t *testing.T) {
	dm, dir := setupDiskManager(t)
	path := filepath.Join(dir, "a.db")
	require.NoError(t, dm.CreateFile(path))
	file, err := dm.OpenFile(path)
	require.NoError(t, err)

	p0, err := dm.AllocatePage(file)
	require.NoError(t, err)
	p1, err := dm.AllocatePage(file)
	require.NoError(t, err)
	require.Equal(t, p0+1, p1)

	buf := make([]byte, pager.PageSize)
	require.NoError(t, dm.WritePage(pager.PageID{File: file, PageNo: p1}, buf))
	size, err := dm.GetFileSize(file)
	require.NoError(t, err)
	require.Equal(t, int64(p1+1)*pager.PageSize, size)

	require.NoError(t, dm.CloseFile(file))
	file, err = dm.OpenFile(path)
	require.NoError(t, err)
	next, err := dm.GetNextPageNo(file)
	require.NoError(t, err)
	require.Equal(t, p1+1, next)
}

func TestDestroyFile(t *testing.T) {
	dm, dir := setupDiskManager(t)
	path := filepath.Join(dir, "a.db")
	require.NoError(t, dm.CreateFile(path))

	require.NoError(t, dm.DestroyFile(path))
	_, err := dm.OpenFile(path)
	require.ErrorIs(t, err, dberror.ErrFileNotFound)
}
