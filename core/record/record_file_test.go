package record

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/bufferpool"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/storage/pager"
	"github.com/sakuradb/sakura/core/transaction"
)

// setupRecordFile creates a record file in a temporary directory.
func setupRecordFile(t *testing.T, recordSize int) (*RecordFile, *disk.DiskManager, *bufferpool.BufferPoolManager) {
	t.Helper()
	logger := zap.NewNop()
	dm, err := disk.NewDiskManager("", logger)
	require.NoError(t, err)
	bpm := bufferpool.NewBufferPoolManager(64, dm, nil, logger)

	path := filepath.Join(t.TempDir(), "test.tbl")
	require.NoError(t, CreateRecordFile(dm, path, recordSize))
	f, err := OpenRecordFile(dm, bpm, path, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, f.Close(dm))
		require.NoError(t, dm.Close())
	})
	return f, dm, bpm
}

func bootstrapCtx() *transaction.Context {
	return transaction.NewContext(nil, nil, nil)
}

func record16(b byte) []byte {
	data := make([]byte, 16)
	for i := range data {
		data[i] = b
	}
	return data
}

func TestRecordFileCRUD(t *testing.T) {
	f, _, _ := setupRecordFile(t, 16)
	ctx := bootstrapCtx()

	rid, err := f.InsertRecord(ctx, record16(0xAA))
	require.NoError(t, err)
	require.Equal(t, FirstRecordPage, rid.PageNo)
	require.Equal(t, int32(0), rid.SlotNo)

	got, err := f.GetRecord(ctx, rid)
	require.NoError(t, err)
	require.True(t, bytes.Equal(record16(0xAA), got))

	require.NoError(t, f.UpdateRecord(ctx, rid, record16(0xBB)))
	got, err = f.GetRecord(ctx, rid)
	require.NoError(t, err)
	require.True(t, bytes.Equal(record16(0xBB), got))

	require.NoError(t, f.DeleteRecord(ctx, rid))
	_, err = f.GetRecord(ctx, rid)
	require.ErrorIs(t, err, dberror.ErrRecordNotFound)
}

func TestRecordFileGetErrors(t *testing.T) {
	f, _, _ := setupRecordFile(t, 16)
	ctx := bootstrapCtx()

	_, err := f.GetRecord(ctx, common.Rid{PageNo: 99, SlotNo: 0})
	require.ErrorIs(t, err, dberror.ErrPageNotExist)

	rid, err := f.InsertRecord(ctx, record16(1))
	require.NoError(t, err)

	_, err = f.GetRecord(ctx, common.Rid{PageNo: rid.PageNo, SlotNo: rid.SlotNo + 1})
	require.ErrorIs(t, err, dberror.ErrRecordNotFound)
}

// A 2000-byte record leaves room for exactly two slots per page, so four
// inserts span two pages and a delete puts the first page back on the
// free list.
func TestRecordFileFreeListReuse(t *testing.T) {
	f, _, _ := setupRecordFile(t, 2000)
	ctx := bootstrapCtx()

	data := make([]byte, 2000)
	want := []common.Rid{
		{PageNo: 1, SlotNo: 0},
		{PageNo: 1, SlotNo: 1},
		{PageNo: 2, SlotNo: 0},
		{PageNo: 2, SlotNo: 1},
	}
	for i, w := range want {
		data[0] = byte(i + 1)
		rid, err := f.InsertRecord(ctx, data)
		require.NoError(t, err)
		require.Equal(t, w, rid)
	}

	require.NoError(t, f.DeleteRecord(ctx, common.Rid{PageNo: 1, SlotNo: 0}))

	data[0] = 9
	rid, err := f.InsertRecord(ctx, data)
	require.NoError(t, err)
	require.Equal(t, common.Rid{PageNo: 1, SlotNo: 0}, rid)
}

func TestRecordFileInsertAt(t *testing.T) {
	f, _, _ := setupRecordFile(t, 16)
	ctx := bootstrapCtx()

	rid, err := f.InsertRecord(ctx, record16(1))
	require.NoError(t, err)

	err = f.InsertRecordAt(rid, record16(2))
	require.ErrorIs(t, err, dberror.ErrSlotOccupied)

	target := common.Rid{PageNo: rid.PageNo, SlotNo: rid.SlotNo + 2}
	require.NoError(t, f.InsertRecordAt(target, record16(3)))
	got, err := f.GetRecord(ctx, target)
	require.NoError(t, err)
	require.True(t, bytes.Equal(record16(3), got))
}

func TestRecordScan(t *testing.T) {
	f, _, _ := setupRecordFile(t, 16)
	ctx := bootstrapCtx()

	var rids []common.Rid
	for i := 0; i < 10; i++ {
		rid, err := f.InsertRecord(ctx, record16(byte(i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, f.DeleteRecord(ctx, rids[3]))

	scan, err := NewRecordScan(ctx, f)
	require.NoError(t, err)

	var seen []byte
	for !scan.IsEnd() {
		data, err := scan.Get(ctx)
		require.NoError(t, err)
		seen = append(seen, data[0])
		require.NoError(t, scan.Next())
	}
	require.Equal(t, []byte{0, 1, 2, 4, 5, 6, 7, 8, 9}, seen)
}

func TestRecordScanEmpty(t *testing.T) {
	f, _, _ := setupRecordFile(t, 16)
	ctx := bootstrapCtx()

	scan, err := NewRecordScan(ctx, f)
	require.NoError(t, err)
	require.True(t, scan.IsEnd())
}

func TestRecordFilePersistence(t *testing.T) {
	logger := zap.NewNop()
	dm, err := disk.NewDiskManager("", logger)
	require.NoError(t, err)
	bpm := bufferpool.NewBufferPoolManager(64, dm, nil, logger)
	defer dm.Close()

	path := filepath.Join(t.TempDir(), "persist.tbl")
	require.NoError(t, CreateRecordFile(dm, path, 32))
	f, err := OpenRecordFile(dm, bpm, path, logger)
	require.NoError(t, err)

	ctx := bootstrapCtx()
	data := make([]byte, 32)
	copy(data, "hello")
	rid, err := f.InsertRecord(ctx, data)
	require.NoError(t, err)
	require.NoError(t, f.Close(dm))

	f, err = OpenRecordFile(dm, bpm, path, logger)
	require.NoError(t, err)
	defer f.Close(dm)

	got, err := f.GetRecord(ctx, rid)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
	require.Equal(t, int32(32), f.RecordSize())
}

func TestRecordOpsLeaveNoPinnedPages(t *testing.T) {
	f, _, bpm := setupRecordFile(t, 16)
	ctx := bootstrapCtx()

	rid, err := f.InsertRecord(ctx, record16(7))
	require.NoError(t, err)
	_, err = f.GetRecord(ctx, rid)
	require.NoError(t, err)
	require.NoError(t, f.UpdateRecord(ctx, rid, record16(8)))
	require.NoError(t, f.DeleteRecord(ctx, rid))
	require.Equal(t, 0, bpm.PinnedFrames())
}

func TestSlotsPerPage(t *testing.T) {
	// 8 bytes of page header leave 4088 bytes, shared between slots and
	// one bitmap bit per slot.
	require.Equal(t, int32(2), slotsPerPage(2000))
	require.Equal(t, int32(253), slotsPerPage(16))
	require.True(t, slotsPerPage(16)*16+(slotsPerPage(16)+7)/8 <= pager.PageSize-pageHeaderSize)
}
