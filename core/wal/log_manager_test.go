package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/disk"
)

func setupLogManager(t *testing.T) *LogManager {
	t.Helper()
	logger := zap.NewNop()
	dm, err := disk.NewDiskManager(filepath.Join(t.TempDir(), "wal.log"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, dm.Close()) })
	return NewLogManager(dm, logger)
}

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	lm := setupLogManager(t)

	lsn1, err := lm.Append(LogRecordTypeBegin, 1)
	require.NoError(t, err)
	lsn2, err := lm.Append(LogRecordTypeCommit, 1)
	require.NoError(t, err)
	require.Equal(t, LSN(1), lsn1)
	require.Equal(t, LSN(2), lsn2)
}

func TestSyncThenReadAll(t *testing.T) {
	lm := setupLogManager(t)

	_, err := lm.Append(LogRecordTypeBegin, 7)
	require.NoError(t, err)
	_, err = lm.Append(LogRecordTypeBegin, 8)
	require.NoError(t, err)
	_, err = lm.Append(LogRecordTypeAbort, 8)
	require.NoError(t, err)
	_, err = lm.Append(LogRecordTypeCommit, 7)
	require.NoError(t, err)
	require.NoError(t, lm.Sync())

	records, err := lm.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	require.Equal(t, LogRecordTypeBegin, records[0].Type)
	require.Equal(t, uint64(7), records[0].TxnID)
	require.Equal(t, LogRecordTypeAbort, records[2].Type)
	require.Equal(t, uint64(8), records[2].TxnID)
	require.Equal(t, LogRecordTypeCommit, records[3].Type)
	for i, rec := range records {
		require.Equal(t, LSN(i+1), rec.LSN)
	}
}

// Markers stay buffered until Sync; readers only see durable records.
func TestUnsyncedMarkersNotVisible(t *testing.T) {
	lm := setupLogManager(t)

	_, err := lm.Append(LogRecordTypeBegin, 1)
	require.NoError(t, err)

	records, err := lm.ReadAll()
	require.NoError(t, err)
	require.Empty(t, records)

	require.NoError(t, lm.Sync())
	records, err = lm.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestSyncEmptyBufferIsNoop(t *testing.T) {
	lm := setupLogManager(t)
	require.NoError(t, lm.Sync())
}

func TestLogWithoutStream(t *testing.T) {
	logger := zap.NewNop()
	dm, err := disk.NewDiskManager("", logger)
	require.NoError(t, err)
	defer dm.Close()

	lm := NewLogManager(dm, logger)
	_, err = lm.Append(LogRecordTypeBegin, 1)
	require.NoError(t, err)
	require.ErrorIs(t, lm.Sync(), dberror.ErrFileNotOpen)
}
