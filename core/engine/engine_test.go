package engine

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/indexing/btree"
	"github.com/sakuradb/sakura/core/storage/bufferpool"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/transaction"
	"github.com/sakuradb/sakura/core/wal"
)

type testDB struct {
	dir    string
	dm     *disk.DiskManager
	bpm    *bufferpool.BufferPoolManager
	engine *Engine
	txnMgr *TransactionManager
	logMgr *wal.LogManager
}

// setupDB wires a full engine stack in a temporary directory.
func setupDB(t *testing.T) *testDB {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	dm, err := disk.NewDiskManager(filepath.Join(dir, "wal.log"), logger)
	require.NoError(t, err)
	bpm := bufferpool.NewBufferPoolManager(64, dm, nil, logger)
	logMgr := wal.NewLogManager(dm, logger)
	lockMgr := transaction.NewLockManager(nil, logger)
	eng := NewEngine(dm, bpm, logger)
	txnMgr := NewTransactionManager(eng, lockMgr, logMgr, nil, logger)

	t.Cleanup(func() {
		require.NoError(t, eng.Close())
		require.NoError(t, dm.Close())
	})
	return &testDB{dir: dir, dm: dm, bpm: bpm, engine: eng, txnMgr: txnMgr, logMgr: logMgr}
}

// intRecord builds an 8-byte record with an INT column at offset 0.
func intRecord(v int32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return data
}

func (db *testDB) createIntTable(t *testing.T, name string) *Table {
	t.Helper()
	tbl, err := db.engine.CreateTable(name, filepath.Join(db.dir, name+".tbl"), 8)
	require.NoError(t, err)
	return tbl
}

func (db *testDB) createIntIndex(t *testing.T, tbl *Table, name string) *TableIndex {
	t.Helper()
	ti, err := db.engine.CreateIndexOn(tbl, name, filepath.Join(db.dir, name+".idx"),
		[]btree.IndexColumn{btree.IntColumn()}, []int32{0}, 4)
	require.NoError(t, err)
	return ti
}

func TestCreateTableDuplicate(t *testing.T) {
	db := setupDB(t)
	db.createIntTable(t, "users")
	_, err := db.engine.CreateTable("users", filepath.Join(db.dir, "users2.tbl"), 8)
	require.ErrorIs(t, err, dberror.ErrFileExists)
}

func TestInsertCommitVisible(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")

	txn, err := db.txnMgr.Begin()
	require.NoError(t, err)
	ctx := db.txnMgr.Context(txn)

	rid, err := tbl.InsertRecord(ctx, intRecord(42))
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(txn))
	require.Equal(t, transaction.StateCommitted, txn.State())

	// A later transaction sees the committed record.
	txn2, err := db.txnMgr.Begin()
	require.NoError(t, err)
	got, err := tbl.GetRecord(db.txnMgr.Context(txn2), rid)
	require.NoError(t, err)
	require.Equal(t, intRecord(42), got)
	require.NoError(t, db.txnMgr.Commit(txn2))
}

// Aborting an insert removes both the record and its index entry.
func TestAbortRollsBackInsert(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")
	ti := db.createIntIndex(t, tbl, "users_pk")

	txn, err := db.txnMgr.Begin()
	require.NoError(t, err)
	ctx := db.txnMgr.Context(txn)

	rid, err := tbl.InsertRecord(ctx, intRecord(42))
	require.NoError(t, err)

	gotRid, ok, err := ti.Index.GetValue(btree.IntKey(42))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, gotRid)

	require.NoError(t, db.txnMgr.Abort(txn))
	require.Equal(t, transaction.StateAborted, txn.State())

	check, err := db.txnMgr.Begin()
	require.NoError(t, err)
	_, err = tbl.GetRecord(db.txnMgr.Context(check), rid)
	require.ErrorIs(t, err, dberror.ErrRecordNotFound)
	_, ok, err = ti.Index.GetValue(btree.IntKey(42))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, db.txnMgr.Commit(check))
}

// Aborting an update restores the old record image and moves the index
// entry back to the old key.
func TestAbortRollsBackUpdate(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")
	ti := db.createIntIndex(t, tbl, "users_pk")

	setup, err := db.txnMgr.Begin()
	require.NoError(t, err)
	rid, err := tbl.InsertRecord(db.txnMgr.Context(setup), intRecord(1))
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(setup))

	txn, err := db.txnMgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateRecord(db.txnMgr.Context(txn), rid, intRecord(2)))
	require.NoError(t, db.txnMgr.Abort(txn))

	check, err := db.txnMgr.Begin()
	require.NoError(t, err)
	got, err := tbl.GetRecord(db.txnMgr.Context(check), rid)
	require.NoError(t, err)
	require.Equal(t, intRecord(1), got)

	gotRid, ok, err := ti.Index.GetValue(btree.IntKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, gotRid)
	_, ok, err = ti.Index.GetValue(btree.IntKey(2))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, db.txnMgr.Commit(check))
}

// Aborting a delete restores the record at its original rid together with
// the index entry.
func TestAbortRollsBackDelete(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")
	ti := db.createIntIndex(t, tbl, "users_pk")

	setup, err := db.txnMgr.Begin()
	require.NoError(t, err)
	rid, err := tbl.InsertRecord(db.txnMgr.Context(setup), intRecord(7))
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(setup))

	txn, err := db.txnMgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tbl.DeleteRecord(db.txnMgr.Context(txn), rid))
	require.NoError(t, db.txnMgr.Abort(txn))

	check, err := db.txnMgr.Begin()
	require.NoError(t, err)
	got, err := tbl.GetRecord(db.txnMgr.Context(check), rid)
	require.NoError(t, err)
	require.Equal(t, intRecord(7), got)

	gotRid, ok, err := ti.Index.GetValue(btree.IntKey(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, gotRid)
	require.NoError(t, db.txnMgr.Commit(check))
}

// Creating an index on a populated table backfills every existing record.
func TestCreateIndexBackfills(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")

	setup, err := db.txnMgr.Begin()
	require.NoError(t, err)
	ctx := db.txnMgr.Context(setup)
	for _, v := range []int32{30, 10, 20} {
		_, err := tbl.InsertRecord(ctx, intRecord(v))
		require.NoError(t, err)
	}
	require.NoError(t, db.txnMgr.Commit(setup))

	ti := db.createIntIndex(t, tbl, "users_pk")
	for _, v := range []int32{10, 20, 30} {
		_, ok, err := ti.Index.GetValue(btree.IntKey(v))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

// A conflicting younger reader dies rather than waiting on the older
// writer's exclusive lock.
func TestConflictAbortsYoungerTransaction(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")

	setup, err := db.txnMgr.Begin()
	require.NoError(t, err)
	rid, err := tbl.InsertRecord(db.txnMgr.Context(setup), intRecord(1))
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(setup))

	older, err := db.txnMgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateRecord(db.txnMgr.Context(older), rid, intRecord(2)))

	younger, err := db.txnMgr.Begin()
	require.NoError(t, err)
	_, err = tbl.GetRecord(db.txnMgr.Context(younger), rid)
	var abortErr *transaction.AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, transaction.AbortDeadlockPrevention, abortErr.Reason)
	require.NoError(t, db.txnMgr.Abort(younger))

	require.NoError(t, db.txnMgr.Commit(older))
}

// Commit releases locks so later transactions can write the same record.
func TestCommitReleasesLocks(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")

	first, err := db.txnMgr.Begin()
	require.NoError(t, err)
	rid, err := tbl.InsertRecord(db.txnMgr.Context(first), intRecord(1))
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(first))
	require.Empty(t, first.LockSetSnapshot())

	second, err := db.txnMgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateRecord(db.txnMgr.Context(second), rid, intRecord(2)))
	require.NoError(t, db.txnMgr.Commit(second))
}

// Transaction outcomes are recorded as durable markers.
func TestTransactionMarkersLogged(t *testing.T) {
	db := setupDB(t)

	txn1, err := db.txnMgr.Begin()
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(txn1))

	txn2, err := db.txnMgr.Begin()
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Abort(txn2))

	records, err := db.logMgr.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, wal.LogRecordTypeBegin, records[0].Type)
	require.Equal(t, wal.LogRecordTypeCommit, records[1].Type)
	require.Equal(t, wal.LogRecordTypeBegin, records[2].Type)
	require.Equal(t, wal.LogRecordTypeAbort, records[3].Type)
}

func TestCreateIndexRejectsBadColumnSpec(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")

	_, err := db.engine.CreateIndexOn(tbl, "users_bad", filepath.Join(db.dir, "users_bad.idx"),
		[]btree.IndexColumn{btree.IntColumn()}, []int32{6}, 4)
	require.ErrorIs(t, err, dberror.ErrColumnNotFound)

	_, err = db.engine.CreateIndexOn(tbl, "users_neg", filepath.Join(db.dir, "users_neg.idx"),
		[]btree.IndexColumn{btree.IntColumn()}, []int32{-1}, 4)
	require.ErrorIs(t, err, dberror.ErrColumnNotFound)

	require.Empty(t, tbl.Indexes)
}

func TestDropTableRemovesFiles(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")
	db.createIntIndex(t, tbl, "users_pk")

	txn, err := db.txnMgr.Begin()
	require.NoError(t, err)
	ctx := db.txnMgr.Context(txn)
	_, err = tbl.InsertRecord(ctx, intRecord(7))
	require.NoError(t, err)
	require.NoError(t, db.txnMgr.Commit(txn))

	require.NoError(t, db.engine.DropTable("users"))

	_, ok := db.engine.Table("users")
	require.False(t, ok)
	_, err = db.dm.OpenFile(filepath.Join(db.dir, "users.tbl"))
	require.ErrorIs(t, err, dberror.ErrFileNotFound)
	_, err = db.dm.OpenFile(filepath.Join(db.dir, "users_pk.idx"))
	require.ErrorIs(t, err, dberror.ErrFileNotFound)

	err = db.engine.DropTable("users")
	require.ErrorIs(t, err, dberror.ErrFileNotFound)
}

func TestOpenTableReusesRegistration(t *testing.T) {
	db := setupDB(t)
	tbl := db.createIntTable(t, "users")

	again, err := db.engine.OpenTable("users", filepath.Join(db.dir, "users.tbl"))
	require.NoError(t, err)
	require.Same(t, tbl, again)

	_, ok := db.engine.Table("users")
	require.True(t, ok)
	_, ok = db.engine.Table("absent")
	require.False(t, ok)
}
