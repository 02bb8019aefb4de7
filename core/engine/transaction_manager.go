package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/transaction"
	"github.com/sakuradb/sakura/core/wal"
	"github.com/sakuradb/sakura/internal/metrics"
)

// TransactionManager runs the transaction lifecycle: begin registers a
// transaction in the global table, commit discards the write set and
// releases locks, abort replays the write set in reverse to restore both
// records and index entries.
type TransactionManager struct {
	logger  *zap.Logger
	metrics *metrics.TxnMetrics
	engine  *Engine
	lockMgr *transaction.LockManager
	logMgr  *wal.LogManager

	nextTxnID atomic.Uint64
	nextTS    atomic.Uint64

	mu   sync.Mutex
	txns map[transaction.TxnID]*transaction.Transaction
}

// NewTransactionManager creates a TransactionManager. m may be nil when
// metrics are disabled.
func NewTransactionManager(e *Engine, lockMgr *transaction.LockManager, logMgr *wal.LogManager, m *metrics.TxnMetrics, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{
		logger:  logger,
		metrics: m,
		engine:  e,
		lockMgr: lockMgr,
		logMgr:  logMgr,
		txns:    make(map[transaction.TxnID]*transaction.Transaction),
	}
}

// Begin starts a new transaction with a fresh id and timestamp.
func (tm *TransactionManager) Begin() (*transaction.Transaction, error) {
	id := transaction.TxnID(tm.nextTxnID.Add(1))
	ts := transaction.Timestamp(tm.nextTS.Add(1))
	txn := transaction.NewTransaction(id, ts)

	tm.mu.Lock()
	tm.txns[id] = txn
	tm.mu.Unlock()

	if tm.logMgr != nil {
		if _, err := tm.logMgr.Append(wal.LogRecordTypeBegin, uint64(id)); err != nil {
			return nil, err
		}
	}
	if tm.metrics != nil {
		tm.metrics.BeginCounter.Add(context.Background(), 1)
	}
	tm.logger.Debug("txn begin", zap.Uint64("txn", uint64(id)))
	return txn, nil
}

// Context builds the operation context for txn.
func (tm *TransactionManager) Context(txn *transaction.Transaction) *transaction.Context {
	return transaction.NewContext(txn, tm.lockMgr, tm.logMgr)
}

// Get returns the registered transaction with the given id.
func (tm *TransactionManager) Get(id transaction.TxnID) (*transaction.Transaction, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	txn, ok := tm.txns[id]
	return txn, ok
}

// Commit makes txn's effects permanent: the write set is discarded, every
// held lock released, and the commit marker forced to disk.
func (tm *TransactionManager) Commit(txn *transaction.Transaction) error {
	txn.SetState(transaction.StateShrinking)
	txn.ClearWriteSet()
	tm.releaseLocks(txn)

	if tm.logMgr != nil {
		if _, err := tm.logMgr.Append(wal.LogRecordTypeCommit, uint64(txn.ID())); err != nil {
			return err
		}
		if err := tm.logMgr.Sync(); err != nil {
			return err
		}
	}
	txn.SetState(transaction.StateCommitted)
	if tm.metrics != nil {
		tm.metrics.CommitCounter.Add(context.Background(), 1)
	}
	tm.logger.Debug("txn commit", zap.Uint64("txn", uint64(txn.ID())))
	return nil
}

// Abort rolls txn back: write records are undone newest first, restoring
// record contents and index entries, then locks are released and the
// abort marker forced to disk.
func (tm *TransactionManager) Abort(txn *transaction.Transaction) error {
	ws := txn.WriteSet()
	for i := len(ws) - 1; i >= 0; i-- {
		if err := tm.undo(ws[i]); err != nil {
			return err
		}
	}
	txn.ClearWriteSet()
	txn.SetState(transaction.StateShrinking)
	tm.releaseLocks(txn)

	if tm.logMgr != nil {
		if _, err := tm.logMgr.Append(wal.LogRecordTypeAbort, uint64(txn.ID())); err != nil {
			return err
		}
		if err := tm.logMgr.Sync(); err != nil {
			return err
		}
	}
	txn.SetState(transaction.StateAborted)
	if tm.metrics != nil {
		tm.metrics.AbortCounter.Add(context.Background(), 1)
	}
	tm.logger.Debug("txn abort",
		zap.Uint64("txn", uint64(txn.ID())),
		zap.Int("undone", len(ws)))
	return nil
}

// undo reverses one write record without taking locks or logging; the
// aborting transaction still holds the X locks that covered the original
// mutation.
func (tm *TransactionManager) undo(w *transaction.WriteRecord) error {
	t, ok := tm.engine.tableByFile(w.Table)
	if !ok {
		return fmt.Errorf("%w: table file %s", dberror.ErrFileNotFound, w.Table)
	}
	bootstrap := transaction.NewContext(nil, nil, nil)

	switch w.Kind {
	case transaction.WriteInsert:
		for _, ti := range t.Indexes {
			if _, err := ti.Index.DeleteEntry(ti.BuildKey(w.Image)); err != nil {
				return err
			}
		}
		return t.File.DeleteRecord(bootstrap, w.Rid)

	case transaction.WriteDelete:
		if err := t.File.InsertRecordAt(w.Rid, w.Image); err != nil {
			return err
		}
		for _, ti := range t.Indexes {
			if err := ti.Index.InsertEntry(ti.BuildKey(w.Image), w.Rid); err != nil {
				return err
			}
		}
		return nil

	case transaction.WriteUpdate:
		cur, err := t.File.GetRecord(bootstrap, w.Rid)
		if err != nil {
			return err
		}
		for _, ti := range t.Indexes {
			curKey, oldKey := ti.BuildKey(cur), ti.BuildKey(w.Image)
			if _, err := ti.Index.DeleteEntry(curKey); err != nil {
				return err
			}
			if err := ti.Index.InsertEntry(oldKey, w.Rid); err != nil {
				return err
			}
		}
		return t.File.UpdateRecord(bootstrap, w.Rid, w.Image)
	}
	return fmt.Errorf("%w: unknown write kind %d", dberror.ErrInternal, w.Kind)
}

// releaseLocks returns every lock txn holds. The snapshot avoids mutating
// the lock set while walking it.
func (tm *TransactionManager) releaseLocks(txn *transaction.Transaction) {
	for _, id := range txn.LockSetSnapshot() {
		tm.lockMgr.Unlock(txn, id)
	}
}
