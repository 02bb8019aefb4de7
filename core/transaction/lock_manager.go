package transaction

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/storage/pager"
	"github.com/sakuradb/sakura/internal/metrics"
)

// lockRequest is one entry in a lock queue.
type lockRequest struct {
	txnID   TxnID
	mode    LockMode
	granted bool
}

// lockQueue holds the FIFO request list and the condition variable waiters
// block on. The condition variable shares the lock manager's table mutex.
type lockQueue struct {
	requests []*lockRequest
	cond     *sync.Cond
}

// LockManager implements strict two-phase multigranularity locking with
// wait-die deadlock avoidance. A single mutex guards the lock table;
// per-queue condition variables gate waiters.
type LockManager struct {
	mu      sync.Mutex
	logger  *zap.Logger
	metrics *metrics.TxnMetrics
	table   map[LockDataID]*lockQueue
}

// NewLockManager creates a LockManager. m may be nil when metrics are
// disabled.
func NewLockManager(m *metrics.TxnMetrics, logger *zap.Logger) *LockManager {
	return &LockManager{
		logger:  logger,
		metrics: m,
		table:   make(map[LockDataID]*lockQueue),
	}
}

// LockSharedOnRecord takes an S lock on one record, acquiring the table
// IS lock first.
func (lm *LockManager) LockSharedOnRecord(txn *Transaction, file pager.FileID, rid common.Rid) error {
	if err := lm.LockISOnTable(txn, file); err != nil {
		return err
	}
	return lm.lock(txn, RecordLockID(file, rid), LockS)
}

// LockExclusiveOnRecord takes an X lock on one record, acquiring the table
// IX lock first.
func (lm *LockManager) LockExclusiveOnRecord(txn *Transaction, file pager.FileID, rid common.Rid) error {
	if err := lm.LockIXOnTable(txn, file); err != nil {
		return err
	}
	return lm.lock(txn, RecordLockID(file, rid), LockX)
}

// LockSharedOnTable takes an S lock on a whole table.
func (lm *LockManager) LockSharedOnTable(txn *Transaction, file pager.FileID) error {
	return lm.lock(txn, TableLockID(file), LockS)
}

// LockExclusiveOnTable takes an X lock on a whole table.
func (lm *LockManager) LockExclusiveOnTable(txn *Transaction, file pager.FileID) error {
	return lm.lock(txn, TableLockID(file), LockX)
}

// LockISOnTable takes an intention-shared lock on a table.
func (lm *LockManager) LockISOnTable(txn *Transaction, file pager.FileID) error {
	return lm.lock(txn, TableLockID(file), LockIS)
}

// LockIXOnTable takes an intention-exclusive lock on a table.
func (lm *LockManager) LockIXOnTable(txn *Transaction, file pager.FileID) error {
	return lm.lock(txn, TableLockID(file), LockIX)
}

// lock acquires mode on id for txn, blocking under wait-die until the
// request can be granted.
func (lm *LockManager) lock(txn *Transaction, id LockDataID, mode LockMode) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.State() == StateShrinking {
		return &AbortError{TxnID: txn.ID(), Reason: AbortLockOnShrinking}
	}

	q, ok := lm.table[id]
	if !ok {
		q = &lockQueue{cond: sync.NewCond(&lm.mu)}
		lm.table[id] = q
	}

	// Already holding a mode that covers the request.
	for _, r := range q.requests {
		if r.txnID == txn.ID() && r.granted && Subsumes(r.mode, mode) {
			return nil
		}
	}

	// S -> X upgrade when this transaction is the sole granted holder.
	if mode == LockX {
		if own := q.soleGrantedHolder(txn.ID()); own != nil && own.mode == LockS {
			own.mode = LockX
			return nil
		}
	}

	req := &lockRequest{txnID: txn.ID(), mode: mode}
	q.requests = append(q.requests, req)

	waited := false
	for !q.canGrant(req) {
		// Wait-die: a requester younger than any conflicting granted
		// holder dies instead of waiting.
		for _, r := range q.requests {
			if r.granted && r.txnID != txn.ID() && !Compatible(r.mode, mode) && txn.ID() > r.txnID {
				q.remove(req)
				q.cond.Broadcast()
				if lm.metrics != nil {
					lm.metrics.DeadlockCounter.Add(context.Background(), 1)
				}
				lm.logger.Debug("wait-die abort",
					zap.Uint64("txn", uint64(txn.ID())),
					zap.Uint64("holder", uint64(r.txnID)),
					zap.String("lock", id.String()),
					zap.String("mode", mode.String()))
				return &AbortError{TxnID: txn.ID(), Reason: AbortDeadlockPrevention}
			}
		}
		if !waited {
			waited = true
			if lm.metrics != nil {
				lm.metrics.LockWaitCounter.Add(context.Background(), 1)
			}
		}
		q.cond.Wait()
		if txn.State() == StateShrinking {
			q.remove(req)
			q.cond.Broadcast()
			return &AbortError{TxnID: txn.ID(), Reason: AbortLockOnShrinking}
		}
	}

	req.granted = true
	txn.lockSet[id] = struct{}{}
	return nil
}

// Unlock releases every entry txn holds on id. The first release moves the
// transaction into SHRINKING.
func (lm *LockManager) Unlock(txn *Transaction, id LockDataID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.State() == StateGrowing {
		txn.SetState(StateShrinking)
	}

	q, ok := lm.table[id]
	if !ok {
		delete(txn.lockSet, id)
		return false
	}

	removed := false
	kept := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID == txn.ID() {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	q.requests = kept
	delete(txn.lockSet, id)

	if len(q.requests) == 0 {
		delete(lm.table, id)
	} else {
		q.cond.Broadcast()
	}
	return removed
}

// soleGrantedHolder returns the single granted request when it belongs to
// txnID, nil otherwise. Must be called with the table mutex held.
func (q *lockQueue) soleGrantedHolder(txnID TxnID) *lockRequest {
	var own *lockRequest
	for _, r := range q.requests {
		if !r.granted {
			continue
		}
		if r.txnID != txnID {
			return nil
		}
		if own != nil {
			return nil
		}
		own = r
	}
	return own
}

// canGrant reports whether req may be granted now: every request queued
// before it is granted, and no granted request from another transaction
// holds an incompatible mode. Must be called with the table mutex held.
func (q *lockQueue) canGrant(req *lockRequest) bool {
	for _, r := range q.requests {
		if r == req {
			break
		}
		if !r.granted {
			return false
		}
	}
	for _, r := range q.requests {
		if r.granted && r.txnID != req.txnID && !Compatible(r.mode, req.mode) {
			return false
		}
	}
	return true
}

// remove drops req from the queue. Must be called with the table mutex
// held.
func (q *lockQueue) remove(req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}
