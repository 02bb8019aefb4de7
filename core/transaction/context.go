package transaction

import "github.com/sakuradb/sakura/core/wal"

// Context threads the current transaction, the lock manager and the log
// manager through every record and index operation. A nil Txn means no
// concurrency control, used only during bootstrap and recovery.
type Context struct {
	Txn     *Transaction
	LockMgr *LockManager
	LogMgr  *wal.LogManager
}

// NewContext builds a context for one operation. Any field may be nil.
func NewContext(txn *Transaction, lockMgr *LockManager, logMgr *wal.LogManager) *Context {
	return &Context{Txn: txn, LockMgr: lockMgr, LogMgr: logMgr}
}

// HasTxn reports whether concurrency control applies to this operation.
func (c *Context) HasTxn() bool {
	return c != nil && c.Txn != nil && c.LockMgr != nil
}
