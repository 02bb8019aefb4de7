// Package transaction implements the transaction lifecycle, the per
// transaction write and lock sets, and the multigranularity lock manager.
package transaction

// TxnID identifies a transaction. Lower ids are older under wait-die.
type TxnID uint64

// Timestamp is the logical start time of a transaction.
type Timestamp uint64

// TransactionState tracks the 2PL lifecycle of a transaction.
type TransactionState int

const (
	StateGrowing TransactionState = iota
	StateShrinking
	StateCommitted
	StateAborted
)

func (s TransactionState) String() string {
	switch s {
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is single-threaded internally: the owning executor thread
// performs all operations. The lock manager touches the lock set only
// under its own table mutex.
type Transaction struct {
	id      TxnID
	startTS Timestamp
	state   TransactionState

	writeSet []*WriteRecord
	lockSet  map[LockDataID]struct{}
}

// NewTransaction creates a transaction in the GROWING state.
func NewTransaction(id TxnID, startTS Timestamp) *Transaction {
	return &Transaction{
		id:      id,
		startTS: startTS,
		state:   StateGrowing,
		lockSet: make(map[LockDataID]struct{}),
	}
}

func (t *Transaction) ID() TxnID                   { return t.id }
func (t *Transaction) StartTS() Timestamp          { return t.startTS }
func (t *Transaction) State() TransactionState     { return t.state }
func (t *Transaction) SetState(s TransactionState) { t.state = s }

// AppendWriteRecord records a DML mutation for undo on abort.
func (t *Transaction) AppendWriteRecord(wr *WriteRecord) {
	t.writeSet = append(t.writeSet, wr)
}

// WriteSet returns the mutation log in execution order.
func (t *Transaction) WriteSet() []*WriteRecord { return t.writeSet }

// ClearWriteSet discards the mutation log after commit or abort.
func (t *Transaction) ClearWriteSet() { t.writeSet = nil }

// LockSet returns the set of lock ids held. Mutated only by the lock
// manager under its mutex.
func (t *Transaction) LockSet() map[LockDataID]struct{} { return t.lockSet }

// LockSetSnapshot copies the lock set so it can be iterated while the
// lock manager removes entries.
func (t *Transaction) LockSetSnapshot() []LockDataID {
	ids := make([]LockDataID, 0, len(t.lockSet))
	for id := range t.lockSet {
		ids = append(ids, id)
	}
	return ids
}
