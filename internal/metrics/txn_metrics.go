package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// TxnMetrics holds the metric instruments for locking and transactions.
type TxnMetrics struct {
	BeginCounter    metric.Int64Counter
	CommitCounter   metric.Int64Counter
	AbortCounter    metric.Int64Counter
	LockWaitCounter metric.Int64Counter
	DeadlockCounter metric.Int64Counter
}

// NewTxnMetrics creates and registers the transaction instruments.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	beginCounter, err := meter.Int64Counter(
		"sakuradb.txn.begin_total",
		metric.WithDescription("Transactions started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commitCounter, err := meter.Int64Counter(
		"sakuradb.txn.commit_total",
		metric.WithDescription("Transactions committed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	abortCounter, err := meter.Int64Counter(
		"sakuradb.txn.abort_total",
		metric.WithDescription("Transactions aborted."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	lockWaitCounter, err := meter.Int64Counter(
		"sakuradb.lock.waits_total",
		metric.WithDescription("Lock requests that had to wait."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	deadlockCounter, err := meter.Int64Counter(
		"sakuradb.lock.deadlock_aborts_total",
		metric.WithDescription("Lock requests refused by wait-die."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		BeginCounter:    beginCounter,
		CommitCounter:   commitCounter,
		AbortCounter:    abortCounter,
		LockWaitCounter: lockWaitCounter,
		DeadlockCounter: deadlockCounter,
	}, nil
}
