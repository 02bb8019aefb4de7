// Package wal maintains the durable transaction marker stream. Rollback is
// driven by in-memory write sets; the stream records transaction outcomes
// so terminal state transitions happen only after a durable marker.
package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/storage/disk"
)

// LSN is a log sequence number.
type LSN uint64

const InvalidLSN LSN = 0

// LogRecordType defines the type of transaction event logged.
type LogRecordType byte

const (
	LogRecordTypeBegin LogRecordType = iota + 1
	LogRecordTypeCommit
	LogRecordTypeAbort
)

// record layout: size(4) | lsn(8) | type(1) | txn id(8)
const recordSize = 4 + 8 + 1 + 8

// LogRecord is a single transaction marker.
type LogRecord struct {
	LSN   LSN
	Type  LogRecordType
	TxnID uint64
}

// LogManager buffers markers in memory and appends them to the disk
// manager's log stream on Sync.
type LogManager struct {
	mu          sync.Mutex
	logger      *zap.Logger
	diskManager *disk.DiskManager
	buffer      *bytes.Buffer
	nextLSN     LSN
}

// NewLogManager creates a LogManager over the disk manager's log stream.
func NewLogManager(diskManager *disk.DiskManager, logger *zap.Logger) *LogManager {
	return &LogManager{
		logger:      logger,
		diskManager: diskManager,
		buffer:      bytes.NewBuffer(nil),
		nextLSN:     1,
	}
}

// Append buffers a marker and returns its LSN.
func (lm *LogManager) Append(recType LogRecordType, txnID uint64) (LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lsn := lm.nextLSN
	lm.nextLSN++

	var buf [recordSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], recordSize-4)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(lsn))
	buf[12] = byte(recType)
	binary.LittleEndian.PutUint64(buf[13:21], txnID)
	if _, err := lm.buffer.Write(buf[:]); err != nil {
		return InvalidLSN, fmt.Errorf("buffer log record: %w", err)
	}
	return lsn, nil
}

// Sync appends the buffered markers to the log stream and makes them
// durable.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.buffer.Len() == 0 {
		return nil
	}
	if err := lm.diskManager.WriteLog(lm.buffer.Bytes()); err != nil {
		return err
	}
	lm.buffer.Reset()
	if err := lm.diskManager.SyncLog(); err != nil {
		return err
	}
	return nil
}

// ReadAll decodes every marker currently in the log stream.
func (lm *LogManager) ReadAll() ([]LogRecord, error) {
	var records []LogRecord
	var offset int64
	buf := make([]byte, recordSize)
	for {
		n, err := lm.diskManager.ReadLog(buf, offset)
		if err != nil {
			return nil, err
		}
		if n < recordSize {
			return records, nil
		}
		records = append(records, LogRecord{
			LSN:   LSN(binary.LittleEndian.Uint64(buf[4:12])),
			Type:  LogRecordType(buf[12]),
			TxnID: binary.LittleEndian.Uint64(buf[13:21]),
		})
		offset += recordSize
	}
}
