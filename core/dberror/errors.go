// Package dberror defines the sentinel error kinds shared by the storage,
// record, index and transaction layers.
package dberror

import "errors"

// --- Error Definitions ---

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrPageNotExist      = errors.New("page does not exist")
	ErrFileExists        = errors.New("file already exists")
	ErrFileNotFound      = errors.New("file not found")
	ErrFileNotOpen       = errors.New("file not open")
	ErrColumnNotFound    = errors.New("column not found")
	ErrIndexEntryNotFound = errors.New("index entry not found")
	ErrInternal          = errors.New("internal error")
	ErrIO                = errors.New("i/o error")
	ErrBufferPoolFull    = errors.New("buffer pool is full and no pages can be evicted")
	ErrPageNotFound      = errors.New("page not found in buffer pool")
	ErrSlotOccupied      = errors.New("record slot already occupied")
)
