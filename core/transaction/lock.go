package transaction

import (
	"fmt"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/storage/pager"
)

// LockMode is a multigranularity lock mode.
type LockMode int

const (
	LockIS LockMode = iota
	LockIX
	LockS
	LockSIX
	LockX
)

func (m LockMode) String() string {
	switch m {
	case LockIS:
		return "IS"
	case LockIX:
		return "IX"
	case LockS:
		return "S"
	case LockSIX:
		return "SIX"
	case LockX:
		return "X"
	}
	return "?"
}

// LockDataKind is the granularity of a lockable object.
type LockDataKind int

const (
	LockTable LockDataKind = iota
	LockRecord
)

// LockDataID identifies a lockable object: a whole table file, or a single
// record within it. Rid is the zero value for table locks.
type LockDataID struct {
	File pager.FileID
	Kind LockDataKind
	Rid  common.Rid
}

// TableLockID builds the id for a table-level lock on file.
func TableLockID(file pager.FileID) LockDataID {
	return LockDataID{File: file, Kind: LockTable}
}

// RecordLockID builds the id for a record-level lock.
func RecordLockID(file pager.FileID, rid common.Rid) LockDataID {
	return LockDataID{File: file, Kind: LockRecord, Rid: rid}
}

func (id LockDataID) String() string {
	if id.Kind == LockTable {
		return fmt.Sprintf("table(%d)", id.File)
	}
	return fmt.Sprintf("record(%d,%s)", id.File, id.Rid)
}

// compatMatrix[held][requested] reports whether a requested mode can be
// granted alongside a mode held by another transaction.
var compatMatrix = [5][5]bool{
	LockIS:  {LockIS: true, LockIX: true, LockS: true, LockSIX: true, LockX: false},
	LockIX:  {LockIS: true, LockIX: true, LockS: false, LockSIX: false, LockX: false},
	LockS:   {LockIS: true, LockIX: false, LockS: true, LockSIX: false, LockX: false},
	LockSIX: {LockIS: true, LockIX: false, LockS: false, LockSIX: false, LockX: false},
	LockX:   {LockIS: false, LockIX: false, LockS: false, LockSIX: false, LockX: false},
}

// Compatible reports whether requested can coexist with held.
func Compatible(held, requested LockMode) bool {
	return compatMatrix[held][requested]
}

// Subsumes reports whether holding held already satisfies a request for
// requested: X covers everything, SIX covers IS/IX/S, S covers IS, IX
// covers IS, and every mode covers itself.
func Subsumes(held, requested LockMode) bool {
	if held == requested {
		return true
	}
	switch held {
	case LockX:
		return true
	case LockSIX:
		return requested == LockIS || requested == LockIX || requested == LockS
	case LockS:
		return requested == LockIS
	case LockIX:
		return requested == LockIS
	}
	return false
}
