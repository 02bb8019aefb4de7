// Package common holds the small value types shared by the record, index
// and transaction layers.
package common

import (
	"fmt"

	"github.com/sakuradb/sakura/core/storage/pager"
)

// Rid identifies a record by its page number and slot number within a
// record file. Leaf index entries carry Rids as values.
type Rid struct {
	PageNo pager.PageNo
	SlotNo int32
}

func (r Rid) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageNo, r.SlotNo)
}
