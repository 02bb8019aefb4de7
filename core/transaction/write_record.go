package transaction

import "github.com/sakuradb/sakura/core/common"

// WriteType classifies a DML mutation in the write set.
type WriteType int

const (
	WriteInsert WriteType = iota
	WriteDelete
	WriteUpdate
)

func (w WriteType) String() string {
	switch w {
	case WriteInsert:
		return "INSERT"
	case WriteDelete:
		return "DELETE"
	case WriteUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// WriteRecord captures one DML mutation. Image holds the before-image for
// DELETE and UPDATE, and the after-image for INSERT so index entries built
// for the inserted key can be undone.
type WriteRecord struct {
	Kind  WriteType
	Table string
	Rid   common.Rid
	Image []byte
}

// NewWriteRecord copies image so later page reuse cannot corrupt the undo
// data.
func NewWriteRecord(kind WriteType, table string, rid common.Rid, image []byte) *WriteRecord {
	img := make([]byte, len(image))
	copy(img, image)
	return &WriteRecord{Kind: kind, Table: table, Rid: rid, Image: img}
}
