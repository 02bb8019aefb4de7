package engine

import (
	"bytes"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/indexing/btree"
	"github.com/sakuradb/sakura/core/record"
	"github.com/sakuradb/sakura/core/transaction"
)

// TableIndex couples an open B+ tree with the metadata needed to derive
// its key from a record: the key columns and, for each, the byte offset
// of that column inside the fixed-size record.
type TableIndex struct {
	Name    string
	Path    string
	Cols    []btree.IndexColumn
	Offsets []int32
	Index   *btree.Index
}

// BuildKey extracts the index key from a record image.
func (ti *TableIndex) BuildKey(rec []byte) []byte {
	key := make([]byte, 0, ti.Index.KeyLen())
	for i, c := range ti.Cols {
		off := ti.Offsets[i]
		key = append(key, rec[off:off+c.Len]...)
	}
	return key
}

// Table is a record file together with its indexes. DML through the table
// keeps every index entry in step with the stored records.
type Table struct {
	Name    string
	File    *record.RecordFile
	Indexes []*TableIndex
}

// IndexByName finds an attached index, nil when absent.
func (t *Table) IndexByName(name string) *TableIndex {
	for _, ti := range t.Indexes {
		if ti.Name == name {
			return ti
		}
	}
	return nil
}

// InsertRecord stores data and adds one entry per index.
func (t *Table) InsertRecord(ctx *transaction.Context, data []byte) (common.Rid, error) {
	rid, err := t.File.InsertRecord(ctx, data)
	if err != nil {
		return common.Rid{}, err
	}
	for _, ti := range t.Indexes {
		if err := ti.Index.InsertEntry(ti.BuildKey(data), rid); err != nil {
			return rid, err
		}
	}
	return rid, nil
}

// GetRecord returns a copy of the record at rid.
func (t *Table) GetRecord(ctx *transaction.Context, rid common.Rid) ([]byte, error) {
	return t.File.GetRecord(ctx, rid)
}

// UpdateRecord overwrites the record at rid and moves index entries whose
// key changed.
func (t *Table) UpdateRecord(ctx *transaction.Context, rid common.Rid, data []byte) error {
	old, err := t.File.GetRecord(ctx, rid)
	if err != nil {
		return err
	}
	if err := t.File.UpdateRecord(ctx, rid, data); err != nil {
		return err
	}
	for _, ti := range t.Indexes {
		oldKey, newKey := ti.BuildKey(old), ti.BuildKey(data)
		if bytes.Equal(oldKey, newKey) {
			continue
		}
		if _, err := ti.Index.DeleteEntry(oldKey); err != nil {
			return err
		}
		if err := ti.Index.InsertEntry(newKey, rid); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecord removes the record at rid and its index entries.
func (t *Table) DeleteRecord(ctx *transaction.Context, rid common.Rid) error {
	old, err := t.File.GetRecord(ctx, rid)
	if err != nil {
		return err
	}
	if err := t.File.DeleteRecord(ctx, rid); err != nil {
		return err
	}
	for _, ti := range t.Indexes {
		if _, err := ti.Index.DeleteEntry(ti.BuildKey(old)); err != nil {
			return err
		}
	}
	return nil
}

// Scan opens a forward scan over the table's records.
func (t *Table) Scan(ctx *transaction.Context) (*record.RecordScan, error) {
	return record.NewRecordScan(ctx, t.File)
}
