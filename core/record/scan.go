package record

import (
	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/storage/pager"
	"github.com/sakuradb/sakura/core/transaction"
)

// RecordScan walks every occupied slot of a record file in (page, slot)
// order. A fresh scan is already positioned on the first record (or at the
// end when the file is empty); call Next to advance. The end position is
// (NumPages, -1).
type RecordScan struct {
	file *RecordFile
	rid  common.Rid
}

// NewRecordScan opens a forward scan over f. When a transaction is active
// it takes a table S lock up front; Get still reads through GetRecord,
// which also takes an S lock on each record it returns.
func NewRecordScan(ctx *transaction.Context, f *RecordFile) (*RecordScan, error) {
	if ctx.HasTxn() {
		if err := ctx.LockMgr.LockSharedOnTable(ctx.Txn, f.file); err != nil {
			return nil, err
		}
	}
	s := &RecordScan{file: f, rid: common.Rid{PageNo: FirstRecordPage, SlotNo: -1}}
	if err := s.Next(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rid returns the scan's current position.
func (s *RecordScan) Rid() common.Rid { return s.rid }

// IsEnd reports whether the scan has moved past the last record.
func (s *RecordScan) IsEnd() bool {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	return int32(s.rid.PageNo) >= s.file.hdr.NumPages && s.rid.SlotNo == -1
}

// Get returns a copy of the record under the cursor.
func (s *RecordScan) Get(ctx *transaction.Context) ([]byte, error) {
	return s.file.GetRecord(ctx, s.rid)
}

// Next advances the cursor to the next occupied slot, crossing page
// boundaries as needed, and parks it at the end position when none remain.
func (s *RecordScan) Next() error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	pageNo := s.rid.PageNo
	slotNo := s.rid.SlotNo + 1
	for int32(pageNo) < s.file.hdr.NumPages {
		v, err := s.file.fetchView(pageNo)
		if err != nil {
			return err
		}
		next := bitmapNextSet(v.bitmap, s.file.hdr.SlotsPerPage, slotNo)
		s.file.release(v, false)
		if next >= 0 {
			s.rid = common.Rid{PageNo: pageNo, SlotNo: next}
			return nil
		}
		pageNo++
		slotNo = 0
	}
	s.rid = common.Rid{PageNo: pager.PageNo(s.file.hdr.NumPages), SlotNo: -1}
	return nil
}
