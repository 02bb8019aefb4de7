package record

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/bufferpool"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/storage/pager"
	"github.com/sakuradb/sakura/core/transaction"
)

// RecordFile is an open slotted-page record file. All mutating operations
// hold the file mutex so header and free-list updates stay consistent.
type RecordFile struct {
	path   string
	file   pager.FileID
	bpm    *bufferpool.BufferPoolManager
	logger *zap.Logger

	mu  sync.Mutex
	hdr FileHeader
}

// pageView is a decoded record page: header fields plus slices into the
// pinned page buffer. Mutations through the slices write into the frame.
type pageView struct {
	page   *pager.Page
	bitmap []byte
	slots  []byte
}

func (v *pageView) numRecords() int32 {
	return int32(binary.LittleEndian.Uint32(v.page.GetData()[0:4]))
}

func (v *pageView) setNumRecords(n int32) {
	binary.LittleEndian.PutUint32(v.page.GetData()[0:4], uint32(n))
}

func (v *pageView) nextFreePage() pager.PageNo {
	return pager.PageNo(int32(binary.LittleEndian.Uint32(v.page.GetData()[4:8])))
}

func (v *pageView) setNextFreePage(p pager.PageNo) {
	binary.LittleEndian.PutUint32(v.page.GetData()[4:8], uint32(int32(p)))
}

func (f *RecordFile) slot(v *pageView, slotNo int32) []byte {
	off := slotNo * f.hdr.RecordSize
	return v.slots[off : off+f.hdr.RecordSize]
}

// CreateRecordFile creates path on disk and writes the file header to page
// 0. recordSize must fit a page alongside its occupancy bitmap.
func CreateRecordFile(dm *disk.DiskManager, path string, recordSize int) error {
	slots := slotsPerPage(recordSize)
	if slots < 1 {
		return fmt.Errorf("%w: record size %d does not fit a page", dberror.ErrInternal, recordSize)
	}
	if err := dm.CreateFile(path); err != nil {
		return err
	}
	file, err := dm.OpenFile(path)
	if err != nil {
		return err
	}
	hdr := FileHeader{
		RecordSize:    int32(recordSize),
		SlotsPerPage:  slots,
		BitmapBytes:   (slots + 7) / 8,
		NumPages:      1,
		FirstFreePage: NoPage,
	}
	var buf [pager.PageSize]byte
	hdr.encode(buf[:])
	if err := dm.WritePage(pager.PageID{File: file, PageNo: 0}, buf[:]); err != nil {
		return err
	}
	dm.SetNextPageNo(file, 1)
	return dm.CloseFile(file)
}

// OpenRecordFile opens path and loads the header from page 0.
func OpenRecordFile(dm *disk.DiskManager, bpm *bufferpool.BufferPoolManager, path string, logger *zap.Logger) (*RecordFile, error) {
	file, err := dm.OpenFile(path)
	if err != nil {
		return nil, err
	}
	var buf [pager.PageSize]byte
	if err := dm.ReadPage(pager.PageID{File: file, PageNo: 0}, buf[:]); err != nil {
		return nil, err
	}
	f := &RecordFile{path: path, file: file, bpm: bpm, logger: logger}
	f.hdr.decode(buf[:])
	dm.SetNextPageNo(file, pager.PageNo(f.hdr.NumPages))
	return f, nil
}

// FileID returns the file handle this record file was opened on.
func (f *RecordFile) FileID() pager.FileID { return f.file }

// Path returns the on-disk path, also used as the table key in write
// records.
func (f *RecordFile) Path() string { return f.path }

// RecordSize returns the fixed tuple size of this file.
func (f *RecordFile) RecordSize() int32 { return f.hdr.RecordSize }

// NumPages returns the current page count including the header page.
func (f *RecordFile) NumPages() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hdr.NumPages
}

// Close flushes the header and dirty pages back to disk and closes the
// underlying file.
func (f *RecordFile) Close(dm *disk.DiskManager) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf [pager.PageSize]byte
	f.hdr.encode(buf[:])
	if err := dm.WritePage(pager.PageID{File: f.file, PageNo: 0}, buf[:]); err != nil {
		return err
	}
	if err := f.bpm.FlushAllPages(f.file); err != nil {
		return err
	}
	return dm.CloseFile(f.file)
}

// fetchView pins pageNo and decodes it into a pageView.
func (f *RecordFile) fetchView(pageNo pager.PageNo) (*pageView, error) {
	page, err := f.bpm.FetchPage(pager.PageID{File: f.file, PageNo: pageNo})
	if err != nil {
		return nil, err
	}
	data := page.GetData()
	return &pageView{
		page:   page,
		bitmap: data[pageHeaderSize : pageHeaderSize+f.hdr.BitmapBytes],
		slots:  data[pageHeaderSize+f.hdr.BitmapBytes:],
	}, nil
}

// release unpins the view's page.
func (f *RecordFile) release(v *pageView, dirty bool) {
	f.bpm.UnpinPage(v.page.GetPageID(), dirty)
}

// freePageView returns a view of a page with at least one free slot,
// allocating a fresh page when the free list is empty. Must be called with
// the file mutex held.
func (f *RecordFile) freePageView() (*pageView, error) {
	if f.hdr.FirstFreePage != NoPage {
		return f.fetchView(f.hdr.FirstFreePage)
	}
	pageNo := pager.PageNo(f.hdr.NumPages)
	page, err := f.bpm.NewPage(f.file)
	if err != nil {
		return nil, err
	}
	if page.GetPageID().PageNo != pageNo {
		f.bpm.UnpinPage(page.GetPageID(), false)
		return nil, fmt.Errorf("%w: allocated page %d, expected %d", dberror.ErrInternal, page.GetPageID().PageNo, pageNo)
	}
	data := page.GetData()
	v := &pageView{
		page:   page,
		bitmap: data[pageHeaderSize : pageHeaderSize+f.hdr.BitmapBytes],
		slots:  data[pageHeaderSize+f.hdr.BitmapBytes:],
	}
	v.setNumRecords(0)
	v.setNextFreePage(f.hdr.FirstFreePage)
	f.hdr.FirstFreePage = pageNo
	f.hdr.NumPages++
	return v, nil
}

// InsertRecord places data into the first free slot of the first non-full
// page and returns its Rid. When the insert fills the page, the page is
// spliced off the free list.
func (f *RecordFile) InsertRecord(ctx *transaction.Context, data []byte) (common.Rid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.HasTxn() {
		if err := ctx.LockMgr.LockIXOnTable(ctx.Txn, f.file); err != nil {
			return common.Rid{}, err
		}
	}

	v, err := f.freePageView()
	if err != nil {
		return common.Rid{}, err
	}
	slotNo := bitmapFirstFree(v.bitmap, f.hdr.SlotsPerPage)
	if slotNo < 0 {
		f.release(v, false)
		return common.Rid{}, fmt.Errorf("%w: free-list page %d is full", dberror.ErrInternal, v.page.GetPageID().PageNo)
	}
	rid := common.Rid{PageNo: v.page.GetPageID().PageNo, SlotNo: slotNo}

	if ctx.HasTxn() {
		if err := ctx.LockMgr.LockExclusiveOnRecord(ctx.Txn, f.file, rid); err != nil {
			f.release(v, false)
			return common.Rid{}, err
		}
	}

	copy(f.slot(v, slotNo), data)
	bitmapSet(v.bitmap, slotNo)
	n := v.numRecords() + 1
	v.setNumRecords(n)
	if n == f.hdr.SlotsPerPage {
		f.hdr.FirstFreePage = v.nextFreePage()
		v.setNextFreePage(NoPage)
	}
	f.release(v, true)

	if ctx.HasTxn() {
		ctx.Txn.AppendWriteRecord(transaction.NewWriteRecord(transaction.WriteInsert, f.path, rid, data))
	}
	return rid, nil
}

// InsertRecordAt places data into the exact slot named by rid, extending
// the file when the page does not exist yet. It takes no locks and logs
// nothing; rollback uses it to restore deleted records in place.
func (f *RecordFile) InsertRecordAt(rid common.Rid, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.hdr.NumPages <= int32(rid.PageNo) {
		// Hide the free list so freePageView allocates a fresh page, then
		// push that page in front of the old head.
		head := f.hdr.FirstFreePage
		f.hdr.FirstFreePage = NoPage
		v, err := f.freePageView()
		if err != nil {
			f.hdr.FirstFreePage = head
			return err
		}
		v.setNextFreePage(head)
		f.release(v, true)
	}

	v, err := f.fetchView(rid.PageNo)
	if err != nil {
		return err
	}
	if bitmapTest(v.bitmap, rid.SlotNo) {
		f.release(v, false)
		return fmt.Errorf("%w: slot %s already occupied", dberror.ErrSlotOccupied, rid)
	}
	copy(f.slot(v, rid.SlotNo), data)
	bitmapSet(v.bitmap, rid.SlotNo)
	n := v.numRecords() + 1
	v.setNumRecords(n)
	if n == f.hdr.SlotsPerPage {
		f.removeFromFreeList(rid.PageNo, v)
	}
	f.release(v, true)
	return nil
}

// removeFromFreeList splices pageNo out of the free list. v is the already
// pinned view of pageNo. Must be called with the file mutex held.
func (f *RecordFile) removeFromFreeList(pageNo pager.PageNo, v *pageView) {
	if f.hdr.FirstFreePage == pageNo {
		f.hdr.FirstFreePage = v.nextFreePage()
		v.setNextFreePage(NoPage)
		return
	}
	prev := f.hdr.FirstFreePage
	for prev != NoPage {
		pv, err := f.fetchView(prev)
		if err != nil {
			return
		}
		next := pv.nextFreePage()
		if next == pageNo {
			pv.setNextFreePage(v.nextFreePage())
			f.release(pv, true)
			v.setNextFreePage(NoPage)
			return
		}
		f.release(pv, false)
		prev = next
	}
}

// GetRecord returns a copy of the record at rid.
func (f *RecordFile) GetRecord(ctx *transaction.Context, rid common.Rid) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.HasTxn() {
		if err := ctx.LockMgr.LockSharedOnRecord(ctx.Txn, f.file, rid); err != nil {
			return nil, err
		}
	}

	v, err := f.checkedView(rid)
	if err != nil {
		return nil, err
	}
	out := make([]byte, f.hdr.RecordSize)
	copy(out, f.slot(v, rid.SlotNo))
	f.release(v, false)
	return out, nil
}

// UpdateRecord overwrites the record at rid with data.
func (f *RecordFile) UpdateRecord(ctx *transaction.Context, rid common.Rid, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.HasTxn() {
		if err := ctx.LockMgr.LockExclusiveOnRecord(ctx.Txn, f.file, rid); err != nil {
			return err
		}
	}

	v, err := f.checkedView(rid)
	if err != nil {
		return err
	}
	if ctx.HasTxn() {
		before := make([]byte, f.hdr.RecordSize)
		copy(before, f.slot(v, rid.SlotNo))
		ctx.Txn.AppendWriteRecord(transaction.NewWriteRecord(transaction.WriteUpdate, f.path, rid, before))
	}
	copy(f.slot(v, rid.SlotNo), data)
	f.release(v, true)
	return nil
}

// DeleteRecord removes the record at rid. A page that was full before the
// delete is pushed onto the free list.
func (f *RecordFile) DeleteRecord(ctx *transaction.Context, rid common.Rid) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.HasTxn() {
		if err := ctx.LockMgr.LockExclusiveOnRecord(ctx.Txn, f.file, rid); err != nil {
			return err
		}
	}

	v, err := f.checkedView(rid)
	if err != nil {
		return err
	}
	if ctx.HasTxn() {
		before := make([]byte, f.hdr.RecordSize)
		copy(before, f.slot(v, rid.SlotNo))
		ctx.Txn.AppendWriteRecord(transaction.NewWriteRecord(transaction.WriteDelete, f.path, rid, before))
	}
	wasFull := v.numRecords() == f.hdr.SlotsPerPage
	bitmapClear(v.bitmap, rid.SlotNo)
	v.setNumRecords(v.numRecords() - 1)
	if wasFull {
		v.setNextFreePage(f.hdr.FirstFreePage)
		f.hdr.FirstFreePage = rid.PageNo
	}
	f.release(v, true)
	return nil
}

// checkedView pins rid's page and verifies the slot is occupied. Must be
// called with the file mutex held.
func (f *RecordFile) checkedView(rid common.Rid) (*pageView, error) {
	if int32(rid.PageNo) >= f.hdr.NumPages || rid.PageNo < FirstRecordPage {
		return nil, fmt.Errorf("%w: page %d of %d", dberror.ErrPageNotExist, rid.PageNo, f.hdr.NumPages)
	}
	if rid.SlotNo < 0 || rid.SlotNo >= f.hdr.SlotsPerPage {
		return nil, fmt.Errorf("%w: slot %d", dberror.ErrRecordNotFound, rid.SlotNo)
	}
	v, err := f.fetchView(rid.PageNo)
	if err != nil {
		return nil, err
	}
	if !bitmapTest(v.bitmap, rid.SlotNo) {
		f.release(v, false)
		return nil, fmt.Errorf("%w: %s", dberror.ErrRecordNotFound, rid)
	}
	return v, nil
}
