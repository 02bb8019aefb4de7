// Package bufferpool manages in-memory page frames over the disk manager
// with pin counts, dirty write-back and LRU replacement.
package bufferpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/storage/pager"
	"github.com/sakuradb/sakura/core/storage/replacer"
	"github.com/sakuradb/sakura/internal/metrics"
)

// BufferPoolManager caches disk pages in a fixed set of frames. A single
// mutex serializes the frame table, free list and replacement set.
type BufferPoolManager struct {
	mu          sync.Mutex
	logger      *zap.Logger
	metrics     *metrics.StorageMetrics
	diskManager *disk.DiskManager
	poolSize    int
	pages       []*pager.Page
	pageTable   map[pager.PageID]replacer.FrameID
	freeList    []replacer.FrameID
	replacer    replacer.Replacer
}

// NewBufferPoolManager creates a pool of poolSize frames. m may be nil when
// metrics are disabled.
func NewBufferPoolManager(poolSize int, diskManager *disk.DiskManager, m *metrics.StorageMetrics, logger *zap.Logger) *BufferPoolManager {
	bpm := &BufferPoolManager{
		logger:      logger,
		metrics:     m,
		diskManager: diskManager,
		poolSize:    poolSize,
		pages:       make([]*pager.Page, poolSize),
		pageTable:   make(map[pager.PageID]replacer.FrameID, poolSize),
		freeList:    make([]replacer.FrameID, 0, poolSize),
		replacer:    replacer.NewLRUReplacer(poolSize),
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pager.NewPage(pager.InvalidPageID, pager.PageSize)
		bpm.freeList = append(bpm.freeList, replacer.FrameID(i))
	}
	logger.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("page_size", pager.PageSize))
	return bpm
}

// findVictimFrame picks a frame for reuse: the free list first, then the
// replacement policy. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) findVictimFrame() (replacer.FrameID, error) {
	if n := len(bpm.freeList); n > 0 {
		frame := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frame, nil
	}
	if frame, ok := bpm.replacer.Victim(); ok {
		return frame, nil
	}
	return 0, dberror.ErrBufferPoolFull
}

// evictFrame writes back a dirty occupant and drops its mapping. Must be
// called with bpm.mu held.
func (bpm *BufferPoolManager) evictFrame(frame replacer.FrameID) error {
	page := bpm.pages[frame]
	if page.GetPageID() == pager.InvalidPageID {
		return nil
	}
	if page.IsDirty() {
		if err := bpm.diskManager.WritePage(page.GetPageID(), page.GetData()); err != nil {
			return fmt.Errorf("flush victim page %v: %w", page.GetPageID(), err)
		}
		page.SetDirty(false)
		bpm.countFlush()
	}
	delete(bpm.pageTable, page.GetPageID())
	if bpm.metrics != nil {
		bpm.metrics.EvictionCounter.Add(context.Background(), 1)
	}
	bpm.logger.Debug("evicted page",
		zap.Int("file", int(page.GetPageID().File)),
		zap.Int32("page_no", int32(page.GetPageID().PageNo)))
	return nil
}

// FetchPage returns the page pinned. The caller must pair it with exactly
// one UnpinPage.
func (bpm *BufferPoolManager) FetchPage(pageID pager.PageID) (*pager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frame, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frame]
		if page.GetPinCount() == 0 && bpm.metrics != nil {
			bpm.metrics.PinnedUpDownCounter.Add(context.Background(), 1)
		}
		page.Pin()
		bpm.replacer.Pin(replacer.FrameID(frame))
		if bpm.metrics != nil {
			bpm.metrics.PoolHitCounter.Add(context.Background(), 1)
		}
		return page, nil
	}

	if bpm.metrics != nil {
		bpm.metrics.PoolMissCounter.Add(context.Background(), 1)
	}
	frame, err := bpm.findVictimFrame()
	if err != nil {
		bpm.logger.Error("no victim frame available",
			zap.Int("file", int(pageID.File)),
			zap.Int32("page_no", int32(pageID.PageNo)))
		return nil, err
	}
	if err := bpm.evictFrame(frame); err != nil {
		bpm.freeList = append(bpm.freeList, frame)
		return nil, err
	}

	page := bpm.pages[frame]
	page.Reset()
	if err := bpm.diskManager.ReadPage(pageID, page.GetData()); err != nil {
		bpm.freeList = append(bpm.freeList, frame)
		return nil, err
	}
	page.SetPageID(pageID)
	page.SetPinCount(1)
	bpm.pageTable[pageID] = frame
	bpm.replacer.Pin(frame)
	if bpm.metrics != nil {
		bpm.metrics.PinnedUpDownCounter.Add(context.Background(), 1)
	}
	return page, nil
}

// NewPage allocates a fresh page number in file and returns a zeroed,
// pinned frame for it.
func (bpm *BufferPoolManager) NewPage(file pager.FileID) (*pager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frame, err := bpm.findVictimFrame()
	if err != nil {
		return nil, err
	}
	if err := bpm.evictFrame(frame); err != nil {
		bpm.freeList = append(bpm.freeList, frame)
		return nil, err
	}

	pageNo, err := bpm.diskManager.AllocatePage(file)
	if err != nil {
		bpm.freeList = append(bpm.freeList, frame)
		return nil, err
	}
	pageID := pager.PageID{File: file, PageNo: pageNo}

	page := bpm.pages[frame]
	page.Reset()
	page.SetPageID(pageID)
	page.SetPinCount(1)
	bpm.pageTable[pageID] = frame
	bpm.replacer.Pin(frame)
	if bpm.metrics != nil {
		bpm.metrics.PinnedUpDownCounter.Add(context.Background(), 1)
	}
	bpm.logger.Debug("allocated page",
		zap.Int("file", int(file)),
		zap.Int32("page_no", int32(pageNo)))
	return page, nil
}

// UnpinPage drops one pin. Returns false when the page is not resident or
// already at pin count zero.
func (bpm *BufferPoolManager) UnpinPage(pageID pager.PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frame, ok := bpm.pageTable[pageID]
	if !ok {
		bpm.logger.Warn("unpin of non-resident page",
			zap.Int("file", int(pageID.File)),
			zap.Int32("page_no", int32(pageID.PageNo)))
		return false
	}
	page := bpm.pages[frame]
	if page.GetPinCount() == 0 {
		bpm.logger.Warn("unpin of page with zero pin count",
			zap.Int("file", int(pageID.File)),
			zap.Int32("page_no", int32(pageID.PageNo)))
		return false
	}
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
	}
	if page.GetPinCount() == 0 {
		bpm.replacer.Unpin(frame)
		if bpm.metrics != nil {
			bpm.metrics.PinnedUpDownCounter.Add(context.Background(), -1)
		}
	}
	return true
}

// FlushPage writes the page back unconditionally and clears its dirty flag.
func (bpm *BufferPoolManager) FlushPage(pageID pager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frame, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: %v", dberror.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frame]
	if err := bpm.diskManager.WritePage(pageID, page.GetData()); err != nil {
		return err
	}
	page.SetDirty(false)
	bpm.countFlush()
	return nil
}

// FlushAllPages writes back every resident page belonging to file.
func (bpm *BufferPoolManager) FlushAllPages(file pager.FileID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for _, page := range bpm.pages {
		id := page.GetPageID()
		if id == pager.InvalidPageID || id.File != file {
			continue
		}
		if err := bpm.diskManager.WritePage(id, page.GetData()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		page.SetDirty(false)
		bpm.countFlush()
	}
	return firstErr
}

// FlushDirtyPages writes back every dirty resident page regardless of file.
func (bpm *BufferPoolManager) FlushDirtyPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for _, page := range bpm.pages {
		id := page.GetPageID()
		if id == pager.InvalidPageID || !page.IsDirty() {
			continue
		}
		if err := bpm.diskManager.WritePage(id, page.GetData()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		page.SetDirty(false)
		bpm.countFlush()
	}
	return firstErr
}

// DeletePage drops a resident page from the pool, returning its frame to
// the free list. A pinned page is refused (false). An absent page is a
// successful no-op.
func (bpm *BufferPoolManager) DeletePage(pageID pager.PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frame, ok := bpm.pageTable[pageID]
	if !ok {
		return true, nil
	}
	page := bpm.pages[frame]
	if page.GetPinCount() > 0 {
		return false, nil
	}
	if page.IsDirty() {
		if err := bpm.diskManager.WritePage(pageID, page.GetData()); err != nil {
			return false, err
		}
		bpm.countFlush()
	}
	delete(bpm.pageTable, pageID)
	bpm.replacer.Pin(frame)
	page.Reset()
	bpm.freeList = append(bpm.freeList, frame)
	return true, nil
}

// PinnedFrames counts frames currently holding a pinned page.
func (bpm *BufferPoolManager) PinnedFrames() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	n := 0
	for _, page := range bpm.pages {
		if page.GetPageID() != pager.InvalidPageID && page.GetPinCount() > 0 {
			n++
		}
	}
	return n
}

func (bpm *BufferPoolManager) countFlush() {
	if bpm.metrics != nil {
		bpm.metrics.FlushCounter.Add(context.Background(), 1)
	}
}
