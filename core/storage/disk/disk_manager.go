// Package disk implements page-granular file I/O: an open-file table keyed
// by integer file handles, page-aligned reads and writes, a per-file page
// allocator, and an append-only log stream.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/pager"
)

type fileHandle struct {
	path string
	file *os.File
	// nextPageNo is the next unused page number. Allocation advances it
	// without growing the file; the caller's write induces growth.
	nextPageNo atomic.Int32
}

// DiskManager owns every open data file and the log stream.
type DiskManager struct {
	mu         sync.Mutex
	logger     *zap.Logger
	nextFileID pager.FileID
	pathToID   map[string]pager.FileID
	files      map[pager.FileID]*fileHandle

	logMu   sync.Mutex
	logFile *os.File
}

// NewDiskManager creates a DiskManager. logPath may be empty, in which case
// WriteLog and ReadLog report ErrFileNotOpen.
func NewDiskManager(logPath string, logger *zap.Logger) (*DiskManager, error) {
	dm := &DiskManager{
		logger:   logger,
		pathToID: make(map[string]pager.FileID),
		files:    make(map[pager.FileID]*fileHandle),
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: open log file %s: %v", dberror.ErrIO, logPath, err)
		}
		dm.logFile = f
	}
	logger.Info("disk manager initialized", zap.String("log_path", logPath))
	return dm, nil
}

// CreateFile creates an empty file at path. The file is not opened.
func (dm *DiskManager) CreateFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", dberror.ErrFileExists, path)
		}
		return fmt.Errorf("%w: create %s: %v", dberror.ErrIO, path, err)
	}
	return f.Close()
}

// DestroyFile removes the file at path. It refuses while the file is open.
func (dm *DiskManager) DestroyFile(path string) error {
	dm.mu.Lock()
	_, open := dm.pathToID[path]
	dm.mu.Unlock()
	if open {
		return fmt.Errorf("%w: destroy open file %s", dberror.ErrInternal, path)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", dberror.ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: remove %s: %v", dberror.ErrIO, path, err)
	}
	return nil
}

// OpenFile opens path and returns its handle. Opening an already open path
// returns the existing handle.
func (dm *DiskManager) OpenFile(path string) (pager.FileID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id, ok := dm.pathToID[path]; ok {
		return id, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return pager.InvalidFileID, fmt.Errorf("%w: %s", dberror.ErrFileNotFound, path)
		}
		return pager.InvalidFileID, fmt.Errorf("%w: open %s: %v", dberror.ErrIO, path, err)
	}

	id := dm.nextFileID
	dm.nextFileID++
	h := &fileHandle{path: path, file: f}
	if info, err := f.Stat(); err == nil {
		h.nextPageNo.Store(int32(info.Size() / pager.PageSize))
	}
	dm.pathToID[path] = id
	dm.files[id] = h
	dm.logger.Debug("opened file", zap.String("path", path), zap.Int("file_id", int(id)))
	return id, nil
}

// CloseFile closes an open handle.
func (dm *DiskManager) CloseFile(id pager.FileID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	h, ok := dm.files[id]
	if !ok {
		return fmt.Errorf("%w: file id %d", dberror.ErrFileNotOpen, id)
	}
	delete(dm.files, id)
	delete(dm.pathToID, h.path)
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", dberror.ErrIO, h.path, err)
	}
	return nil
}

func (dm *DiskManager) handle(id pager.FileID) (*fileHandle, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	h, ok := dm.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: file id %d", dberror.ErrFileNotOpen, id)
	}
	return h, nil
}

// GetFilePath returns the path an open handle was opened with.
func (dm *DiskManager) GetFilePath(id pager.FileID) (string, error) {
	h, err := dm.handle(id)
	if err != nil {
		return "", err
	}
	return h.path, nil
}

// GetFileSize returns the current byte size of an open file.
func (dm *DiskManager) GetFileSize(id pager.FileID) (int64, error) {
	h, err := dm.handle(id)
	if err != nil {
		return 0, err
	}
	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", dberror.ErrIO, h.path, err)
	}
	return info.Size(), nil
}

// ReadPage reads one page into buf. Short transfers are I/O errors, except
// a clean EOF past the end of file which zero-fills (a page that was
// allocated but never written yet).
func (dm *DiskManager) ReadPage(id pager.PageID, buf []byte) error {
	h, err := dm.handle(id.File)
	if err != nil {
		return err
	}
	off := int64(id.PageNo) * pager.PageSize
	n, err := h.file.ReadAt(buf[:pager.PageSize], off)
	if err == io.EOF && n == 0 {
		for i := n; i < pager.PageSize; i++ {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read page %d of %s: %v", dberror.ErrIO, id.PageNo, h.path, err)
	}
	if n != pager.PageSize {
		return fmt.Errorf("%w: short read of page %d of %s: %d bytes", dberror.ErrIO, id.PageNo, h.path, n)
	}
	return nil
}

// WritePage writes one page from buf.
func (dm *DiskManager) WritePage(id pager.PageID, buf []byte) error {
	h, err := dm.handle(id.File)
	if err != nil {
		return err
	}
	off := int64(id.PageNo) * pager.PageSize
	n, err := h.file.WriteAt(buf[:pager.PageSize], off)
	if err != nil {
		return fmt.Errorf("%w: write page %d of %s: %v", dberror.ErrIO, id.PageNo, h.path, err)
	}
	if n != pager.PageSize {
		return fmt.Errorf("%w: short write of page %d of %s: %d bytes", dberror.ErrIO, id.PageNo, h.path, n)
	}
	return nil
}

// AllocatePage hands out the next unused page number for the file.
func (dm *DiskManager) AllocatePage(id pager.FileID) (pager.PageNo, error) {
	h, err := dm.handle(id)
	if err != nil {
		return pager.InvalidPageNo, err
	}
	return pager.PageNo(h.nextPageNo.Add(1) - 1), nil
}

// SetNextPageNo resets the allocator for a file whose page count was
// restored from a file header.
func (dm *DiskManager) SetNextPageNo(id pager.FileID, next pager.PageNo) error {
	h, err := dm.handle(id)
	if err != nil {
		return err
	}
	h.nextPageNo.Store(int32(next))
	return nil
}

// GetNextPageNo reports the allocator position for a file.
func (dm *DiskManager) GetNextPageNo(id pager.FileID) (pager.PageNo, error) {
	h, err := dm.handle(id)
	if err != nil {
		return pager.InvalidPageNo, err
	}
	return pager.PageNo(h.nextPageNo.Load()), nil
}

// Sync flushes an open file to stable storage.
func (dm *DiskManager) Sync(id pager.FileID) error {
	h, err := dm.handle(id)
	if err != nil {
		return err
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", dberror.ErrIO, h.path, err)
	}
	return nil
}

// WriteLog appends data to the log stream.
func (dm *DiskManager) WriteLog(data []byte) error {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if dm.logFile == nil {
		return fmt.Errorf("%w: log stream", dberror.ErrFileNotOpen)
	}
	n, err := dm.logFile.Write(data)
	if err != nil {
		return fmt.Errorf("%w: append log: %v", dberror.ErrIO, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short log append: %d of %d bytes", dberror.ErrIO, n, len(data))
	}
	return nil
}

// ReadLog reads from the log stream at offset. Returns the byte count read;
// zero with no error at end of log.
func (dm *DiskManager) ReadLog(buf []byte, offset int64) (int, error) {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if dm.logFile == nil {
		return 0, fmt.Errorf("%w: log stream", dberror.ErrFileNotOpen)
	}
	n, err := dm.logFile.ReadAt(buf, offset)
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: read log at %d: %v", dberror.ErrIO, offset, err)
	}
	return n, nil
}

// SyncLog flushes the log stream to stable storage.
func (dm *DiskManager) SyncLog() error {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if dm.logFile == nil {
		return fmt.Errorf("%w: log stream", dberror.ErrFileNotOpen)
	}
	if err := dm.logFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync log: %v", dberror.ErrIO, err)
	}
	return nil
}

// Close closes every open file and the log stream.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	var firstErr error
	for id, h := range dm.files {
		if err := h.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: close %s: %v", dberror.ErrIO, h.path, err)
		}
		delete(dm.files, id)
		delete(dm.pathToID, h.path)
	}
	dm.mu.Unlock()

	dm.logMu.Lock()
	if dm.logFile != nil {
		if err := dm.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: close log: %v", dberror.ErrIO, err)
		}
		dm.logFile = nil
	}
	dm.logMu.Unlock()
	return firstErr
}
