// Package engine ties the storage layers together: it keeps the open
// table registry, routes DML through record files and indexes, and runs
// the transaction lifecycle including undo on abort.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/indexing/btree"
	"github.com/sakuradb/sakura/core/record"
	"github.com/sakuradb/sakura/core/storage/bufferpool"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/transaction"
)

// Engine owns the open tables of one database instance.
type Engine struct {
	logger *zap.Logger
	dm     *disk.DiskManager
	bpm    *bufferpool.BufferPoolManager

	mu     sync.Mutex
	tables map[string]*Table
	byFile map[string]*Table
}

// NewEngine creates an empty table registry over the storage stack.
func NewEngine(dm *disk.DiskManager, bpm *bufferpool.BufferPoolManager, logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger,
		dm:     dm,
		bpm:    bpm,
		tables: make(map[string]*Table),
		byFile: make(map[string]*Table),
	}
}

// CreateTable creates the record file at path and registers the table
// under name.
func (e *Engine) CreateTable(name, path string, recordSize int) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; ok {
		return nil, fmt.Errorf("%w: table %s", dberror.ErrFileExists, name)
	}
	if err := record.CreateRecordFile(e.dm, path, recordSize); err != nil {
		return nil, err
	}
	return e.openLocked(name, path)
}

// OpenTable opens an existing record file at path and registers it.
func (e *Engine) OpenTable(name, path string) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tables[name]; ok {
		return t, nil
	}
	return e.openLocked(name, path)
}

func (e *Engine) openLocked(name, path string) (*Table, error) {
	file, err := record.OpenRecordFile(e.dm, e.bpm, path, e.logger)
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name, File: file}
	e.tables[name] = t
	e.byFile[path] = t
	e.logger.Info("table opened",
		zap.String("table", name),
		zap.String("path", path),
		zap.Int32("record_size", file.RecordSize()))
	return t, nil
}

// CreateIndexOn creates an index file at path over the given key columns
// of table t, backfills it from the existing records, and attaches it.
// Offsets name the byte position of each key column inside the record.
func (e *Engine) CreateIndexOn(t *Table, name, path string, cols []btree.IndexColumn, offsets []int32, order int32) (*TableIndex, error) {
	if len(cols) != len(offsets) {
		return nil, fmt.Errorf("%w: %d columns, %d offsets", dberror.ErrInternal, len(cols), len(offsets))
	}
	recordSize := t.File.RecordSize()
	for i, c := range cols {
		if offsets[i] < 0 || offsets[i]+c.Len > recordSize {
			return nil, fmt.Errorf("%w: column %d at offset %d length %d, record size %d",
				dberror.ErrColumnNotFound, i, offsets[i], c.Len, recordSize)
		}
	}
	if err := btree.CreateIndex(e.dm, path, cols, order); err != nil {
		return nil, err
	}
	idx, err := btree.OpenIndex(e.dm, e.bpm, path, e.logger)
	if err != nil {
		return nil, err
	}
	ti := &TableIndex{Name: name, Path: path, Cols: cols, Offsets: offsets, Index: idx}

	bootstrap := transaction.NewContext(nil, nil, nil)
	scan, err := record.NewRecordScan(bootstrap, t.File)
	if err != nil {
		return nil, err
	}
	for !scan.IsEnd() {
		rec, err := scan.Get(bootstrap)
		if err != nil {
			return nil, err
		}
		if err := idx.InsertEntry(ti.BuildKey(rec), scan.Rid()); err != nil {
			return nil, err
		}
		if err := scan.Next(); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	t.Indexes = append(t.Indexes, ti)
	e.mu.Unlock()
	e.logger.Info("index created",
		zap.String("table", t.Name),
		zap.String("index", name),
		zap.String("path", path))
	return ti, nil
}

// DropTable closes the table and removes its record file along with every
// index file.
func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[name]
	if !ok {
		return fmt.Errorf("%w: table %s", dberror.ErrFileNotFound, name)
	}
	var firstErr error
	for _, ti := range t.Indexes {
		if err := ti.Index.Close(e.dm); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.dm.DestroyFile(ti.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	path := t.File.Path()
	if err := t.File.Close(e.dm); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.dm.DestroyFile(path); err != nil && firstErr == nil {
		firstErr = err
	}
	delete(e.tables, name)
	delete(e.byFile, path)
	e.logger.Info("table dropped", zap.String("table", name))
	return firstErr
}

// Tables returns the names of every open table in sorted order.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table looks up an open table by name.
func (e *Engine) Table(name string) (*Table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[name]
	return t, ok
}

// tableByFile resolves the table owning a record file path, the key that
// write records carry.
func (e *Engine) tableByFile(path string) (*Table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.byFile[path]
	return t, ok
}

// Close flushes and closes every open table and index.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, t := range e.tables {
		for _, ti := range t.Indexes {
			if err := ti.Index.Close(e.dm); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := t.File.Close(e.dm); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.tables, name)
		delete(e.byFile, t.File.Path())
	}
	return firstErr
}
