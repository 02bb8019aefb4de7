// Package server assembles one database instance from its configuration:
// disk manager, buffer pool with background flusher, write-ahead log,
// lock manager, table engine and transaction manager.
package server

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/config"
	"github.com/sakuradb/sakura/core/engine"
	"github.com/sakuradb/sakura/core/storage/bufferpool"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/transaction"
	"github.com/sakuradb/sakura/core/wal"
	"github.com/sakuradb/sakura/internal/metrics"
	"github.com/sakuradb/sakura/pkg/telemetry"
)

// Server owns every component of a running database instance.
type Server struct {
	Config  *config.Config
	Logger  *zap.Logger
	DataDir string

	DiskMgr *disk.DiskManager
	Pool    *bufferpool.BufferPoolManager
	Flusher *bufferpool.Flusher
	LogMgr  *wal.LogManager
	LockMgr *transaction.LockManager
	Engine  *engine.Engine
	TxnMgr  *engine.TransactionManager

	telemetryShutdown telemetry.ShutdownFunc
}

// New builds a Server from cfg. The data directory is created when it
// does not exist yet.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, err
	}

	tel, telShutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	var storageMetrics *metrics.StorageMetrics
	var txnMetrics *metrics.TxnMetrics
	if cfg.Telemetry.Enabled {
		if storageMetrics, err = metrics.NewStorageMetrics(tel.Meter); err != nil {
			return nil, err
		}
		if txnMetrics, err = metrics.NewTxnMetrics(tel.Meter); err != nil {
			return nil, err
		}
	}

	dm, err := disk.NewDiskManager(filepath.Join(cfg.Storage.DataDir, "wal.log"), logger)
	if err != nil {
		return nil, err
	}
	bpm := bufferpool.NewBufferPoolManager(cfg.Storage.PoolSize, dm, storageMetrics, logger)
	flusher := bufferpool.NewFlusher(bpm, cfg.Storage.FlushInterval, float64(cfg.Storage.FlushMaxPerSecond), logger)
	flusher.Start()

	logMgr := wal.NewLogManager(dm, logger)
	lockMgr := transaction.NewLockManager(txnMetrics, logger)
	eng := engine.NewEngine(dm, bpm, logger)
	txnMgr := engine.NewTransactionManager(eng, lockMgr, logMgr, txnMetrics, logger)

	logger.Info("server assembled",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Int("pool_size", cfg.Storage.PoolSize),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	return &Server{
		Config:            cfg,
		Logger:            logger,
		DataDir:           cfg.Storage.DataDir,
		DiskMgr:           dm,
		Pool:              bpm,
		Flusher:           flusher,
		LogMgr:            logMgr,
		LockMgr:           lockMgr,
		Engine:            eng,
		TxnMgr:            txnMgr,
		telemetryShutdown: telShutdown,
	}, nil
}

// TablePath returns the record file path for a table name.
func (s *Server) TablePath(name string) string {
	return filepath.Join(s.DataDir, name+".tbl")
}

// IndexPath returns the index file path for a table and index name.
func (s *Server) IndexPath(table, name string) string {
	return filepath.Join(s.DataDir, table+"_"+name+".idx")
}

// Close shuts the instance down in dependency order: flusher first so no
// background write races the closing tables, then tables, then disk.
func (s *Server) Close(ctx context.Context) error {
	s.Flusher.Stop()
	var firstErr error
	if err := s.Engine.Close(); err != nil {
		firstErr = err
	}
	if err := s.DiskMgr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.telemetryShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
