package bufferpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Flusher periodically writes dirty pages back to disk so that eviction
// rarely has to pay for a synchronous write. Flush rounds are paced by a
// rate limiter so a cold cache cannot saturate the disk.
type Flusher struct {
	bpm      *BufferPoolManager
	logger   *zap.Logger
	interval time.Duration
	limiter  *rate.Limiter

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFlusher creates a Flusher that runs every interval, with at most
// maxPerSecond flush rounds per second.
func NewFlusher(bpm *BufferPoolManager, interval time.Duration, maxPerSecond float64, logger *zap.Logger) *Flusher {
	return &Flusher{
		bpm:      bpm,
		logger:   logger,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(maxPerSecond), 1),
		done:     make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (f *Flusher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.run(ctx)
}

func (f *Flusher) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
			if err := f.bpm.FlushDirtyPages(); err != nil {
				f.logger.Error("background flush failed", zap.Error(err))
			}
		}
	}
}

// Stop halts the loop and performs a final flush round.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
			<-f.done
		}
		if err := f.bpm.FlushDirtyPages(); err != nil {
			f.logger.Error("final flush failed", zap.Error(err))
		}
	})
}
