package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
)

type expiredOfferSweeper interface {
	SweepExpiredOffers(ctx context.Context) (*dto.SweepResult, error)
	RemindExpiringOffers(ctx context.Context) (int, error)
}

// SweepWorker periodically expires offers whose window elapsed without a
// response. Expiry is data-driven: the sweep scans expiry timestamps, no
// per-offer timer exists, so a crashed process loses nothing.
type SweepWorker struct {
	sweeper  expiredOfferSweeper
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewSweepWorker constructs SweepWorker.
func NewSweepWorker(sweeper expiredOfferSweeper, interval time.Duration, logger *zap.Logger) *SweepWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepWorker{sweeper: sweeper, interval: interval, logger: logger}
}

// Start launches the sweep loop. The first pass runs immediately so a
// restart catches offers that expired while the process was down.
func (w *SweepWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.started = true

	go w.run(ctx)
	w.logger.Info("offer sweep worker started", zap.Duration("interval", w.interval))
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (w *SweepWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.done
	w.mu.Unlock()
	<-done
	w.logger.Info("offer sweep worker stopped")
}

func (w *SweepWorker) run(ctx context.Context) {
	defer close(w.done)

	w.sweep(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	if _, err := w.sweeper.SweepExpiredOffers(ctx); err != nil {
		w.logger.Error("offer sweep pass failed", zap.Error(err))
	}
	if _, err := w.sweeper.RemindExpiringOffers(ctx); err != nil {
		w.logger.Error("offer reminder pass failed", zap.Error(err))
	}
}
