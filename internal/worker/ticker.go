package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/metrics"
	"go.uber.org/zap"
)

const DefaultInterval = 10 * time.Second

// Batcher is what the tick driver invokes on every tick.
type Batcher interface {
	ProcessDueBatch(ctx context.Context) (int, error)
}

// Handle owns the tick timer for one process. At most one tick runs at a time;
// a tick that fires while the previous one is still running is skipped.
type Handle struct {
	batcher  Batcher
	interval time.Duration
	log      *zap.Logger

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopEnd chan struct{}
	ticks   sync.WaitGroup
}

func NewHandle(b Batcher, interval time.Duration, log *zap.Logger) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handle{batcher: b, interval: interval, log: log}
}

// Start launches the timer. Calling Start on a started handle does nothing.
func (h *Handle) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.loopEnd = make(chan struct{})

	go h.loop(ctx, h.loopEnd)
	h.log.Info("worker started", zap.String("action", "worker.start"), zap.Duration("interval", h.interval))
}

func (h *Handle) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.ticks.Add(1)
			go func() {
				defer h.ticks.Done()
				h.Tick(ctx)
			}()
		}
	}
}

// Stop halts the timer and waits for an in-flight tick to return.
func (h *Handle) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.loopEnd
	h.cancel, h.loopEnd = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	h.ticks.Wait()
	h.log.Info("worker stopped", zap.String("action", "worker.stop"))
}

// Run starts the handle and blocks until ctx is cancelled.
func (h *Handle) Run(ctx context.Context) error {
	h.Start(ctx)
	<-ctx.Done()
	h.Stop()
	return nil
}

// Tick runs one batch unless another tick is still in progress. It reports whether
// the batch ran. Errors and panics are logged and swallowed.
func (h *Handle) Tick(ctx context.Context) (ran bool) {
	if !h.running.CompareAndSwap(false, true) {
		metrics.TicksSkippedTotal.Inc()
		h.log.Debug("previous tick still running", zap.String("action", "worker.tick_skipped"))
		return false
	}
	defer h.running.Store(false)
	ran = true

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("tick failed",
				zap.String("action", "worker.tick_failed"),
				zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()

	n, err := h.batcher.ProcessDueBatch(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Error("tick failed", zap.String("action", "worker.tick_failed"), zap.Error(err))
	}
	if n > 0 {
		h.log.Info("batch processed", zap.String("action", "worker.tick"), zap.Int("processed", n))
	}
	return ran
}
