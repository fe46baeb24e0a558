package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many notifications queue (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - MaxFlushesPerSecond: upper bound on flush rate; 0 disables throttling.
type Config struct {
	BufferSize          int
	MaxBatchEvents      int
	MaxBatchWait        time.Duration
	SinkTimeout         time.Duration
	MaxFlushesPerSecond float64
	Now                 func() time.Time
	Logger              *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub implements crawler.Notifier. Notify never blocks; a full buffer drops
// the notification and logs a rate-limited warning.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan crawler.Notification
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropLog  rate.Sometimes
	flushes  *rate.Limiter
	dropped  atomic.Int64
	closed   atomic.Bool
	received atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

var _ crawler.Notifier = (*Hub)(nil)

// NewHub starts the batching goroutine with the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan crawler.Notification, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger.Named("notify"),
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	if cfg.MaxFlushesPerSecond > 0 {
		h.flushes = rate.NewLimiter(rate.Limit(cfg.MaxFlushesPerSecond), 1)
	}
	go h.run()
	return h
}

// Notify enqueues n for delivery, stamping At when unset.
func (h *Hub) Notify(n crawler.Notification) {
	if h == nil || h.closed.Load() {
		return
	}
	if !n.Kind.Valid() {
		h.logger.Debug("discarding notification with unknown kind", zap.String("kind", string(n.Kind)))
		return
	}
	if n.At.IsZero() {
		n.At = h.cfg.Now().UTC()
	}
	select {
	case h.events <- n:
		h.received.Add(1)
	default:
		h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("notifications dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		})
	}
}

// Received reports how many notifications were accepted.
func (h *Hub) Received() int64 {
	return h.received.Load()
}

// Close drains queued notifications, flushes and closes sinks, and waits for
// the background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]crawler.Notification, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	for {
		select {
		case n := <-h.events:
			batch = append(batch, n)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
				timer.Stop()
			} else if len(batch) == 1 {
				timer.Reset(h.cfg.MaxBatchWait)
			}
		case <-timer.C:
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			timer.Stop()
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []crawler.Notification) {
	for {
		select {
		case n := <-h.events:
			batch = append(batch, n)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []crawler.Notification) {
	if len(batch) == 0 {
		return
	}
	if h.flushes != nil && !h.closed.Load() {
		_ = h.flushes.Wait(context.Background())
	}
	copyBatch := append([]crawler.Notification(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("notification sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("notification sink close failed", zap.Error(err))
		}
	}
}
