package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fee-engine/fees"
)

// ErrQueueFull is returned by Dispatcher.Publish when the buffer is full.
var ErrQueueFull = errors.New("notification queue full")

// ErrClosed is returned by Dispatcher.Publish after Close.
var ErrClosed = errors.New("dispatcher closed")

type DispatcherOptions struct {
	// QueueSize bounds pending notifications. Default 256.
	QueueSize int
	// Timeout bounds a single delivery. Default 5s.
	Timeout time.Duration
}

// Dispatcher delivers notifications asynchronously on one worker
// goroutine, in the order they were published.
type Dispatcher struct {
	next    fees.Publisher
	logger  *zap.Logger
	timeout time.Duration

	queue chan fees.Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(next fees.Publisher, logger *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		next:    next,
		logger:  logger.Named("dispatcher"),
		timeout: opts.Timeout,
		queue:   make(chan fees.Notification, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues without blocking. The request context is not carried
// over: delivery happens after the request has returned.
func (d *Dispatcher) Publish(_ context.Context, note fees.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- note:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits until the queue drains or
// ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for note := range d.queue {
		d.deliver(note)
	}
}

func (d *Dispatcher) deliver(note fees.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("publisher panicked",
				zap.String("approval_id", note.Approval.ID),
				zap.Any("panic", rec))
		}
	}()

	if err := d.next.Publish(ctx, note); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("approval_id", note.Approval.ID),
			zap.String("event", string(note.Kind)),
			zap.Error(err))
	}
}
