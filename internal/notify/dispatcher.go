// Package notify delivers committed ledger and order events to outbound sinks
// without ever blocking or failing the operation that produced them.
package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

const (
	defaultQueueSize       = 1024
	defaultDeliveryTimeout = 5 * time.Second
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Sink receives events on the dispatcher worker goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event ledger.Event) error
}

// AsyncDispatcher implements ledger.EventPublisher over a bounded queue.
type AsyncDispatcher struct {
	logger          *zap.Logger
	sinks           []Sink
	queue           chan ledger.Event
	deliveryTimeout time.Duration
	done            chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// DispatcherOption configures an AsyncDispatcher.
type DispatcherOption func(*AsyncDispatcher)

// WithQueueSize bounds the number of undelivered events kept in memory.
func WithQueueSize(size int) DispatcherOption {
	return func(dispatcher *AsyncDispatcher) {
		if size > 0 {
			dispatcher.queue = make(chan ledger.Event, size)
		}
	}
}

// WithDeliveryTimeout bounds each sink call.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(dispatcher *AsyncDispatcher) {
		if timeout > 0 {
			dispatcher.deliveryTimeout = timeout
		}
	}
}

// NewAsyncDispatcher starts the worker goroutine. Call Close to flush and stop it.
func NewAsyncDispatcher(logger *zap.Logger, sinks []Sink, options ...DispatcherOption) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := &AsyncDispatcher{
		logger:          logger,
		sinks:           sinks,
		queue:           make(chan ledger.Event, defaultQueueSize),
		deliveryTimeout: defaultDeliveryTimeout,
		done:            make(chan struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	go dispatcher.run()
	return dispatcher
}

// Publish enqueues event. A full queue or a closed dispatcher drops it with a warning.
func (dispatcher *AsyncDispatcher) Publish(_ context.Context, event ledger.Event) {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()
	if dispatcher.closed {
		dispatcher.drop(event, ErrDispatcherClosed)
		return
	}
	select {
	case dispatcher.queue <- event:
	default:
		dispatcher.drop(event, errors.New("queue full"))
	}
}

// Close stops accepting events, drains the queue and closes sinks that implement io.Closer.
func (dispatcher *AsyncDispatcher) Close(ctx context.Context) error {
	dispatcher.mu.Lock()
	if !dispatcher.closed {
		dispatcher.closed = true
		close(dispatcher.queue)
	}
	dispatcher.mu.Unlock()
	select {
	case <-dispatcher.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var closeErr error
	for _, sink := range dispatcher.sinks {
		if closer, ok := sink.(io.Closer); ok {
			closeErr = errors.Join(closeErr, closer.Close())
		}
	}
	return closeErr
}

// Dropped returns the number of events discarded without delivery.
func (dispatcher *AsyncDispatcher) Dropped() uint64 {
	return dispatcher.dropped.Load()
}

// Delivered returns the number of successful sink deliveries.
func (dispatcher *AsyncDispatcher) Delivered() uint64 {
	return dispatcher.delivered.Load()
}

// Failed returns the number of failed sink deliveries.
func (dispatcher *AsyncDispatcher) Failed() uint64 {
	return dispatcher.failed.Load()
}

func (dispatcher *AsyncDispatcher) run() {
	defer close(dispatcher.done)
	for event := range dispatcher.queue {
		for _, sink := range dispatcher.sinks {
			dispatcher.deliver(sink, event)
		}
	}
}

func (dispatcher *AsyncDispatcher) deliver(sink Sink, event ledger.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatcher.deliveryTimeout)
	defer cancel()
	if err := sink.Deliver(ctx, event); err != nil {
		dispatcher.failed.Add(1)
		dispatcher.logger.Warn("event delivery failed",
			zap.String("sink", sink.Name()),
			zap.String("kind", string(event.Kind)),
			zap.String("account_id", event.AccountID),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		return
	}
	dispatcher.delivered.Add(1)
}

func (dispatcher *AsyncDispatcher) drop(event ledger.Event, reason error) {
	dispatcher.dropped.Add(1)
	dispatcher.logger.Warn("event dropped",
		zap.String("kind", string(event.Kind)),
		zap.String("account_id", event.AccountID),
		zap.String("order_id", event.OrderID),
		zap.Error(reason),
	)
}
