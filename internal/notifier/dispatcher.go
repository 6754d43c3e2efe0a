package notifier

import (
	"context"
	"sync"
	"time"

	"auction-core/internal/models"
	"auction-core/utils"
)

// Options tunes the dispatcher's queue and retry policy
type Options struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	RetryBackoff   time.Duration
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	return o
}

// Dispatcher queues notifications and delivers them from a worker pool,
// retrying failed publishes with exponential backoff. A Multi publisher is
// delivered per backend, so a retry only reaches the backends that failed.
type Dispatcher struct {
	targets []Publisher
	opts    Options
	queue     chan models.Notification

	mu     sync.RWMutex
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher starts the worker pool
func NewDispatcher(publisher Publisher, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		targets: flatten(publisher),
		opts:    opts,
		queue:     make(chan models.Notification, opts.QueueSize),
		stop:      make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify enqueues n without blocking. When the queue is full or the
// dispatcher is closed the notification is dropped and logged.
func (d *Dispatcher) Notify(n models.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		utils.Warn("Notification dropped: dispatcher closed", fields(n))
		return
	}
	select {
	case d.queue <- n:
	default:
		utils.Warn("Notification dropped: queue full", fields(n))
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered, or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.stop)
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n models.Notification) {
	backoff := d.opts.RetryBackoff
	pending := d.targets
	var err error

	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-d.stop:
				utils.Error("Notification abandoned during shutdown", withErr(fields(n), err))
				return
			}
		}

		var failed []Publisher
		for _, p := range pending {
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
			perr := p.Publish(ctx, n)
			cancel()
			if perr == nil {
				continue
			}
			err = perr
			failed = append(failed, p)

			f := withErr(fields(n), perr)
			f["attempt"] = attempt + 1
			utils.Warn("Notification delivery failed", f)
		}
		if len(failed) == 0 {
			return
		}
		pending = failed
	}

	f := withErr(fields(n), err)
	f["failed_backends"] = len(pending)
	utils.Error("Notification delivery gave up", f)
}

// flatten expands nested Multi publishers into their backends
func flatten(p Publisher) []Publisher {
	m, ok := p.(Multi)
	if !ok {
		return []Publisher{p}
	}
	var out []Publisher
	for _, inner := range m {
		out = append(out, flatten(inner)...)
	}
	return out
}

func fields(n models.Notification) map[string]any {
	return map[string]any{
		"notification_id": n.NotificationID,
		"user_id":         n.UserID,
		"auction_id":      n.AuctionID,
		"type":            n.Type,
	}
}

func withErr(f map[string]any, err error) map[string]any {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}
