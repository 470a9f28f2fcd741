package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goIdentity/store"
)

// ErrQueueFull is reported to the status callback when a delivery could not
// be queued.
var ErrQueueFull = errors.New("notification queue full")

// Delivery is one queued message and the challenge it belongs to.
type Delivery struct {
	RequestID   string
	Destination string
	TemplateID  string
	Vars        map[string]string
}

// StatusFunc records the delivery outcome against the challenge.
type StatusFunc func(ctx context.Context, requestID string, status store.DeliveryStatus, deliveryID string) error

// FailureReporter is told about every failed delivery.
type FailureReporter interface {
	ReportFailure(ctx context.Context, d Delivery, err error)
}

// DispatcherConfig controls queueing and workers.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher sends notifications off the request path. Enqueue never waits
// for delivery; the outcome is written back through the StatusFunc.
type Dispatcher struct {
	notifier Notifier
	status   StatusFunc
	reporter FailureReporter
	logger   *slog.Logger
	timeout  time.Duration

	ch   chan Delivery
	done chan struct{}
	wg   sync.WaitGroup

	// mu orders sends on ch against Close; no send starts once closed is set.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewDispatcher(cfg DispatcherConfig, n Notifier, status StatusFunc, reporter FailureReporter, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		notifier: n,
		status:   status,
		reporter: reporter,
		logger:   logger,
		timeout:  cfg.SendTimeout,
		ch:       make(chan Delivery, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.ch:
			d.deliver(job)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.deliver(job)
				default:
					return
				}
			}
		}
	}
}

// Enqueue hands d to the workers. A full or closed queue is recorded as a
// failed delivery immediately.
func (d *Dispatcher) Enqueue(job Delivery) {
	if d == nil {
		return
	}
	if !d.offer(job) {
		d.fail(context.Background(), job, ErrQueueFull)
	}
}

func (d *Dispatcher) offer(job Delivery) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.ch <- job:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) deliver(job Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	id, err := d.notifier.Send(ctx, job.Destination, job.TemplateID, job.Vars)
	if err != nil {
		d.fail(ctx, job, err)
		return
	}
	d.sent.Add(1)
	if d.status != nil {
		if err := d.status(ctx, job.RequestID, store.DeliverySent, id); err != nil {
			d.logger.Warn("goIdentity: delivery status write failed", "request_id", job.RequestID, "error", err)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, job Delivery, cause error) {
	d.failed.Add(1)
	d.logger.Error("goIdentity: notification delivery failed", "request_id", job.RequestID, "template", job.TemplateID, "error", cause)
	if d.reporter != nil {
		d.reporter.ReportFailure(ctx, job, cause)
	}
	if d.status != nil {
		if err := d.status(ctx, job.RequestID, store.DeliveryFailed, ""); err != nil {
			d.logger.Warn("goIdentity: delivery status write failed", "request_id", job.RequestID, "error", err)
		}
	}
}

// Close drains the queue and waits for workers.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Sent is the number of successful deliveries.
func (d *Dispatcher) Sent() uint64 {
	if d == nil {
		return 0
	}
	return d.sent.Load()
}

// Failed is the number of failed or unqueued deliveries.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
