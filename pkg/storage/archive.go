package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// DefaultQueueSize bounds the lines waiting to be archived.
const DefaultQueueSize = 1024

var (
	// ErrArchiveFull is returned when the queue is full and the line is dropped.
	ErrArchiveFull = errors.New("archive: queue full, line dropped")
	// ErrArchiveClosed is returned by writes after Close.
	ErrArchiveClosed = errors.New("archive: closed")
)

// ArchiveSink copies access lines into a Store without holding up the
// request that produced them. One worker drains a bounded queue; a circuit
// breaker stops the attempts while the store keeps failing.
type ArchiveSink struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	queue   chan Record
	pending sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewArchiveSink wraps store and starts its worker. queueSize <= 0 means
// DefaultQueueSize. Five consecutive failures open the breaker for 30
// seconds.
func NewArchiveSink(store Store, log zerolog.Logger, queueSize int) *ArchiveSink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &ArchiveSink{
		store:   store,
		log:     log,
		timeout: 5 * time.Second,
		now:     time.Now,
		queue:   make(chan Record, queueSize),
		done:    make(chan struct{}),
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "accesslog-archive",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[ARCHIVE] circuit breaker state changed")
		},
	})
	go a.run()
	return a
}

// WriteLine queues line for storage. It never blocks: an open breaker or a
// full queue drops the line and reports why.
func (a *ArchiveSink) WriteLine(line string) error {
	if a.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("archive: %w", gobreaker.ErrOpenState)
	}

	rec := Record{ID: uuid.NewString(), Timestamp: a.now(), Line: line}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiveClosed
	}

	a.pending.Add(1)
	select {
	case a.queue <- rec:
		return nil
	default:
		a.pending.Done()
		return ErrArchiveFull
	}
}

func (a *ArchiveSink) run() {
	defer close(a.done)
	for rec := range a.queue {
		a.save(rec)
		a.pending.Done()
	}
}

func (a *ArchiveSink) save(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	_, err := a.breaker.Execute(func() (interface{}, error) {
		return nil, a.store.SaveRecord(ctx, &rec)
	})
	if err != nil {
		a.log.Error().Err(err).Str("id", rec.ID).Msg("[ARCHIVE] failed to persist line")
	}
}

// Wait blocks until every queued line has been handled.
func (a *ArchiveSink) Wait() {
	a.pending.Wait()
}

// Close stops accepting lines, drains the queue and stops the worker.
// Closing twice is a no-op.
func (a *ArchiveSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
