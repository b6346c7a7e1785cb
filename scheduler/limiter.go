// Package scheduler bounds how many agent runs execute at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"
)

// ErrLimiterTimeout is returned when a caller's deadline passes while it is
// still queued.
var ErrLimiterTimeout = errors.New("timed out waiting for a limiter slot")

// Limiter admits at most Capacity callers at a time, in arrival order.
// Capacity is fixed at construction.
type Limiter struct {
	name         string
	capacity     int
	sem          *semaphore.Weighted
	queueTimeout time.Duration
	logger       hclog.Logger

	mu       sync.Mutex
	inFlight int
	waiting  int
	peak     int
}

type Option func(*Limiter)

func WithLogger(l hclog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithQueueTimeout bounds how long a caller may wait for a slot.
func WithQueueTimeout(d time.Duration) Option {
	return func(lim *Limiter) { lim.queueTimeout = d }
}

// New creates a limiter of width capacity. Widths below 1 are raised to 1.
func New(name string, capacity int, opts ...Option) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	l := &Limiter{
		name:     name,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("limiter").With("limiter", name)
	return l
}

// Submit blocks until a slot is free, runs fn and releases the slot when fn
// returns or panics.
func (l *Limiter) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return fn(ctx)
}

// Do is Submit for functions that return a value.
func Do[T any](ctx context.Context, l *Limiter, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := l.Submit(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (l *Limiter) acquire(ctx context.Context) error {
	waitCtx := ctx
	if l.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.queueTimeout)
		defer cancel()
	}

	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	start := time.Now()
	err := l.sem.Acquire(waitCtx, 1)

	l.mu.Lock()
	l.waiting--
	if err == nil {
		l.inFlight++
		if l.inFlight > l.peak {
			l.peak = l.inFlight
		}
	}
	inFlight, waiting := l.inFlight, l.waiting
	l.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			l.logger.Debug("queue wait timed out", "waited", time.Since(start))
			return fmt.Errorf("%w: %s: %w", ErrLimiterTimeout, l.name, err)
		}
		return err
	}

	l.logger.Trace("admitted", "in_flight", inFlight, "waiting", waiting, "waited", time.Since(start))
	return nil
}

func (l *Limiter) release() {
	l.mu.Lock()
	l.inFlight--
	l.mu.Unlock()
	l.sem.Release(1)
}

func (l *Limiter) Name() string  { return l.name }
func (l *Limiter) Capacity() int { return l.capacity }

// InFlight returns the number of callers currently holding a slot.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Waiting returns the number of callers queued for a slot.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

// Peak returns the highest InFlight seen since construction.
func (l *Limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// Stats is a point-in-time view of a limiter.
type Stats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	InFlight int    `json:"in_flight"`
	Waiting  int    `json:"waiting"`
	Peak     int    `json:"peak"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Name: l.name, Capacity: l.capacity, InFlight: l.inFlight, Waiting: l.waiting, Peak: l.peak}
}
