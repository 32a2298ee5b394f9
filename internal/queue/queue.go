// Package queue provides job consumers over the durable SQLite-backed queue.
// Two variants implement the same Consumer capability: Blocking waits on an
// in-process wake signal, Polling sleeps between claim attempts. Polling is
// the fallback for consumers that cannot share the producer's process, such
// as the standalone worker command.
package queue

import (
	"context"
	"time"

	"github.com/kalambet/reviewd/internal/storage"
)

// JobStore abstracts the claim operation of the durable queue.
type JobStore interface {
	ClaimNextJob() (*storage.Job, error)
}

// Consumer hands out claimed jobs. Next blocks until a job is available or
// ctx is done, in which case it returns ctx's error.
type Consumer interface {
	Next(ctx context.Context) (*storage.Job, error)
}

// Notifier wakes blocking consumers when a job is enqueued. The channel has
// capacity one; Notify never blocks, and a missed signal is recovered by the
// consumer's periodic re-poll.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify signals that a job may be available.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C returns the wake channel.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// Blocking is a consumer that suspends on the notifier until work arrives.
type Blocking struct {
	store  JobStore
	notify *Notifier
	repoll time.Duration
}

// NewBlocking creates a blocking consumer. repoll bounds how long a missed
// notification can delay a claim; <= 0 defaults to 5s.
func NewBlocking(store JobStore, notify *Notifier, repoll time.Duration) *Blocking {
	if repoll <= 0 {
		repoll = 5 * time.Second
	}
	return &Blocking{store: store, notify: notify, repoll: repoll}
}

// Next claims the next job, suspending until one is available.
func (b *Blocking) Next(ctx context.Context) (*storage.Job, error) {
	for {
		job, err := b.store.ClaimNextJob()
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify.C():
		case <-time.After(b.repoll):
		}
	}
}

// Polling is a consumer that sleeps a fixed interval between claim attempts.
type Polling struct {
	store    JobStore
	interval time.Duration
}

// NewPolling creates a polling consumer. interval <= 0 defaults to 1s.
func NewPolling(store JobStore, interval time.Duration) *Polling {
	if interval <= 0 {
		interval = time.Second
	}
	return &Polling{store: store, interval: interval}
}

// Next claims the next job, sleeping between attempts until one is available.
func (p *Polling) Next(ctx context.Context) (*storage.Job, error) {
	for {
		job, err := p.store.ClaimNextJob()
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.interval):
		}
	}
}
