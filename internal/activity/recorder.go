// Package activity writes the board audit trail as a best-effort side
// channel: enqueueing never blocks a mutation, and a failed insert is
// logged and forgotten rather than surfaced to the caller.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/store"
)

type inserter interface {
	InsertActivity(ctx context.Context, item store.Activity) error
}

type sink interface {
	EmitActivity(boardID string, payload any)
}

// Recorder drains a bounded queue of activity rows on a worker goroutine.
type Recorder struct {
	store   inserter
	events  sink
	log     *logrus.Logger
	queue   chan store.Activity
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewRecorder(st inserter, events sink, log *logrus.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		store:   st,
		events:  events,
		log:     log,
		queue:   make(chan store.Activity, queueSize),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an audit row. When the queue is full, or the recorder
// has already been closed, the row is dropped and counted against the log
// rather than blocking or panicking on the mutation path.
func (r *Recorder) Record(item store.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.WithFields(logrus.Fields{
			"board_id": item.BoardID,
			"action":   item.ActionType,
		}).Warn("recorder closed, dropping audit record")
		return
	}
	select {
	case r.queue <- item:
	default:
		r.log.WithFields(logrus.Fields{
			"board_id": item.BoardID,
			"action":   item.ActionType,
		}).Warn("activity queue full, dropping audit record")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for item := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.InsertActivity(ctx, item); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"board_id": item.BoardID,
				"action":   item.ActionType,
			}).Error("failed to write activity record")
			cancel()
			continue
		}
		if r.events != nil {
			r.events.EmitActivity(item.BoardID, item)
		}
		cancel()
	}
}

// Close stops accepting records and waits for the queue to drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
