package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/logger"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("dispatcher is closed")

type job struct {
	ctx  context.Context
	name string
	run  func(context.Context) error
	done chan error
}

// Dispatcher runs work for each participant strictly one item at a time, in
// submission order. Different participants run concurrently. A participant's
// worker exits as soon as its queue is empty.
type Dispatcher struct {
	handler Handler
	base    context.Context
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[string][]job
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher feeding events to handler. Work submitted
// with Submit runs under ctx detached from its cancellation, so queued events
// finish during shutdown.
func NewDispatcher(ctx context.Context, handler Handler, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		base:    context.WithoutCancel(ctx),
		logger:  logger.WithFields(log),
		queues:  make(map[string][]job),
	}
}

// Submit queues an event without waiting for it.
func (d *Dispatcher) Submit(ev Event) error {
	return d.enqueue(ev.ParticipantID, job{
		ctx:  d.base,
		name: ev.Kind.String(),
		run: func(ctx context.Context) error {
			return d.handler.Handle(ctx, ev)
		},
	})
}

// Do runs fn in the participant's queue and waits for it. If ctx ends first
// Do returns ctx.Err(); fn still runs when its turn comes.
func (d *Dispatcher) Do(ctx context.Context, participantID string, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := d.enqueue(participantID, job{ctx: ctx, name: "call", run: fn, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of participants with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting work and waits until every queue has drained or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d participant queues: %w", d.Active(), ctx.Err())
	}
}

func (d *Dispatcher) enqueue(participantID string, j job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	pending, running := d.queues[participantID]
	d.queues[participantID] = append(pending, j)
	if !running {
		d.wg.Add(1)
		go d.work(participantID)
	}
	return nil
}

func (d *Dispatcher) work(participantID string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		pending := d.queues[participantID]
		if len(pending) == 0 {
			delete(d.queues, participantID)
			d.mu.Unlock()
			return
		}
		j := pending[0]
		d.queues[participantID] = pending[1:]
		d.mu.Unlock()

		err := d.execute(participantID, j)
		if j.done != nil {
			j.done <- err
		}
	}
}

func (d *Dispatcher) execute(participantID string, j job) (err error) {
	log := d.logger.With(zap.String(logger.FieldParticipant, participantID), zap.String("event", j.name))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling %s: %v", j.name, r)
			log.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	err = j.run(j.ctx)
	switch {
	case err == nil:
		log.Debug("event handled")
	case errors.Is(err, ErrValidation):
		log.Info("event rejected", zap.Error(err))
	case errors.Is(err, ErrTransient):
		log.Warn("event failed", zap.Error(err))
	default:
		log.Error("event failed", zap.Error(err))
	}
	return err
}
