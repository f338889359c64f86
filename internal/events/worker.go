package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// scheduledEvent is one queued fan-out task.
type scheduledEvent struct {
	eventID int64
	runAt   time.Time
}

// Worker drains the publish queue. Each task waits out the configured
// countdown before fan-out so the writing transaction settles first.
type Worker struct {
	publisher *Publisher
	countdown time.Duration
	queue     chan scheduledEvent

	shutdownChan     chan struct{}
	shutdownComplete chan struct{}
}

// NewWorker creates a publish worker.
func NewWorker(publisher *Publisher, countdown time.Duration, queueSize int) *Worker {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Worker{
		publisher:        publisher,
		countdown:        countdown,
		queue:            make(chan scheduledEvent, queueSize),
		shutdownChan:     make(chan struct{}),
		shutdownComplete: make(chan struct{}),
	}
}

// Schedule enqueues an event for fan-out after the countdown.
// A full queue drops the task; subscribers miss that message, which is
// within the delivery contract.
func (w *Worker) Schedule(eventID int64) {
	task := scheduledEvent{eventID: eventID, runAt: time.Now().Add(w.countdown)}
	select {
	case w.queue <- task:
	default:
		log.Warn().Int64("event_id", eventID).Msg("Publish queue full, dropping event")
	}
}

// Start runs the drain loop until Stop is called or the context ends.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
	log.Info().Dur("countdown", w.countdown).Msg("Publish worker started")
}

// Stop shuts the worker down and waits for the in-flight task to finish.
func (w *Worker) Stop() {
	close(w.shutdownChan)
	<-w.shutdownComplete
	log.Info().Msg("Publish worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.shutdownComplete)

	for {
		select {
		case <-w.shutdownChan:
			return
		case <-ctx.Done():
			return
		case task := <-w.queue:
			if !w.waitCountdown(ctx, task.runAt) {
				return
			}
			w.publish(ctx, task.eventID)
		}
	}
}

// waitCountdown sleeps until the task is due. Returns false on shutdown.
func (w *Worker) waitCountdown(ctx context.Context, runAt time.Time) bool {
	delay := time.Until(runAt)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-w.shutdownChan:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) publish(ctx context.Context, eventID int64) {
	err := w.publisher.PublishEvent(ctx, eventID)
	switch {
	case err == nil:
		log.Debug().Int64("event_id", eventID).Msg("Event fanned out")
	case errors.Is(err, ErrEventNotFound):
		// Permanent: the record is gone, retrying cannot help.
		log.Warn().Int64("event_id", eventID).Msg("Event record missing, dropping publish task")
	default:
		log.Error().Err(err).Int64("event_id", eventID).Msg("Event fan-out failed")
	}
}
