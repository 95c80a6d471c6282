// Package controller - This file contains the asynchronous incident recorder.
package controller

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRecorderQueueSize is the number of pending writes the recorder buffers.
const DefaultRecorderQueueSize = 100

// IncidentSink persists incidents and detection log rows.
type IncidentSink interface {
	Append(ctx context.Context, incident risk.Incident) error
	AppendDetections(ctx context.Context, records []risk.DetectionRecord) error
}

type recordTask struct {
	incident   *risk.Incident
	detections []risk.DetectionRecord
}

// IncidentRecorder writes incidents to a sink.
//
// RecordIncident writes synchronously and returns the sink's error. Enqueue and
// EnqueueDetections hand the write to a background goroutine so the frame
// worker never waits on storage; when the queue is full the write is dropped
// and reported.
type IncidentRecorder struct {
	sink    IncidentSink
	queue   chan recordTask
	onError func(error)
	logger  zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// RecorderOption customises an IncidentRecorder.
type RecorderOption func(*IncidentRecorder)

// WithErrorHandler registers a callback for failed or dropped asynchronous writes.
func WithErrorHandler(fn func(error)) RecorderOption {
	return func(r *IncidentRecorder) { r.onError = fn }
}

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(logger zerolog.Logger) RecorderOption {
	return func(r *IncidentRecorder) { r.logger = logger }
}

// NewIncidentRecorder starts a recorder writing to sink.
//
// Arguments:
//   - sink: The store incidents are written to.
//   - queueSize: Pending asynchronous writes to buffer; values < 1 use DefaultRecorderQueueSize.
//   - opts: Optional overrides.
//
// Returns:
//   - *IncidentRecorder: The running recorder. Close it to flush pending writes.
func NewIncidentRecorder(sink IncidentSink, queueSize int, opts ...RecorderOption) *IncidentRecorder {
	if queueSize < 1 {
		queueSize = DefaultRecorderQueueSize
	}
	r := &IncidentRecorder{
		sink:   sink,
		queue:  make(chan recordTask, queueSize),
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// RecordIncident appends an incident to the sink and returns any sink error.
func (r *IncidentRecorder) RecordIncident(ctx context.Context, incident risk.Incident) error {
	if err := r.sink.Append(ctx, incident); err != nil {
		return errors.Wrapf(err, "record incident %s", incident.ID)
	}
	return nil
}

// Enqueue schedules an incident write. It returns false if the write was dropped.
func (r *IncidentRecorder) Enqueue(incident risk.Incident) bool {
	return r.submit(recordTask{incident: &incident})
}

// EnqueueDetections schedules a detection log write. It returns false if the write was dropped.
func (r *IncidentRecorder) EnqueueDetections(records []risk.DetectionRecord) bool {
	if len(records) == 0 {
		return true
	}
	return r.submit(recordTask{detections: records})
}

// Dropped returns how many asynchronous writes were discarded.
func (r *IncidentRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *IncidentRecorder) submit(task recordTask) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(errors.New("recorder closed"))
		return false
	}

	select {
	case r.queue <- task:
		return true
	default:
		r.drop(errors.New("recorder queue full"))
		return false
	}
}

func (r *IncidentRecorder) drop(err error) {
	r.dropped.Add(1)
	r.logger.Warn().Err(err).Msg("dropping incident write")
	r.report(err)
}

func (r *IncidentRecorder) report(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

func (r *IncidentRecorder) worker() {
	defer r.wg.Done()

	ctx := context.Background()
	for task := range r.queue {
		if task.incident != nil {
			if err := r.RecordIncident(ctx, *task.incident); err != nil {
				r.logger.Error().Err(err).Str("session", task.incident.SessionID).Msg("failed to store incident")
				r.report(err)
			}
		}
		if len(task.detections) > 0 {
			if err := r.sink.AppendDetections(ctx, task.detections); err != nil {
				err = errors.Wrapf(err, "record %d detections", len(task.detections))
				r.logger.Error().Err(err).Msg("failed to store detections")
				r.report(err)
			}
		}
	}
}

// Close stops accepting writes, flushes the queue and waits for the worker to exit.
// It is safe to call more than once.
func (r *IncidentRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}
