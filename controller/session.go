// Package controller - This file contains the session that drives a pipeline from a frame source.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-crowdrisk/motion"
	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultFPSInterval is how many frames are processed between FPS measurements.
const DefaultFPSInterval = 30

// FrameSource produces frames for a session.
//
// Read blocks until a frame is available. It returns ErrEndOfStream when the
// source is exhausted; any other error is treated as transient.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// OperationTimer times named operations. StartOperation returns the function
// that ends the measurement.
type OperationTimer interface {
	StartOperation(name string) func()
}

// SessionConfig contains the runtime parameters of a session.
type SessionConfig struct {
	// IncidentQueueSize bounds the pending asynchronous store writes.
	IncidentQueueSize int `yaml:"incident_queue_size"`
	// MaxConsecutiveReadFailures ends the session after this many transient
	// read failures in a row. Zero retries forever.
	MaxConsecutiveReadFailures int `yaml:"max_consecutive_read_failures"`
	// RecordDetections writes every accepted person detection to the detection log.
	RecordDetections bool `yaml:"record_detections"`
	// FPSInterval is the number of frames between FPS measurements.
	FPSInterval int `yaml:"fps_interval"`
}

// DefaultSessionConfig returns the default session configuration
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IncidentQueueSize:          DefaultRecorderQueueSize,
		MaxConsecutiveReadFailures: 0,
		RecordDetections:           true,
		FPSInterval:                DefaultFPSInterval,
	}
}

// Stats is the snapshot published after every completed frame.
type Stats struct {
	SessionID       string          `json:"session_id"`
	FrameID         int             `json:"frame_id"`
	Timestamp       time.Time       `json:"timestamp"`
	FramesProcessed int64           `json:"frames_processed"`
	FramesSkipped   int64           `json:"frames_skipped"`
	Incidents       int64           `json:"incidents"`
	PeopleCount     int             `json:"people_count"`
	Fallback        bool            `json:"fallback"`
	Assessment      risk.Assessment `json:"assessment"`
	Alert           AlertLevel      `json:"alert"`
	FPS             float64         `json:"fps"`
	Flow            *motion.Flow    `json:"flow,omitempty"`
	Density         DensityMetrics  `json:"density"`
}

// Session owns one pipeline and the worker goroutine that feeds it from a
// frame source. Readers get copies of the latest Stats and never block the
// worker.
type Session struct {
	id       string
	config   SessionConfig
	source   FrameSource
	pipeline *Pipeline
	recorder *IncidentRecorder
	logger   zerolog.Logger
	onStats  func(Stats)
	timer    OperationTimer
	now      func() time.Time

	// pipelineMu serialises Process and Reset.
	pipelineMu sync.Mutex
	stats      atomic.Pointer[Stats]
	processed  atomic.Int64
	skipped    atomic.Int64
	incidents  atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithRecorder sets where incidents and detections are written. Without a
// recorder nothing is persisted.
func WithRecorder(recorder *IncidentRecorder) SessionOption {
	return func(s *Session) { s.recorder = recorder }
}

// WithStatsHandler registers a callback invoked on the worker goroutine after
// every completed frame.
func WithStatsHandler(fn func(Stats)) SessionOption {
	return func(s *Session) { s.onStats = fn }
}

// WithOperationTimer times every Process call under the "process" operation.
func WithOperationTimer(timer OperationTimer) SessionOption {
	return func(s *Session) { s.timer = timer }
}

// WithClock replaces time.Now, used to stamp frames without a timestamp.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session. The session takes ownership of source and
// pipeline and releases both on Close.
//
// Arguments:
//   - source: Where frames come from.
//   - pipeline: The pipeline frames are run through.
//   - config: Session configuration.
//   - opts: Optional overrides.
//
// Returns:
//   - *Session: The session, not yet running.
//
// @example
// session := NewSession(source, NewPipeline(detector, DefaultPipelineConfig()), DefaultSessionConfig())
// session.Start(ctx)
// defer session.Close()
func NewSession(source FrameSource, pipeline *Pipeline, config SessionConfig, opts ...SessionOption) *Session {
	if config.FPSInterval < 1 {
		config.FPSInterval = DefaultFPSInterval
	}
	s := &Session{
		id:       uuid.NewString(),
		config:   config,
		source:   source,
		pipeline: pipeline,
		logger:   log.Logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("session", s.id).Logger()
	s.stats.Store(&Stats{SessionID: s.id, Assessment: risk.Assessment{Level: risk.LevelLow}, Alert: AlertNormal})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Start launches the worker goroutine. Later calls do nothing.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.logger.Info().Msg("session started")
		go s.run(ctx)
	})
}

// Stop asks the worker to stop and waits for it to exit. The frame in flight
// may finish; no further frame is processed. It is safe to call more than once
// and on a session that was never started.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.startOnce.Do(func() { close(s.done) })
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

// Close stops the session and releases the source and the pipeline.
func (s *Session) Close() error {
	s.Stop()

	var err error
	s.closeOnce.Do(func() {
		s.pipelineMu.Lock()
		s.pipeline.Close()
		s.pipelineMu.Unlock()
		if cerr := s.source.Close(); cerr != nil {
			err = errors.Wrap(cerr, "close source")
		}
		s.logger.Info().
			Int64("processed", s.processed.Load()).
			Int64("skipped", s.skipped.Load()).
			Msg("session closed")
	})
	return err
}

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the worker exited on its own, or nil. Only meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Running reports whether the worker is still processing frames.
func (s *Session) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Stats returns a copy of the latest published snapshot.
func (s *Session) Stats() Stats {
	return *s.stats.Load()
}

// CollectMetrics reports the latest frame's figures and the session counters
// for periodic profiling.
func (s *Session) CollectMetrics() map[string]float64 {
	stats := s.Stats()
	metrics := map[string]float64{
		"fps":              stats.FPS,
		"people":           float64(stats.PeopleCount),
		"risk_score":       stats.Assessment.Score,
		"frames_processed": float64(stats.FramesProcessed),
		"frames_skipped":   float64(s.skipped.Load()),
		"incidents":        float64(stats.Incidents),
	}
	if s.recorder != nil {
		metrics["dropped_writes"] = float64(s.recorder.Dropped())
	}
	return metrics
}

// Reset clears the pipeline's position history, motion windows and recent
// frames. Stored incidents are not touched.
func (s *Session) Reset() {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()
	s.pipeline.Reset()
	s.logger.Info().Msg("session state reset")
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	failures := 0
	fpsFrames := 0
	fpsStart := s.now()
	fps := 0.0

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := s.source.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				s.logger.Info().Msg("source exhausted")
				return
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			s.skipped.Add(1)
			s.logger.Warn().Err(err).Int("failures", failures).Msg("failed to read frame")
			if s.config.MaxConsecutiveReadFailures > 0 && failures >= s.config.MaxConsecutiveReadFailures {
				s.err = errors.Wrapf(err, "%d consecutive read failures", failures)
				s.logger.Error().Err(s.err).Msg("giving up on source")
				return
			}
			continue
		}
		failures = 0

		if ctx.Err() != nil {
			frame.Close()
			return
		}
		if frame.Timestamp.IsZero() {
			frame.Timestamp = s.now()
		}

		s.pipelineMu.Lock()
		done := s.startOperation("process")
		result, err := s.pipeline.Process(frame)
		done()
		s.pipelineMu.Unlock()
		frame.Close()

		if err != nil {
			s.skipped.Add(1)
			s.logger.Warn().Err(err).Int("frame", frame.ID).Msg("skipping frame")
			continue
		}
		s.processed.Add(1)

		fpsFrames++
		if fpsFrames >= s.config.FPSInterval {
			if elapsed := s.now().Sub(fpsStart).Seconds(); elapsed > 0 {
				fps = float64(fpsFrames) / elapsed
			}
			fpsFrames = 0
			fpsStart = s.now()
		}

		s.record(result)
		s.publish(result, fps)
	}
}

func (s *Session) startOperation(name string) func() {
	if s.timer == nil {
		return func() {}
	}
	return s.timer.StartOperation(name)
}

func (s *Session) record(result Result) {
	if result.Incident {
		s.incidents.Add(1)
		incident := risk.NewIncident(s.id, result.Assessment, result.PeopleCount, result.Timestamp)
		s.logger.Warn().
			Int("frame", result.FrameID).
			Int("people", result.PeopleCount).
			Float64("score", result.Assessment.Score).
			Str("level", string(result.Assessment.Level)).
			Msg("high risk incident")
		if s.recorder != nil {
			s.recorder.Enqueue(incident)
		}
	}

	if s.recorder == nil || !s.config.RecordDetections {
		return
	}
	records := make([]risk.DetectionRecord, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Synthetic {
			continue
		}
		records = append(records, risk.DetectionRecord{
			Timestamp:  result.Timestamp.UTC(),
			Label:      d.Label,
			Confidence: d.Confidence,
		})
	}
	s.recorder.EnqueueDetections(records)
}

func (s *Session) publish(result Result, fps float64) {
	stats := &Stats{
		SessionID:       s.id,
		FrameID:         result.FrameID,
		Timestamp:       result.Timestamp,
		FramesProcessed: s.processed.Load(),
		FramesSkipped:   s.skipped.Load(),
		Incidents:       s.incidents.Load(),
		PeopleCount:     result.PeopleCount,
		Fallback:        result.Fallback,
		Assessment:      result.Assessment,
		Alert:           result.Alert,
		FPS:             fps,
		Flow:            result.Flow,
		Density:         result.Density,
	}
	s.stats.Store(stats)

	s.logger.Debug().
		Int("frame", result.FrameID).
		Int("people", result.PeopleCount).
		Float64("score", result.Assessment.Score).
		Str("level", string(result.Assessment.Level)).
		Msg("frame processed")

	if s.onStats != nil {
		s.onStats(*stats)
	}
}
