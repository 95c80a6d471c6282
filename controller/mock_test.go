package controller

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/nvr-ai/go-crowdrisk/test"
	"github.com/pkg/errors"
)

// MockDetector returns scripted detections, one slice per call.
type MockDetector struct {
	mu     sync.Mutex
	script [][]Detection
	calls  int
	fail   map[int]bool
}

func (m *MockDetector) Detect(frame Frame) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++
	if m.fail[call] {
		return nil, errors.New("mock detection error")
	}
	if call >= len(m.script) {
		return nil, nil
	}
	return m.script[call], nil
}

func (m *MockDetector) Name() string {
	return "mock"
}

// person returns a person detection centred on (x, y).
func person(x, y int) Detection {
	return Detection{
		Label:      PersonLabel,
		Confidence: 0.9,
		BBox:       image.Rect(x-1, y-2, x+1, y+2),
	}
}

// MockSource replays generated frames and then reports end of stream.
type MockSource struct {
	mu       sync.Mutex
	gen      *test.MockFrameGenerator
	frames   int
	read     int
	produced int
	// errs holds read indices that fail with a transient error.
	errs   map[int]bool
	closed bool
}

func NewMockSource(width, height, frames int) *MockSource {
	return &MockSource{gen: test.NewMockFrameGenerator(width, height), frames: frames}
}

func (m *MockSource) Read(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.read
	m.read++
	if m.errs[i] {
		return Frame{}, errors.New("mock read error")
	}
	if m.produced >= m.frames {
		return Frame{}, ErrEndOfStream
	}
	id := m.produced
	m.produced++
	return Frame{ID: id, Image: m.gen.GenerateStaticFrame(), Timestamp: time.Unix(int64(id), 0)}, nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSource) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// BlockingSource never produces a frame; Read returns when ctx is cancelled.
type BlockingSource struct{}

func (BlockingSource) Read(ctx context.Context) (Frame, error) {
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func (BlockingSource) Close() error { return nil }

// MemorySink collects what the recorder writes.
type MemorySink struct {
	mu         sync.Mutex
	incidents  []risk.Incident
	detections []risk.DetectionRecord
	err        error
}

func (m *MemorySink) Append(_ context.Context, incident risk.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.incidents = append(m.incidents, incident)
	return nil
}

func (m *MemorySink) AppendDetections(_ context.Context, records []risk.DetectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.detections = append(m.detections, records...)
	return nil
}

func (m *MemorySink) Incidents() []risk.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]risk.Incident(nil), m.incidents...)
}

func (m *MemorySink) Detections() []risk.DetectionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]risk.DetectionRecord(nil), m.detections...)
}
