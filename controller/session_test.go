package controller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

// incidentScript reproduces the moving-person scenario that records one incident on its fourth frame.
func incidentScript() [][]Detection {
	return [][]Detection{
		{person(5, 10)},
		{person(11, 10)},
		{person(8, 10)},
		{person(14, 10)},
	}
}

func TestSessionRecordsIncidentsAndDetections(t *testing.T) {
	sink := &MemorySink{}
	recorder := NewIncidentRecorder(sink, 10)
	source := NewMockSource(20, 20, 4)

	var seen []Stats
	session := NewSession(source, NewPipeline(&MockDetector{script: incidentScript()}, DefaultPipelineConfig()),
		DefaultSessionConfig(), WithRecorder(recorder), WithStatsHandler(func(s Stats) { seen = append(seen, s) }))

	session.Start(context.Background())
	waitDone(t, session)
	require.NoError(t, session.Err())
	require.NoError(t, session.Close())
	recorder.Close()

	assert.True(t, source.IsClosed())
	require.Len(t, seen, 4)
	assert.Equal(t, int64(4), seen[3].FramesProcessed)

	stats := session.Stats()
	assert.Equal(t, session.ID(), stats.SessionID)
	assert.Equal(t, 3, stats.FrameID)
	assert.Equal(t, int64(1), stats.Incidents)
	assert.Equal(t, risk.LevelHigh, stats.Assessment.Level)
	assert.Equal(t, AlertNormal, stats.Alert)

	incidents := sink.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, session.ID(), incidents[0].SessionID)
	assert.Equal(t, 1, incidents[0].PeopleCount)
	assert.Equal(t, time.Unix(3, 0).UTC(), incidents[0].Timestamp)
	assert.Greater(t, incidents[0].Score, 0.8)

	detections := sink.Detections()
	require.Len(t, detections, 4)
	assert.Equal(t, PersonLabel, detections[0].Label)
	assert.Equal(t, 0.9, detections[0].Confidence)
}

func TestSessionSkipsFailedFrames(t *testing.T) {
	source := NewMockSource(64, 48, 3)
	source.errs = map[int]bool{1: true}
	detector := &MockDetector{fail: map[int]bool{0: true}}

	session := NewSession(source, NewPipeline(detector, DefaultPipelineConfig()), DefaultSessionConfig())
	session.Start(context.Background())
	waitDone(t, session)
	defer session.Close()

	require.NoError(t, session.Err())
	stats := session.Stats()
	assert.Equal(t, int64(2), stats.FramesProcessed)
	assert.Equal(t, int64(2), stats.FramesSkipped)
}

func TestSessionGivesUpAfterConsecutiveReadFailures(t *testing.T) {
	source := NewMockSource(64, 48, 5)
	source.errs = map[int]bool{0: true, 1: true, 2: true}

	cfg := DefaultSessionConfig()
	cfg.MaxConsecutiveReadFailures = 3
	session := NewSession(source, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), cfg)
	session.Start(context.Background())
	waitDone(t, session)
	defer session.Close()

	assert.Error(t, session.Err())
	assert.Zero(t, session.Stats().FramesProcessed)
}

func TestSessionStopIsIdempotent(t *testing.T) {
	session := NewSession(BlockingSource{}, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	session.Start(context.Background())
	assert.True(t, session.Running())

	session.Stop()
	session.Stop()
	assert.False(t, session.Running())
	assert.NoError(t, session.Close())
	assert.NoError(t, session.Close())
}

func TestSessionStopBeforeStart(t *testing.T) {
	session := NewSession(BlockingSource{}, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	session.Stop()
	session.Start(context.Background())
	assert.False(t, session.Running())
	assert.NoError(t, session.Close())
}

func TestManagerSingleSessionGuard(t *testing.T) {
	newSession := func() *Session {
		return NewSession(BlockingSource{}, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	}

	m := NewManager()
	_, err := m.Stats()
	assert.True(t, errors.Is(err, ErrNoSession))
	assert.True(t, errors.Is(m.Stop(), ErrNoSession))

	first := newSession()
	require.NoError(t, m.Start(context.Background(), first))

	second := newSession()
	err = m.Start(context.Background(), second)
	assert.True(t, errors.Is(err, ErrSessionActive))
	assert.True(t, first.Running())
	second.Close()

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID(), active.ID())

	require.NoError(t, m.Reset())
	require.NoError(t, m.Stop())
	assert.False(t, first.Running())
	assert.True(t, errors.Is(m.Stop(), ErrNoSession))
}

func TestManagerReplace(t *testing.T) {
	m := NewManager(WithReplace(true))

	first := NewSession(BlockingSource{}, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	require.NoError(t, m.Start(context.Background(), first))

	second := NewSession(BlockingSource{}, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	require.NoError(t, m.Start(context.Background(), second))

	assert.False(t, first.Running())
	assert.True(t, second.Running())
	require.NoError(t, m.Stop())
}

func TestManagerStartAfterSessionFinished(t *testing.T) {
	m := NewManager()

	first := NewSession(NewMockSource(32, 32, 1), NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	require.NoError(t, m.Start(context.Background(), first))
	waitDone(t, first)

	second := NewSession(BlockingSource{}, NewPipeline(&MockDetector{}, DefaultPipelineConfig()), DefaultSessionConfig())
	require.NoError(t, m.Start(context.Background(), second))
	require.NoError(t, m.Stop())
}

func TestSessionCollectMetrics(t *testing.T) {
	recorder := NewIncidentRecorder(&MemorySink{}, 10)
	defer recorder.Close()
	session := NewSession(NewMockSource(20, 20, 4), NewPipeline(&MockDetector{script: incidentScript()}, DefaultPipelineConfig()),
		DefaultSessionConfig(), WithRecorder(recorder))

	session.Start(context.Background())
	waitDone(t, session)
	require.NoError(t, session.Close())

	metrics := session.CollectMetrics()
	assert.Equal(t, 4.0, metrics["frames_processed"])
	assert.Equal(t, 1.0, metrics["incidents"])
	assert.Equal(t, 1.0, metrics["people"])
	assert.Contains(t, metrics, "dropped_writes")
	assert.Greater(t, metrics["risk_score"], 0.8)
}

type countingTimer struct {
	started  atomic.Int32
	finished atomic.Int32
	names    []string
}

func (c *countingTimer) StartOperation(name string) func() {
	c.started.Add(1)
	c.names = append(c.names, name)
	return func() { c.finished.Add(1) }
}

func TestSessionTimesEveryProcessCall(t *testing.T) {
	timer := &countingTimer{}
	session := NewSession(NewMockSource(20, 20, 3), NewPipeline(&MockDetector{}, DefaultPipelineConfig()),
		DefaultSessionConfig(), WithOperationTimer(timer))

	session.Start(context.Background())
	waitDone(t, session)
	require.NoError(t, session.Close())

	assert.Equal(t, int32(3), timer.started.Load())
	assert.Equal(t, int32(3), timer.finished.Load())
	assert.Equal(t, []string{"process", "process", "process"}, timer.names)
}
