package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIncident(score float64) risk.Incident {
	return risk.NewIncident("session", risk.Assessment{Score: score, Level: risk.LevelHigh}, 40, time.Unix(100, 0))
}

func TestRecordIncidentPropagatesSinkError(t *testing.T) {
	sink := &MemorySink{err: errors.New("disk full")}
	recorder := NewIncidentRecorder(sink, 1)
	defer recorder.Close()

	err := recorder.RecordIncident(context.Background(), testIncident(0.9))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRecorderFlushesOnClose(t *testing.T) {
	sink := &MemorySink{}
	recorder := NewIncidentRecorder(sink, 10)

	for i := 0; i < 5; i++ {
		require.True(t, recorder.Enqueue(testIncident(0.81+float64(i)/100)))
	}
	require.True(t, recorder.EnqueueDetections([]risk.DetectionRecord{{Label: PersonLabel, Confidence: 0.8}}))
	recorder.Close()
	recorder.Close()

	incidents := sink.Incidents()
	require.Len(t, incidents, 5)
	assert.InDelta(t, 0.81, incidents[0].Score, 1e-9)
	assert.Len(t, sink.Detections(), 1)

	assert.False(t, recorder.Enqueue(testIncident(0.9)), "closed recorder drops writes")
	assert.Equal(t, int64(1), recorder.Dropped())
}

func TestRecorderReportsAsyncErrors(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []error
	)
	sink := &MemorySink{err: errors.New("locked")}
	recorder := NewIncidentRecorder(sink, 4, WithErrorHandler(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))

	recorder.Enqueue(testIncident(0.9))
	recorder.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "locked")
}
