package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "crowd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func incidentAt(sec int64, score float64, count int) risk.Incident {
	return risk.NewIncident("session-1", risk.Assessment{
		Score: score,
		Level: risk.LevelHigh,
		Factors: risk.Factors{
			Density:      1,
			Velocity:     0.9,
			Direction:    0.5,
			Acceleration: 0.75,
		},
	}, count, time.Unix(sec, 0))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestStoreAppendAndReadAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	first := incidentAt(100, 0.85, 42)
	second := incidentAt(50, 0.95, 60)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	all, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0], "insertion order, not timestamp order")
	assert.Equal(t, second, all[1])

	recent, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)
}

func TestStoreReopenKeepsIncidents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crowd.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, incidentAt(1, 0.9, 35)))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreDetections(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendDetections(ctx, nil))
	require.NoError(t, s.AppendDetections(ctx, []risk.DetectionRecord{
		{Timestamp: time.Unix(1, 0).UTC(), Label: "person", Confidence: 0.91},
		{Timestamp: time.Unix(2, 0).UTC(), Label: "person", Confidence: 0.62},
	}))
	require.NoError(t, s.AppendDetections(ctx, []risk.DetectionRecord{
		{Timestamp: time.Unix(3, 0).UTC(), Label: "person", Confidence: 0.55},
	}))

	all, err := s.Detections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 0.91, all[0].Confidence)
	assert.Equal(t, time.Unix(1, 0).UTC(), all[0].Timestamp)

	recent, err := s.RecentDetections(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 0.55, recent[0].Confidence)
	assert.Equal(t, 0.62, recent[1].Confidence)
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Append(ctx, incidentAt(1, 0.9, 35)))
	require.NoError(t, s.AppendDetections(ctx, []risk.DetectionRecord{{Timestamp: time.Unix(1, 0), Label: "person", Confidence: 0.7}}))
	require.NoError(t, s.Clear(ctx))

	incidents, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, incidents)
	detections, err := s.Detections(ctx)
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestExportIncidentsCSV(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Append(ctx, incidentAt(0, 0.85, 42)))
	require.NoError(t, s.Append(ctx, incidentAt(60, 0.9, 50)))

	var buf bytes.Buffer
	require.NoError(t, s.ExportIncidentsCSV(ctx, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, IncidentsCSVHeader, records[0])
	assert.Equal(t, []string{
		"1970-01-01T00:00:00Z",
		"HIGH",
		"42",
		"0.85",
		`{"density":1,"velocity":0.9,"direction":0.5,"acceleration":0.75}`,
	}, records[1])
	assert.Equal(t, "1970-01-01T00:01:00Z", records[2][0])
}

func TestExportDetectionsCSV(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendDetections(ctx, []risk.DetectionRecord{{Timestamp: time.Unix(0, 0), Label: "person", Confidence: 0.5}}))

	var buf bytes.Buffer
	require.NoError(t, s.ExportDetectionsCSV(ctx, &buf))
	assert.Equal(t, "timestamp,object_label,confidence\n1970-01-01T00:00:00Z,person,0.5\n", buf.String())
}

func TestExportToFailingSink(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Append(ctx, incidentAt(0, 0.85, 42)))

	err := s.ExportIncidentsCSV(ctx, failingWriter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkWrite))
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, errors.Is(s.Append(ctx, incidentAt(0, 0.9, 31)), ErrStoreUnavailable))
	_, err := s.ReadAll(ctx)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(s.Clear(ctx), ErrStoreUnavailable))
	assert.True(t, errors.Is(s.ExportIncidentsCSV(ctx, &bytes.Buffer{}), ErrStoreUnavailable))
}
