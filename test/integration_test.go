package test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-crowdrisk/capture"
	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/nvr-ai/go-crowdrisk/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// blobDetector reports every bright blob in the frame as a person.
type blobDetector struct{}

func (blobDetector) Name() string { return "blob" }

func (blobDetector) Detect(frame controller.Frame) ([]controller.Detection, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(frame.Image, &gray, gocv.ColorBGRToGray); err != nil {
		return nil, err
	}
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 200, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	detections := make([]controller.Detection, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		detections = append(detections, controller.Detection{
			Label:      controller.PersonLabel,
			Confidence: 0.9,
			BBox:       gocv.BoundingRect(contours.At(i)),
		})
	}
	return detections, nil
}

func writeFrames(t *testing.T, gen *MockFrameGenerator, centers ...image.Point) string {
	t.Helper()
	dir := t.TempDir()
	for i, c := range centers {
		frame := gen.GenerateMotionFrame(Boxes(2, 4, c)...)
		ok := gocv.IMWrite(filepath.Join(dir, fmt.Sprintf("frame-%d.png", i)), frame)
		frame.Close()
		require.True(t, ok)
	}
	return dir
}

func TestDirectoryToStoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	gen := NewMockFrameGenerator(20, 20)
	dir := writeFrames(t, gen, image.Pt(5, 10), image.Pt(11, 10), image.Pt(8, 10), image.Pt(14, 10))

	source, err := capture.OpenDirectory(dir, image.Point{})
	require.NoError(t, err)
	source.Interval = time.Second

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "crowd.db"))
	require.NoError(t, err)
	defer st.Close()

	recorder := controller.NewIncidentRecorder(st, 16)
	session := controller.NewSession(source,
		controller.NewPipeline(blobDetector{}, controller.DefaultPipelineConfig()),
		controller.DefaultSessionConfig(),
		controller.WithRecorder(recorder))

	manager := controller.NewManager()
	require.NoError(t, manager.Start(ctx, session))
	select {
	case <-session.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	require.NoError(t, session.Err())
	require.NoError(t, manager.Stop())
	recorder.Close()

	stats := session.Stats()
	assert.Equal(t, int64(4), stats.FramesProcessed)
	assert.Equal(t, int64(1), stats.Incidents)
	assert.Equal(t, 1, stats.PeopleCount)

	incidents, err := st.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, risk.LevelHigh, incidents[0].Level)
	assert.Equal(t, session.ID(), incidents[0].SessionID)
	assert.Equal(t, time.Unix(3, 0).UTC(), incidents[0].Timestamp)

	detections, err := st.Detections(ctx)
	require.NoError(t, err)
	assert.Len(t, detections, 4)

	var buf bytes.Buffer
	require.NoError(t, st.ExportIncidentsCSV(ctx, &buf))
	assert.Contains(t, buf.String(), "1970-01-01T00:00:03Z,HIGH,1,")
}

func TestBoxes(t *testing.T) {
	boxes := Boxes(2, 4, image.Pt(5, 10), image.Pt(0, 0))
	assert.Equal(t, image.Rect(4, 8, 6, 12), boxes[0])
	assert.Equal(t, image.Rect(-1, -2, 1, 2), boxes[1])
}
