package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/embed"
	"face-attendance-go/internal/gallery"
	"face-attendance-go/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// frameEmbedder maps frame payloads to canned detections.
type frameEmbedder struct {
	detections map[string][]embed.Detection
}

func (f *frameEmbedder) DetectAndEmbed(_ context.Context, frame []byte) ([]embed.Detection, error) {
	return f.detections[string(frame)], nil
}

// failingSource fails on the first pull, simulating a camera disconnect.
type failingSource struct{}

func (failingSource) Next(context.Context) (*camera.Frame, error) {
	return nil, errors.New("camera disconnected")
}

func (failingSource) Close() error { return nil }

// blockingSource blocks until the context is cancelled.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (*camera.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Close() error { return nil }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return gdb
}

func testGallery(t *testing.T) *gallery.Gallery {
	t.Helper()
	g, err := gallery.New("cs-2024", 4, []gallery.StudentEntry{
		{Key: "amit_kumar_1", DisplayName: "Amit Kumar", Embeddings: [][]float64{{0, 0, 0, 0}}},
		{Key: "priya_singh_2", DisplayName: "Priya Singh", Embeddings: [][]float64{{5, 0, 0, 0}}},
	})
	require.NoError(t, err)
	return g
}

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(openTestDB(t), "cs-2024")
	require.NoError(t, err)
	return l
}

func frames(payloads ...string) []*camera.Frame {
	out := make([]*camera.Frame, len(payloads))
	now := time.Now()
	for i, p := range payloads {
		out[i] = &camera.Frame{
			Data:      []byte(p),
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Sequence:  uint64(i + 1),
		}
	}
	return out
}

func waitForIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for c.State() != StateIdle {
		select {
		case <-deadline:
			t.Fatal("controller did not return to idle")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSession_RepeatedRecognitionMarksOnce(t *testing.T) {
	led := testLedger(t)
	embedder := &frameEmbedder{detections: map[string][]embed.Detection{
		"f1": {{Embedding: []float64{0.3, 0, 0, 0}}},
		"f2": {{Embedding: []float64{0.32, 0, 0, 0}}},
		"f3": {{Embedding: []float64{0.28, 0, 0, 0}}},
	}}
	c := NewController(led, embedder, nil, nil, 1e-6)

	source := camera.NewReplaySource(frames("f1", "f2", "f3"))
	require.NoError(t, c.Start(testGallery(t), 0.5, source))
	waitForIdle(t, c)

	require.NoError(t, c.Err())

	day := time.Now().Format("2006-01-02")
	records, err := led.RecordsForDate(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, records, 1, "the same student across many frames is marked once")
	assert.Equal(t, "amit_kumar_1", records[0].StudentKey)

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, uint64(3), snap.FramesProcessed)
	assert.Equal(t, 1, snap.MarkedCount)
}

func TestSession_UnknownFacesAreNotRecorded(t *testing.T) {
	led := testLedger(t)
	embedder := &frameEmbedder{detections: map[string][]embed.Detection{
		"far": {{Embedding: []float64{3, 0, 0, 0}}},
	}}
	c := NewController(led, embedder, nil, nil, 1e-6)

	require.NoError(t, c.Start(testGallery(t), 0.45, camera.NewReplaySource(frames("far"))))
	waitForIdle(t, c)

	day := time.Now().Format("2006-01-02")
	records, err := led.RecordsForDate(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSession_MultipleStudentsInOneFrame(t *testing.T) {
	led := testLedger(t)
	embedder := &frameEmbedder{detections: map[string][]embed.Detection{
		"both": {
			{Embedding: []float64{0.1, 0, 0, 0}},
			{Embedding: []float64{5.1, 0, 0, 0}},
		},
	}}
	c := NewController(led, embedder, nil, nil, 1e-6)

	require.NoError(t, c.Start(testGallery(t), 0.45, camera.NewReplaySource(frames("both"))))
	waitForIdle(t, c)

	day := time.Now().Format("2006-01-02")
	records, err := led.RecordsForDate(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, records, 2, "both students in one frame are recorded")
}

func TestSession_FrameSourceFailureStopsSession(t *testing.T) {
	c := NewController(testLedger(t), &frameEmbedder{}, nil, nil, 1e-6)

	require.NoError(t, c.Start(testGallery(t), 0.45, failingSource{}))
	waitForIdle(t, c)

	err := c.Err()
	require.Error(t, err, "the failure is reported, not swallowed")
	assert.Contains(t, err.Error(), "frame source failure")
	assert.Equal(t, StateIdle, c.State())
}

func TestSession_StopIsSafeAnytime(t *testing.T) {
	c := NewController(testLedger(t), &frameEmbedder{}, nil, nil, 1e-6)

	// Stopping an idle controller is a no-op.
	require.NoError(t, c.Stop())

	require.NoError(t, c.Start(testGallery(t), 0.45, blockingSource{}))
	require.Equal(t, StateRunning, c.State())

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.Err(), "a requested stop is not an error")

	// Stopping again is still a no-op.
	require.NoError(t, c.Stop())
}

func TestSession_CanRestartAfterStop(t *testing.T) {
	led := testLedger(t)
	embedder := &frameEmbedder{detections: map[string][]embed.Detection{
		"f1": {{Embedding: []float64{0.1, 0, 0, 0}}},
	}}
	c := NewController(led, embedder, nil, nil, 1e-6)
	g := testGallery(t)

	require.NoError(t, c.Start(g, 0.45, camera.NewReplaySource(frames("f1"))))
	waitForIdle(t, c)

	require.NoError(t, c.Start(g, 0.45, camera.NewReplaySource(frames("f1"))))
	waitForIdle(t, c)

	day := time.Now().Format("2006-01-02")
	records, err := led.RecordsForDate(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, records, 1, "dedup holds across restarted sessions")
}

func TestSession_StartWhileRunning(t *testing.T) {
	c := NewController(testLedger(t), &frameEmbedder{}, nil, nil, 1e-6)
	g := testGallery(t)

	require.NoError(t, c.Start(g, 0.45, blockingSource{}))
	defer func() { require.NoError(t, c.Stop()) }()

	err := c.Start(g, 0.45, blockingSource{})
	assert.ErrorIs(t, err, ErrSessionRunning)
}
