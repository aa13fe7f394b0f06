package recognizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/embed"
	"face-attendance-go/internal/gallery"
	"face-attendance-go/internal/matcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns canned detections keyed by the frame payload.
type fakeEmbedder struct {
	detections map[string][]embed.Detection
	err        error
}

func (f *fakeEmbedder) DetectAndEmbed(_ context.Context, frame []byte) ([]embed.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.detections[string(frame)], nil
}

func testMatcher(t *testing.T) *matcher.Matcher {
	t.Helper()
	g, err := gallery.New("test", 4, []gallery.StudentEntry{
		{Key: "amit_kumar_1", DisplayName: "Amit Kumar", Embeddings: [][]float64{{0, 0, 0, 0}}},
		{Key: "priya_singh_2", DisplayName: "Priya Singh", Embeddings: [][]float64{{5, 0, 0, 0}}},
	})
	require.NoError(t, err)
	return matcher.New(g, 1e-6)
}

func frame(payload string) *camera.Frame {
	return &camera.Frame{Data: []byte(payload), Timestamp: time.Now(), Sequence: 1}
}

func TestRecognize_ZeroFaces(t *testing.T) {
	r := New(&fakeEmbedder{}, testMatcher(t), 0.45)

	results, err := r.Recognize(context.Background(), frame("empty"))
	require.NoError(t, err, "a frame without faces is not an error")
	assert.Empty(t, results)
}

func TestRecognize_MultipleFaces(t *testing.T) {
	embedder := &fakeEmbedder{detections: map[string][]embed.Detection{
		"two": {
			{Embedding: []float64{0.1, 0, 0, 0}, Confidence: 0.99},
			{Embedding: []float64{5.1, 0, 0, 0}, Confidence: 0.97},
		},
	}}
	r := New(embedder, testMatcher(t), 0.45)

	results, err := r.Recognize(context.Background(), frame("two"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "amit_kumar_1", results[0].StudentKey)
	assert.Equal(t, "priya_singh_2", results[1].StudentKey)
}

func TestRecognize_RegionFailureIsIsolated(t *testing.T) {
	embedder := &fakeEmbedder{detections: map[string][]embed.Detection{
		"mixed": {
			{Err: embed.ErrDetectionFailed},
			{Embedding: []float64{0.1, 0, 0, 0}, Confidence: 0.99},
		},
	}}
	r := New(embedder, testMatcher(t), 0.45)

	results, err := r.Recognize(context.Background(), frame("mixed"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.UnknownStudent, results[0].StudentKey)
	assert.Zero(t, results[0].Score)
	assert.Equal(t, "amit_kumar_1", results[1].StudentKey, "the healthy region still matches")
}

func TestRecognize_FrameLevelFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("service unavailable")}
	r := New(embedder, testMatcher(t), 0.45)

	_, err := r.Recognize(context.Background(), frame("any"))
	assert.Error(t, err)
}
