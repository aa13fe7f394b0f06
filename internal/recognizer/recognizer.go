// Package recognizer fans a frame's detected face regions out to the
// matcher and collects one match result per region.
package recognizer

import (
	"context"
	"fmt"
	"time"

	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/embed"
	"face-attendance-go/internal/matcher"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "recognizer",
}

// Embedder detects face regions in a frame and extracts one embedding per
// region. Implemented by the embed HTTP client and by test fakes.
type Embedder interface {
	DetectAndEmbed(ctx context.Context, frame []byte) ([]embed.Detection, error)
}

// Recognizer runs detection and matching for whole frames.
type Recognizer struct {
	embedder  Embedder
	matcher   *matcher.Matcher
	threshold float64
}

// New creates a recognizer bound to one matcher and threshold for the
// duration of a session.
func New(embedder Embedder, m *matcher.Matcher, threshold float64) *Recognizer {
	return &Recognizer{embedder: embedder, matcher: m, threshold: threshold}
}

// Recognize returns one MatchResult per detected face region in the frame.
// Zero faces is a normal outcome, not an error. A region whose embedding
// extraction failed yields an Unknown result with score 0 while the other
// regions in the same frame are matched normally. Only a frame-level
// detection failure is returned as an error.
func (r *Recognizer) Recognize(ctx context.Context, frame *camera.Frame) ([]models.MatchResult, error) {
	detections, err := r.embedder.DetectAndEmbed(ctx, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", frame.Sequence, err)
	}

	results := make([]models.MatchResult, 0, len(detections))
	for _, d := range detections {
		if d.Err != nil {
			log.WithFields(logFields).WithError(d.Err).Debugf(
				"Region in frame %d yielded no embedding", frame.Sequence)
			results = append(results, models.MatchResult{
				ObservationID: uuid.NewString(),
				StudentKey:    models.UnknownStudent,
				Distance:      -1,
				Score:         0,
				Timestamp:     time.Now(),
			})
			continue
		}
		results = append(results, r.matcher.Match(d.Embedding, r.threshold))
	}

	return results, nil
}
