// Package camera provides pull-based frame sources for recognition sessions.
// A source abstracts where frames come from - a live camera snapshot
// endpoint, a recorded directory, or synthetic test frames - so the matching
// core never touches capture details.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"face-attendance-go/config"

	log "github.com/sirupsen/logrus"
)

// ErrEndOfStream signals that a finite source has no more frames. A live
// camera never returns it.
var ErrEndOfStream = errors.New("end of stream")

// Frame is one captured camera frame, encoded as JPEG.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Sequence  uint64
}

// Source delivers frames one at a time. Next blocks until a frame is
// available, the source ends, or the context is cancelled. Because frames
// are pulled only when the previous one has been processed, a live source
// naturally drops frames instead of queueing them.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// SnapshotSource pulls the current frame from an HTTP camera snapshot
// endpoint at a fixed interval.
type SnapshotSource struct {
	url      string
	interval time.Duration
	client   *http.Client
	seq      uint64
	last     time.Time
}

// NewSnapshotSource creates a source for the configured snapshot URL.
func NewSnapshotSource(cfg config.CameraConfig) (*SnapshotSource, error) {
	if cfg.SnapshotURL == "" {
		return nil, errors.New("camera snapshot URL is not configured")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &SnapshotSource{
		url:      cfg.SnapshotURL,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Next fetches the current camera frame, pacing requests to the configured
// poll interval. A transport or non-200 response is a frame source failure
// and is returned to the caller.
func (s *SnapshotSource) Next(ctx context.Context) (*Frame, error) {
	if wait := s.interval - time.Since(s.last); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.last = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("camera snapshot was empty")
	}

	s.seq++
	return &Frame{
		Data:      data,
		Timestamp: time.Now(),
		Sequence:  s.seq,
	}, nil
}

// Close releases the source. Snapshot sources hold no persistent resources.
func (s *SnapshotSource) Close() error {
	log.WithField("component", "camera").Debug("Snapshot source closed")
	return nil
}
