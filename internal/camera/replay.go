package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ReplaySource serves a fixed sequence of frames, then reports end of
// stream. It backs recorded-session playback and tests.
type ReplaySource struct {
	frames []*Frame
	pos    int
}

// NewReplaySource creates a source over pre-built frames.
func NewReplaySource(frames []*Frame) *ReplaySource {
	return &ReplaySource{frames: frames}
}

// NewReplaySourceFromDir loads every .jpg/.jpeg/.png file in dir, sorted by
// file name, as the frame sequence.
func NewReplaySourceFromDir(dir string) (*ReplaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]*Frame, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read replay frame %s: %w", name, err)
		}
		frames = append(frames, &Frame{
			Data:      data,
			Timestamp: time.Now(),
			Sequence:  uint64(i + 1),
		})
	}
	return NewReplaySource(frames), nil
}

// Next returns the next recorded frame, or ErrEndOfStream when exhausted.
func (r *ReplaySource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.pos >= len(r.frames) {
		return nil, ErrEndOfStream
	}
	f := r.frames[r.pos]
	r.pos++
	return f, nil
}

// Close releases the source.
func (r *ReplaySource) Close() error {
	return nil
}
