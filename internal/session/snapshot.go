package session

import (
	"time"

	"face-attendance-go/internal/camera"
)

// RecognizedFace is one face in the most recently processed frame.
type RecognizedFace struct {
	StudentKey  string  `json:"student_key"`
	DisplayName string  `json:"display_name,omitempty"`
	Score       float64 `json:"score"`
	// Marked is true when this observation created the day's attendance
	// record for the student.
	Marked bool `json:"marked"`
}

// Snapshot is the read-only view the controller publishes after every
// processed frame. Consumers poll it or subscribe via SSE; they never
// mutate session state through it.
type Snapshot struct {
	SessionID       string           `json:"session_id,omitempty"`
	State           State            `json:"state"`
	Dataset         string           `json:"dataset,omitempty"`
	Threshold       float64          `json:"threshold,omitempty"`
	StartedAt       time.Time        `json:"started_at,omitempty"`
	LastFrameAt     time.Time        `json:"last_frame_at,omitempty"`
	FramesProcessed uint64           `json:"frames_processed"`
	MarkedCount     int              `json:"marked_count"`
	Recognized      []RecognizedFace `json:"recognized"`
	Error           string           `json:"error,omitempty"`
}

// Snapshot returns a copy of the latest published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

func (c *Controller) publish(s Snapshot) {
	c.snapMu.Lock()
	c.snapshot = s
	c.snapMu.Unlock()

	if c.events != nil {
		c.events.BroadcastEvent("session_snapshot", s)
	}
}

// advanceSnapshot folds one processed frame into the published view.
func (c *Controller) advanceSnapshot(frame *camera.Frame, recognized []RecognizedFace, started time.Time) {
	c.snapMu.RLock()
	prev := c.snapshot
	c.snapMu.RUnlock()

	marked := prev.MarkedCount
	for _, f := range recognized {
		if f.Marked {
			marked++
		}
	}

	next := Snapshot{
		SessionID:       prev.SessionID,
		State:           StateRunning,
		Dataset:         prev.Dataset,
		Threshold:       prev.Threshold,
		StartedAt:       started,
		LastFrameAt:     frame.Timestamp,
		FramesProcessed: prev.FramesProcessed + 1,
		MarkedCount:     marked,
		Recognized:      recognized,
	}
	c.publish(next)
}
