// Package session orchestrates continuous recognition sessions: it pulls
// frames from a source, drives the recognizer, submits positive matches to
// the attendance ledger, and publishes a live snapshot after every frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/gallery"
	"face-attendance-go/internal/ledger"
	"face-attendance-go/internal/matcher"
	"face-attendance-go/internal/recognizer"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "session",
}

// ErrSessionRunning is returned by Start when a session is already active.
var ErrSessionRunning = errors.New("a session is already running")

// State is the controller's lifecycle state. A stopped session folds back
// to idle; sessions can be restarted.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// frameTimeout bounds the processing of a single frame so a hung embedding
// service cannot wedge the loop forever.
const frameTimeout = 30 * time.Second

// EventSink receives live session events (the SSE hub implements it).
type EventSink interface {
	BroadcastEvent(eventType string, data interface{})
}

// AttendanceNotifier is notified of newly created attendance records (the
// MQTT publisher implements it).
type AttendanceNotifier interface {
	PublishAttendance(record models.AttendanceRecord, displayName string)
}

// Controller runs at most one recognition session at a time.
type Controller struct {
	ledger   *ledger.Ledger
	embedder recognizer.Embedder
	events   EventSink
	notifier AttendanceNotifier
	epsilon  float64

	mu        sync.Mutex
	state     State
	sessionID string
	gallery   *gallery.Gallery
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error

	snapMu   sync.RWMutex
	snapshot Snapshot
}

// NewController wires a controller. notifier may be nil when MQTT is
// disabled; events may be nil in tests.
func NewController(led *ledger.Ledger, embedder recognizer.Embedder, events EventSink, notifier AttendanceNotifier, epsilon float64) *Controller {
	return &Controller{
		ledger:   led,
		embedder: embedder,
		events:   events,
		notifier: notifier,
		epsilon:  epsilon,
		state:    StateIdle,
		snapshot: Snapshot{State: StateIdle},
	}
}

// Start transitions Idle to Running and begins pulling frames from the
// source. It returns immediately; a later frame-source failure transitions
// the session back to Idle and is reported through Err and the snapshot.
func (c *Controller) Start(g *gallery.Gallery, threshold float64, source camera.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrSessionRunning
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	c.state = StateRunning
	c.sessionID = uuid.NewString()
	c.gallery = g
	c.cancel = cancel
	c.done = make(chan struct{})
	c.lastErr = nil

	m := matcher.New(g, c.epsilon)
	rec := recognizer.New(c.embedder, m, threshold)

	started := time.Now()
	c.publish(Snapshot{
		SessionID: c.sessionID,
		State:     StateRunning,
		Dataset:   g.Dataset,
		Threshold: threshold,
		StartedAt: started,
	})

	log.WithFields(logFields).Infof("Session %s started: dataset %q, threshold %.2f",
		c.sessionID, g.Dataset, threshold)

	go c.run(pullCtx, rec, source, started)
	return nil
}

// Stop transitions Running to Idle. It is safe to call at any time,
// including when idle. Frame pulling ceases, the in-flight frame's results
// are fully processed, and the ledger is left consistent before Stop
// returns.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the last session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// run is the single frame-processing path: frames are handled one at a
// time, in arrival order, and never queued. A pull-based live source serves
// its current frame on each call, so frames arriving while one is being
// processed are dropped rather than buffered.
func (c *Controller) run(pullCtx context.Context, rec *recognizer.Recognizer, source camera.Source, started time.Time) {
	var runErr error

	for {
		frame, err := source.Next(pullCtx)
		if err != nil {
			switch {
			case errors.Is(err, camera.ErrEndOfStream):
				log.WithFields(logFields).Infof("Session %s: frame source ended", c.sessionID)
			case errors.Is(err, context.Canceled):
				// Stop was requested.
			default:
				runErr = fmt.Errorf("frame source failure: %w", err)
				log.WithFields(logFields).WithError(err).Error("Frame source failed, stopping session")
			}
			break
		}

		// Processing deliberately outlives pullCtx: a frame already
		// pulled when Stop arrives is still fully processed.
		procCtx, procCancel := context.WithTimeout(context.Background(), frameTimeout)
		c.processFrame(procCtx, rec, frame, started)
		procCancel()
	}

	if err := source.Close(); err != nil {
		log.WithFields(logFields).WithError(err).Warn("Failed to close frame source")
	}

	c.mu.Lock()
	c.state = StateIdle
	c.cancel = nil
	c.lastErr = runErr
	done := c.done
	sessionID := c.sessionID
	c.mu.Unlock()

	final := c.Snapshot()
	final.State = StateIdle
	if runErr != nil {
		final.Error = runErr.Error()
	}
	c.publish(final)

	log.WithFields(logFields).Infof("Session %s stopped after %d frames", sessionID, final.FramesProcessed)
	close(done)
}

func (c *Controller) processFrame(ctx context.Context, rec *recognizer.Recognizer, frame *camera.Frame, started time.Time) {
	results, err := rec.Recognize(ctx, frame)
	if err != nil {
		// Frame-level detection failure: isolated to this frame, the
		// session keeps running.
		log.WithFields(logFields).WithError(err).Warn("Frame recognition failed")
		c.advanceSnapshot(frame, nil, started)
		return
	}

	day := frame.Timestamp.Format(models.DayFormat)
	var recognized []RecognizedFace

	for _, result := range results {
		face := RecognizedFace{
			StudentKey: result.StudentKey,
			Score:      result.Score,
		}
		if result.Known() {
			if entry, ok := c.gallery.Student(result.StudentKey); ok {
				face.DisplayName = entry.DisplayName
			}
			outcome, err := c.ledger.RecordIfAbsent(ctx, result.StudentKey, day, result.Timestamp, result.Score)
			if err != nil {
				log.WithFields(logFields).WithError(err).Errorf(
					"Failed to record attendance for %s", result.StudentKey)
			} else if outcome == ledger.Created {
				face.Marked = true
				c.announceAttendance(result, day, face.DisplayName)
			}
		}
		recognized = append(recognized, face)
	}

	c.advanceSnapshot(frame, recognized, started)
}

func (c *Controller) announceAttendance(result models.MatchResult, day, displayName string) {
	record := models.AttendanceRecord{
		StudentKey: result.StudentKey,
		Day:        day,
		FirstSeen:  result.Timestamp,
		Score:      result.Score,
		Dataset:    c.gallery.Dataset,
	}
	if c.events != nil {
		c.events.BroadcastEvent("attendance_created", record)
	}
	if c.notifier != nil {
		c.notifier.PublishAttendance(record, displayName)
	}
}
