// Package ledger maintains the durable, at-most-once-per-day attendance
// record set. It is the only mutable shared state in the recognition path.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrLedgerWrite wraps durable-storage errors on record creation. It is
// surfaced to the caller instead of being masked as a duplicate, so a lost
// attendance mark never looks like a successful one.
var ErrLedgerWrite = errors.New("ledger write failed")

var logFields = log.Fields{
	"component": "ledger",
}

// Outcome is the result of a RecordIfAbsent call.
type Outcome int

const (
	// Created means a new attendance record was durably written.
	Created Outcome = iota + 1
	// AlreadyPresent means the (student, day) pair was recorded earlier;
	// the call was a no-op.
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyPresent:
		return "already_present"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Ledger serializes attendance writes behind a single mutex so that
// check-then-insert is atomic with respect to interleaved calls for the
// same (student, day). The database's composite unique index backs the same
// guarantee across process restarts.
type Ledger struct {
	db      *gorm.DB
	dataset string

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a ledger and recovers its duplicate-check state from durable
// storage, so a crash-and-restart mid-session cannot re-mark an already
// present student.
func New(db *gorm.DB, dataset string) (*Ledger, error) {
	l := &Ledger{
		db:      db,
		dataset: dataset,
		seen:    make(map[string]struct{}),
	}

	var rows []models.AttendanceRecord
	if err := db.Select("student_key", "day").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to recover ledger state: %w", err)
	}
	for _, r := range rows {
		l.seen[dedupKey(r.StudentKey, r.Day)] = struct{}{}
	}

	log.WithFields(logFields).Infof("Ledger recovered %d attendance records", len(rows))
	return l, nil
}

func dedupKey(studentKey, day string) string {
	return studentKey + "|" + day
}

// RecordIfAbsent records attendance for (studentKey, day) unless a record
// already exists. Repeated calls for the same key - the same student seen
// across dozens of consecutive frames - yield exactly one Created followed
// by AlreadyPresent. The first-seen timestamp and score of the winning call
// are never overwritten.
func (l *Ledger) RecordIfAbsent(ctx context.Context, studentKey, day string, firstSeen time.Time, score float64) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := dedupKey(studentKey, day)
	if _, ok := l.seen[key]; ok {
		return AlreadyPresent, nil
	}

	record := models.AttendanceRecord{
		StudentKey: studentKey,
		Day:        day,
		FirstSeen:  firstSeen,
		Score:      score,
		Dataset:    l.dataset,
	}
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicate(err) {
			// Written by an earlier process run that the warmup missed.
			l.seen[key] = struct{}{}
			return AlreadyPresent, nil
		}
		return 0, fmt.Errorf("%w: %s on %s: %v", ErrLedgerWrite, studentKey, day, err)
	}

	l.seen[key] = struct{}{}
	log.WithFields(logFields).Infof("Marked %s present on %s (score %.2f)", studentKey, day, score)
	return Created, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// RecordsForDate returns the day's records ordered by first-seen time.
func (l *Ledger) RecordsForDate(ctx context.Context, day string) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	err := l.db.WithContext(ctx).
		Where("day = ?", day).
		Order("first_seen ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read records for %s: %w", day, err)
	}
	return records, nil
}

// RecordsForStudent returns one student's records ordered by day.
func (l *Ledger) RecordsForStudent(ctx context.Context, studentKey string) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	err := l.db.WithContext(ctx).
		Where("student_key = ?", studentKey).
		Order("day ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read records for %s: %w", studentKey, err)
	}
	return records, nil
}

// TrackedDays returns the distinct days for which any attendance exists.
func (l *Ledger) TrackedDays(ctx context.Context) ([]string, error) {
	var days []string
	err := l.db.WithContext(ctx).
		Model(&models.AttendanceRecord{}).
		Distinct("day").
		Order("day ASC").
		Pluck("day", &days).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read tracked days: %w", err)
	}
	return days, nil
}
