package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UnknownStudent is the identity reported when an observed face matches no
// enrolled student with sufficient confidence.
const UnknownStudent = "unknown"

// DayFormat is the canonical date key used by the attendance ledger.
const DayFormat = "2006-01-02"

// Dataset is a named collection of enrolled students. Exactly one dataset is
// active during a recognition session.
type Dataset struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	Students    []Student `gorm:"foreignKey:DatasetID;constraint:OnDelete:CASCADE;"`
}

// Student is one enrolled identity within a dataset. Key is derived from the
// enrollment photo file names (firstname_lastname) and is unique per dataset.
type Student struct {
	gorm.Model
	DatasetID   uint   `gorm:"index;not null;uniqueIndex:idx_dataset_student_key"`
	Key         string `gorm:"not null;uniqueIndex:idx_dataset_student_key"`
	DisplayName string
	RollNumber  int
	Embeddings  []FaceEmbedding `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE;"`
}

// FaceEmbedding is one reference embedding for a student, stored as a JSON
// array of floats. A student enrolled with several photos has several rows.
type FaceEmbedding struct {
	gorm.Model
	StudentID  uint           `gorm:"index;not null"`
	Vector     datatypes.JSON `gorm:"type:json;not null"`
	SourceFile string
}

// DecodeVector parses the stored JSON vector and validates its dimensionality.
func (e *FaceEmbedding) DecodeVector(wantDim int) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal(e.Vector, &v); err != nil {
		return nil, fmt.Errorf("embedding %d is not a numeric vector: %w", e.ID, err)
	}
	if wantDim > 0 && len(v) != wantDim {
		return nil, fmt.Errorf("embedding %d has dimension %d, want %d", e.ID, len(v), wantDim)
	}
	return v, nil
}

// EncodeVector serializes an embedding vector for storage.
func EncodeVector(v []float64) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}
	return datatypes.JSON(data), nil
}

// AttendanceRecord is the durable proof of presence for one student on one
// day. The composite unique index is the at-most-once-per-day guarantee,
// enforced by the database even if the in-memory dedup state is lost.
type AttendanceRecord struct {
	gorm.Model
	StudentKey string    `gorm:"not null;uniqueIndex:idx_student_day"`
	Day        string    `gorm:"not null;uniqueIndex:idx_student_day;index"`
	FirstSeen  time.Time `gorm:"not null"`
	Score      float64
	Dataset    string `gorm:"index"`
}

// MatchResult is the transient outcome of comparing one observed embedding
// against the gallery. It is produced per detected face region and never
// persisted.
type MatchResult struct {
	ObservationID string    `json:"observation_id"`
	StudentKey    string    `json:"student_key"`
	Distance      float64   `json:"distance"`
	Score         float64   `json:"score"`
	Timestamp     time.Time `json:"timestamp"`
}

// Known reports whether the result identifies an enrolled student.
func (m MatchResult) Known() bool {
	return m.StudentKey != "" && m.StudentKey != UnknownStudent
}

// DailySummary aggregates one day's ledger against the active roster.
type DailySummary struct {
	Day                  string   `json:"day"`
	PresentStudents      []string `json:"present_students"`
	AbsentStudents       []string `json:"absent_students"`
	TotalStudents        int      `json:"total_students"`
	PresentCount         int      `json:"present_count"`
	AttendancePercentage float64  `json:"attendance_percentage"`
}

// StudentStats aggregates one student's attendance history.
type StudentStats struct {
	StudentKey           string             `json:"student_key"`
	TotalDays            int                `json:"total_days"`
	DaysPresent          int                `json:"days_present"`
	DaysAbsent           int                `json:"days_absent"`
	AttendancePercentage float64            `json:"attendance_percentage"`
	History              []AttendanceRecord `json:"history"`
}
