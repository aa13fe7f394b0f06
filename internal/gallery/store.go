package gallery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrDatasetNotFound is returned when no dataset with the requested
	// name exists.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrDatasetCorrupt is returned when the persisted embeddings are
	// malformed (wrong dimensionality, non-numeric, or a student without
	// any embedding).
	ErrDatasetCorrupt = errors.New("dataset corrupt")
)

var logFields = log.Fields{
	"component": "gallery",
}

// LabeledEmbedding pairs a stored reference embedding with its student key.
type LabeledEmbedding struct {
	StudentKey string
	Vector     []float64
}

// StudentEntry is one student's in-memory enrollment data.
type StudentEntry struct {
	Key         string
	DisplayName string
	RollNumber  int
	Embeddings  [][]float64
}

// Gallery is the immutable in-memory reference set for one recognition
// session: all students of one dataset with their embeddings.
type Gallery struct {
	Dataset  string
	Dim      int
	students []StudentEntry
	byKey    map[string]int
}

// New builds an in-memory gallery directly from entries, enforcing the same
// invariants Load checks: unique keys, at least one embedding per student,
// and consistent dimensionality.
func New(dataset string, dim int, students []StudentEntry) (*Gallery, error) {
	g := &Gallery{
		Dataset:  dataset,
		Dim:      dim,
		students: make([]StudentEntry, 0, len(students)),
		byKey:    make(map[string]int, len(students)),
	}
	for _, s := range students {
		if len(s.Embeddings) == 0 {
			return nil, fmt.Errorf("%w: student %q has no embeddings", ErrDatasetCorrupt, s.Key)
		}
		if _, dup := g.byKey[s.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate student key %q", ErrDatasetCorrupt, s.Key)
		}
		for _, v := range s.Embeddings {
			if len(v) != dim {
				return nil, fmt.Errorf("%w: student %q embedding has dimension %d, want %d",
					ErrDatasetCorrupt, s.Key, len(v), dim)
			}
		}
		g.byKey[s.Key] = len(g.students)
		g.students = append(g.students, s)
	}
	return g, nil
}

// Students returns the entries in enrollment order.
func (g *Gallery) Students() []StudentEntry {
	return g.students
}

// Student looks up one entry by key.
func (g *Gallery) Student(key string) (StudentEntry, bool) {
	i, ok := g.byKey[key]
	if !ok {
		return StudentEntry{}, false
	}
	return g.students[i], true
}

// Roster returns all student keys, in enrollment order.
func (g *Gallery) Roster() []string {
	keys := make([]string, len(g.students))
	for i, s := range g.students {
		keys[i] = s.Key
	}
	return keys
}

// AllEmbeddings flattens every student's embeddings for bulk comparison.
func (g *Gallery) AllEmbeddings() []LabeledEmbedding {
	var out []LabeledEmbedding
	for _, s := range g.students {
		for _, v := range s.Embeddings {
			out = append(out, LabeledEmbedding{StudentKey: s.Key, Vector: v})
		}
	}
	return out
}

// EmbeddingCount returns the total number of reference embeddings.
func (g *Gallery) EmbeddingCount() int {
	n := 0
	for _, s := range g.students {
		n += len(s.Embeddings)
	}
	return n
}

// DatasetInfo describes one persisted dataset for listings.
type DatasetInfo struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	StudentCount int       `json:"student_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store reads persisted datasets into immutable galleries. It never mutates
// the underlying data; dataset ingestion happens out of process.
type Store struct {
	db  *gorm.DB
	dim int
}

// NewStore creates a gallery store expecting embeddings of the given
// dimensionality.
func NewStore(db *gorm.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

// Load reads the named dataset and builds the session gallery. A dataset
// with malformed embeddings or a student without any embedding is reported
// as corrupt; recognition must not start against partial reference data.
func (s *Store) Load(ctx context.Context, datasetName string) (*Gallery, error) {
	var ds models.Dataset
	err := s.db.WithContext(ctx).
		Preload("Students", func(db *gorm.DB) *gorm.DB { return db.Order("students.id ASC") }).
		Preload("Students.Embeddings", func(db *gorm.DB) *gorm.DB { return db.Order("face_embeddings.id ASC") }).
		Where("name = ?", datasetName).
		First(&ds).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrDatasetNotFound, datasetName)
		}
		return nil, fmt.Errorf("failed to load dataset %q: %w", datasetName, err)
	}

	g := &Gallery{
		Dataset:  ds.Name,
		Dim:      s.dim,
		students: make([]StudentEntry, 0, len(ds.Students)),
		byKey:    make(map[string]int, len(ds.Students)),
	}

	for _, st := range ds.Students {
		if len(st.Embeddings) == 0 {
			return nil, fmt.Errorf("%w: student %q has no embeddings", ErrDatasetCorrupt, st.Key)
		}
		if _, dup := g.byKey[st.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate student key %q", ErrDatasetCorrupt, st.Key)
		}

		entry := StudentEntry{
			Key:         st.Key,
			DisplayName: st.DisplayName,
			RollNumber:  st.RollNumber,
			Embeddings:  make([][]float64, 0, len(st.Embeddings)),
		}
		for i := range st.Embeddings {
			v, err := st.Embeddings[i].DecodeVector(s.dim)
			if err != nil {
				return nil, fmt.Errorf("%w: student %q: %v", ErrDatasetCorrupt, st.Key, err)
			}
			entry.Embeddings = append(entry.Embeddings, v)
		}

		g.byKey[entry.Key] = len(g.students)
		g.students = append(g.students, entry)
	}

	log.WithFields(logFields).Infof("Loaded dataset %q: %d students, %d embeddings",
		g.Dataset, len(g.students), g.EmbeddingCount())
	return g, nil
}

// ListDatasets returns all persisted datasets with their student counts.
func (s *Store) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	var datasets []models.Dataset
	if err := s.db.WithContext(ctx).Preload("Students").Order("name ASC").Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	infos := make([]DatasetInfo, 0, len(datasets))
	for _, ds := range datasets {
		infos = append(infos, DatasetInfo{
			Name:         ds.Name,
			Description:  ds.Description,
			StudentCount: len(ds.Students),
			CreatedAt:    ds.CreatedAt,
		})
	}
	return infos, nil
}
