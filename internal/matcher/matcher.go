// Package matcher decides the identity behind an observed face embedding by
// comparing it against the active gallery.
package matcher

import (
	"time"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/gallery"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// annCutoff is the gallery embedding count above which the HNSW index is
// used to prefilter candidates instead of scanning every embedding.
const annCutoff = 512

// annCandidates is how many nearest embeddings the index retrieves; the
// exact decision rule then runs over the students owning them.
const annCandidates = 32

// Matcher matches observed embeddings against one immutable gallery. It has
// no side effects; every call is a pure function of the observation, the
// gallery it was built from, and the threshold.
type Matcher struct {
	gallery *gallery.Gallery
	epsilon float64
	index   *annIndex
}

// New builds a matcher for the given gallery. epsilon is the floating-point
// tolerance within which two students' distances count as a tie.
func New(g *gallery.Gallery, epsilon float64) *Matcher {
	m := &Matcher{gallery: g, epsilon: epsilon}
	if g.EmbeddingCount() > annCutoff {
		m.index = buildIndex(g)
	}
	return m
}

// Match compares the observed embedding against every stored embedding, takes
// the per-student minimum (any one good enrollment photo suffices), and
// accepts the globally closest student when its distance is strictly below
// threshold. Two students equidistant within epsilon yield Unknown: ambiguity
// must never turn into a false attendance mark.
func (m *Matcher) Match(observed []float64, threshold float64) models.MatchResult {
	result := models.MatchResult{
		ObservationID: uuid.NewString(),
		StudentKey:    models.UnknownStudent,
		Distance:      -1,
		Timestamp:     time.Now(),
	}

	if len(observed) != m.gallery.Dim {
		return result
	}

	best, second := m.nearest(observed)
	if best.key == "" {
		return result
	}

	result.Distance = best.dist
	if best.dist >= threshold {
		return result
	}
	if second.key != "" && second.dist-best.dist <= m.epsilon {
		// Genuinely ambiguous between two students.
		return result
	}

	result.StudentKey = best.key
	result.Score = score(best.dist)
	return result
}

type candidate struct {
	key  string
	dist float64
}

// nearest returns the closest and second-closest students by per-student
// minimum distance. Either may be empty when the gallery has fewer students.
func (m *Matcher) nearest(observed []float64) (best, second candidate) {
	perStudent := make(map[string]float64)

	if m.index != nil {
		for _, c := range m.index.search(observed, annCandidates) {
			if d, ok := perStudent[c.key]; !ok || c.dist < d {
				perStudent[c.key] = c.dist
			}
		}
	} else {
		for _, le := range m.gallery.AllEmbeddings() {
			d := floats.Distance(observed, le.Vector, 2)
			if prev, ok := perStudent[le.StudentKey]; !ok || d < prev {
				perStudent[le.StudentKey] = d
			}
		}
	}

	for key, d := range perStudent {
		switch {
		case best.key == "" || d < best.dist:
			second = best
			best = candidate{key: key, dist: d}
		case second.key == "" || d < second.dist:
			second = candidate{key: key, dist: d}
		}
	}
	return best, second
}

// score converts a distance into a confidence in [0, 1].
func score(dist float64) float64 {
	if dist < 0 {
		return 0
	}
	if dist > 1 {
		return 0
	}
	return 1 - dist
}
