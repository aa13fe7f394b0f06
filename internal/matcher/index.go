package matcher

import (
	"face-attendance-go/internal/gallery"

	"github.com/coder/hnsw"
	"gonum.org/v1/gonum/floats"
)

// maxNeighbors (M) is the maximum number of neighbors per HNSW node.
const maxNeighbors = 16

// annIndex is an approximate nearest neighbor index over all gallery
// embeddings. Node keys are positions into the flattened embedding list.
type annIndex struct {
	graph   *hnsw.Graph[int]
	entries []gallery.LabeledEmbedding
}

func buildIndex(g *gallery.Gallery) *annIndex {
	entries := g.AllEmbeddings()

	graph := hnsw.NewGraph[int]()
	graph.M = maxNeighbors
	graph.Ml = 1.0 / float64(maxNeighbors)
	graph.Distance = hnsw.EuclideanDistance

	for i, le := range entries {
		graph.Add(hnsw.MakeNode(i, toFloat32(le.Vector)))
	}

	return &annIndex{graph: graph, entries: entries}
}

// search retrieves the k approximately nearest embeddings and recomputes
// their distances exactly in float64, so the decision rule downstream sees
// the same numbers the linear scan would produce.
func (ix *annIndex) search(observed []float64, k int) []candidate {
	neighbors := ix.graph.Search(toFloat32(observed), k)

	out := make([]candidate, 0, len(neighbors))
	for _, n := range neighbors {
		le := ix.entries[n.Key]
		out = append(out, candidate{
			key:  le.StudentKey,
			dist: floats.Distance(observed, le.Vector, 2),
		})
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
