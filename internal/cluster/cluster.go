// Package cluster groups embedded articles into event clusters.
//
// Clustering builds a k nearest neighbour graph over cosine similarity and
// merges connected components with a union-find structure. Components are
// ranked by size so cluster IDs become dense ranks starting at 1, and each
// member's similarity is measured against the re-normalized cluster
// centroid. Given the same entries in the same order the output is
// deterministic, apart from the freshly generated cluster UUIDs.
package cluster

import (
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"
)

var (
	// ErrLengthMismatch indicates the entry ID and embedding slices have
	// different lengths.
	ErrLengthMismatch = errors.New("entry id and embedding counts differ")

	// ErrDimensionMismatch indicates the embeddings do not all share the
	// same dimensionality.
	ErrDimensionMismatch = errors.New("embeddings have inconsistent dimensions")
)

// Assignment records which cluster a single entry landed in.
type Assignment struct {
	// EntryID is the feed entry the assignment belongs to.
	EntryID uuid.UUID

	// ClusterUUID is shared by every member of the same cluster and is
	// freshly generated on each clustering run.
	ClusterUUID uuid.UUID

	// ClusterID is the dense rank of the cluster, 1 for the largest.
	ClusterID int

	// Similarity is the cosine similarity between the entry's normalized
	// embedding and the cluster centroid.
	Similarity float64
}

// ClusterEntries groups entries whose embeddings are mutually similar.
//
// Each entry is connected to its k nearest neighbours by cosine similarity,
// edges below threshold are discarded, and connected components of the
// resulting graph become clusters. Components are ordered by size descending
// (ties keep first-appearance order) and assigned dense-rank cluster IDs
// starting at 1. Every member's similarity is the dot product of its
// normalized embedding with the re-normalized component centroid.
//
// Parameters:
//   - entryIDs: feed entry UUIDs, one per embedding, in a stable order
//   - embeddings: embedding vectors aligned with entryIDs
//   - k: neighbours considered per entry, clamped to len(entryIDs)-1
//   - threshold: minimum cosine similarity for an edge
//
// Returns one Assignment per entry, grouped by cluster rank. An empty input
// yields no assignments; a single entry forms a cluster of one with
// similarity 1.0.
func ClusterEntries(entryIDs []uuid.UUID, embeddings [][]float32, k int, threshold float64) ([]Assignment, error) {
	if len(entryIDs) != len(embeddings) {
		return nil, ErrLengthMismatch
	}

	n := len(entryIDs)
	if n == 0 {
		return nil, nil
	}

	if n == 1 {
		return []Assignment{{
			EntryID:     entryIDs[0],
			ClusterUUID: uuid.New(),
			ClusterID:   1,
			Similarity:  1.0,
		}}, nil
	}

	normalized, err := normalizeRows(embeddings)
	if err != nil {
		return nil, err
	}

	sims := similarityMatrix(normalized)

	uf := NewUnionFind(n)

	actualK := k
	if actualK > n-1 {
		actualK = n - 1
	}

	if actualK > 0 {
		for i := 0; i < n; i++ {
			for _, j := range nearestNeighbors(sims[i], i, actualK) {
				if sims[i][j] >= threshold {
					uf.Union(i, j)
				}
			}
		}
	}

	components := connectedComponents(uf, n)
	sort.SliceStable(components, func(a, b int) bool {
		return len(components[a]) > len(components[b])
	})

	assignments := make([]Assignment, 0, n)

	for rank, members := range components {
		clusterUUID := uuid.New()
		centroid := centroidOf(normalized, members)

		for _, idx := range members {
			assignments = append(assignments, Assignment{
				EntryID:     entryIDs[idx],
				ClusterUUID: clusterUUID,
				ClusterID:   rank + 1,
				Similarity:  dot(normalized[idx], centroid),
			})
		}
	}

	return assignments, nil
}

// normalizeRows converts embeddings to unit-length float64 rows. Zero
// vectors are left as-is rather than dividing by zero.
func normalizeRows(embeddings [][]float32) ([][]float64, error) {
	dim := len(embeddings[0])
	rows := make([][]float64, len(embeddings))

	for i := 0; i < len(embeddings); i++ {
		if len(embeddings[i]) != dim {
			return nil, ErrDimensionMismatch
		}

		row := make([]float64, dim)
		sumSquares := 0.0

		for j := 0; j < dim; j++ {
			v := float64(embeddings[i][j])
			row[j] = v
			sumSquares += v * v
		}

		norm := math.Sqrt(sumSquares)
		if norm == 0 {
			norm = 1
		}

		for j := 0; j < dim; j++ {
			row[j] /= norm
		}

		rows[i] = row
	}

	return rows, nil
}

// similarityMatrix computes the full pairwise cosine similarity matrix for
// unit-length rows. The matrix is symmetric.
func similarityMatrix(rows [][]float64) [][]float64 {
	n := len(rows)

	sims := make([][]float64, n)
	for i := 0; i < n; i++ {
		sims[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := dot(rows[i], rows[j])
			sims[i][j] = s
			sims[j][i] = s
		}
	}

	return sims
}

// nearestNeighbors returns the indices of the k most similar rows to self,
// ordered by similarity descending with index order breaking ties.
func nearestNeighbors(row []float64, self, k int) []int {
	candidates := make([]int, 0, len(row)-1)
	for j := 0; j < len(row); j++ {
		if j != self {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		if row[candidates[a]] != row[candidates[b]] {
			return row[candidates[a]] > row[candidates[b]]
		}
		return candidates[a] < candidates[b]
	})

	if k < len(candidates) {
		candidates = candidates[:k]
	}

	return candidates
}

// connectedComponents groups element indices by union-find root. Components
// appear in order of their first member, and members stay in ascending
// index order.
func connectedComponents(uf *UnionFind, n int) [][]int {
	byRoot := make(map[int][]int)
	order := make([]int, 0, n)

	for i := 0; i < n; i++ {
		root := uf.Find(i)
		if _, ok := byRoot[root]; !ok {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}

	components := make([][]int, 0, len(order))
	for _, root := range order {
		components = append(components, byRoot[root])
	}

	return components
}

// centroidOf averages the member rows and re-normalizes the result to unit
// length. A zero-length centroid is returned unnormalized.
func centroidOf(rows [][]float64, members []int) []float64 {
	dim := len(rows[0])
	centroid := make([]float64, dim)

	for _, idx := range members {
		for j := 0; j < dim; j++ {
			centroid[j] += rows[idx][j]
		}
	}

	for j := 0; j < dim; j++ {
		centroid[j] /= float64(len(members))
	}

	sumSquares := 0.0
	for j := 0; j < dim; j++ {
		sumSquares += centroid[j] * centroid[j]
	}

	norm := math.Sqrt(sumSquares)
	if norm > 0 {
		for j := 0; j < dim; j++ {
			centroid[j] /= norm
		}
	}

	return centroid
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
