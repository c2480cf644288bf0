package dedupe

import (
	"encoding/binary"
	"errors"
	"math"
)

// integrationStep is the step width for the band-parameter probability integrals.
const integrationStep = 0.001

// ErrAlreadyIndexed is returned when an entry id is inserted into the LSH index twice.
var ErrAlreadyIndexed = errors.New("entry already present in LSH index")

// Index is a banded LSH index over MinHash signatures.
//
// Signatures are split into b bands of r rows; a signature lands in one
// bucket per band, keyed by the band's row values. Two signatures are
// candidates when they share at least one bucket. Band and row counts are
// chosen to minimize the combined false positive/negative probability at the
// configured similarity threshold.
type Index struct {
	bands int
	rows  int
	// tables[band] maps a bucket key to entry ids in insertion order.
	tables  []map[string][]string
	indexed map[string]struct{}
}

// NewIndex creates an LSH index tuned for the given similarity threshold and
// signature length.
func NewIndex(threshold float64, numPerm int) *Index {
	bands, rows := optimalBands(threshold, numPerm)

	tables := make([]map[string][]string, bands)
	for i := range tables {
		tables[i] = make(map[string][]string)
	}

	return &Index{
		bands:   bands,
		rows:    rows,
		tables:  tables,
		indexed: make(map[string]struct{}),
	}
}

// Params returns the chosen band and row counts.
func (x *Index) Params() (bands, rows int) {
	return x.bands, x.rows
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	return len(x.indexed)
}

// Insert adds a signature to the index under the given entry id.
func (x *Index) Insert(entryID string, sig Signature) error {
	if _, ok := x.indexed[entryID]; ok {
		return ErrAlreadyIndexed
	}

	for band := 0; band < x.bands; band++ {
		key := x.bucketKey(band, sig)
		x.tables[band][key] = append(x.tables[band][key], entryID)
	}

	x.indexed[entryID] = struct{}{}

	return nil
}

// Query returns candidate entry ids sharing at least one bucket with the
// signature, deduplicated, in first-seen insertion order. Candidates are
// approximate; callers verify with an exact Jaccard estimate.
func (x *Index) Query(sig Signature) []string {
	var candidates []string

	seen := make(map[string]struct{})

	for band := 0; band < x.bands; band++ {
		for _, id := range x.tables[band][x.bucketKey(band, sig)] {
			if _, ok := seen[id]; ok {
				continue
			}

			seen[id] = struct{}{}

			candidates = append(candidates, id)
		}
	}

	return candidates
}

// bucketKey serializes one band of the signature into a map key.
func (x *Index) bucketKey(band int, sig Signature) string {
	start := band * x.rows

	end := start + x.rows
	if end > len(sig) {
		end = len(sig)
	}

	buf := make([]byte, 0, (end-start)*8)
	for _, v := range sig[start:end] {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}

	return string(buf)
}

// optimalBands picks (bands, rows) with bands*rows <= numPerm minimizing the
// equally weighted sum of false positive and false negative probabilities at
// the threshold. The candidate-pair probability for similarity s is
// 1 - (1 - s^rows)^bands.
func optimalBands(threshold float64, numPerm int) (int, int) {
	bestBands, bestRows := 1, numPerm
	bestErr := math.Inf(1)

	for bands := 1; bands <= numPerm; bands++ {
		maxRows := numPerm / bands
		for rows := 1; rows <= maxRows; rows++ {
			fp := integrate(func(s float64) float64 {
				return candidateProb(s, bands, rows)
			}, 0, threshold)
			fn := integrate(func(s float64) float64 {
				return 1 - candidateProb(s, bands, rows)
			}, threshold, 1)

			if err := fp + fn; err < bestErr {
				bestErr = err
				bestBands = bands
				bestRows = rows
			}
		}
	}

	return bestBands, bestRows
}

func candidateProb(s float64, bands, rows int) float64 {
	return 1 - math.Pow(1-math.Pow(s, float64(rows)), float64(bands))
}

func integrate(f func(float64) float64, a, b float64) float64 {
	area := 0.0
	for x := a + integrationStep/2; x < b; x += integrationStep {
		area += f(x) * integrationStep
	}

	return area
}
