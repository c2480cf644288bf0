package dedupe

import (
	"log/slog"
	"os"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

type (
	// Result is the outcome of a duplicate check.
	Result struct {
		ContentHash      string
		IsExactDuplicate bool
		IsNearDuplicate  bool
		DuplicateOf      string // feed entry id of the original, empty when unique
		Similarity       float64
	}

	// Engine is a per-run, in-memory duplicate detector.
	//
	// Exact duplicates are caught by content hash; near duplicates by MinHash
	// LSH with exact Jaccard verification. State is local to one run and is
	// never shared between runs.
	Engine struct {
		threshold  float64
		hasher     *MinHasher
		lsh        *Index
		hashes     map[string]string    // content hash -> entry id
		signatures map[string]Signature // entry id -> signature
		logger     *slog.Logger
	}
)

// NewEngine creates a dedup engine with numPerm MinHash permutations and the
// given near-duplicate similarity threshold.
func NewEngine(numPerm int, threshold float64) *Engine {
	return &Engine{
		threshold:  threshold,
		hasher:     NewMinHasher(numPerm),
		lsh:        NewIndex(threshold, numPerm),
		hashes:     make(map[string]string),
		signatures: make(map[string]Signature),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// CheckAndRegister checks whether text duplicates previously registered
// content and registers it for future checks.
//
// Registration rules:
//   - Exact duplicates never touch the LSH index or the hash map.
//   - Near duplicates register their content hash (so later exact copies of
//     the near-duplicate text are still caught) but stay out of the LSH
//     index, preventing transitive duplicate chains.
//   - Unique entries register in both structures.
func (e *Engine) CheckAndRegister(entryID, text string) Result {
	contentHash := ContentHash(text)

	if originalID, ok := e.hashes[contentHash]; ok {
		e.logger.Info("Exact duplicate found",
			slog.String("entry_id", entryID),
			slog.String("duplicate_of", originalID),
		)

		return Result{
			ContentHash:      contentHash,
			IsExactDuplicate: true,
			DuplicateOf:      originalID,
			Similarity:       1.0,
		}
	}

	sig := e.hasher.Sign(text)

	if best, bestSim := e.bestCandidate(sig); best != "" && bestSim >= e.threshold {
		e.logger.Info("Near duplicate found",
			slog.String("entry_id", entryID),
			slog.String("duplicate_of", best),
			slog.Float64("similarity", bestSim),
		)

		// Register the hash only: same story, different text.
		e.hashes[contentHash] = entryID

		return Result{
			ContentHash:     contentHash,
			IsNearDuplicate: true,
			DuplicateOf:     best,
			Similarity:      bestSim,
		}
	}

	e.hashes[contentHash] = entryID
	e.signatures[entryID] = sig

	if err := e.lsh.Insert(entryID, sig); err != nil {
		// Double insertion of the same entry id; harmless, keep going.
		e.logger.Warn("LSH insert skipped",
			slog.String("entry_id", entryID),
			slog.String("error", err.Error()),
		)
	}

	return Result{ContentHash: contentHash}
}

// bestCandidate returns the most similar LSH candidate and its Jaccard
// estimate. Candidates are visited in deterministic insertion order; ties
// keep the earliest candidate.
func (e *Engine) bestCandidate(sig Signature) (string, float64) {
	bestID := ""
	bestSim := 0.0

	for _, candidateID := range e.lsh.Query(sig) {
		candidate, ok := e.signatures[candidateID]
		if !ok {
			continue
		}

		sim, err := Jaccard(sig, candidate)
		if err != nil {
			continue
		}

		if sim > bestSim {
			bestSim = sim
			bestID = candidateID
		}
	}

	return bestID, bestSim
}

// Stats reports how much the engine has registered.
func (e *Engine) Stats() (registered, indexed int) {
	return len(e.hashes), len(e.signatures)
}
