package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/evolution"
	"github.com/scrypster/memorycore/internal/pipeline"
	"github.com/scrypster/memorycore/internal/retriever"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
)

// OpenBackend opens the storage backend a DSN selects:
//
//   - "" or ":memory:" — an ephemeral in-process store
//   - "ro:<path>"      — local read-only, a sub-mode that never needs write
//     access to the auxiliary -wal/-shm index files
//   - "remote:<addr>"  — recognized but not served by this build
//   - anything else    — local read-write store at that path
//
// dim is the declared embedding dimension for the index; 0 leaves it unfixed
// until the first embedder is configured.
func OpenBackend(dsn string, dim int) (Backend, error) {
	switch {
	case dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:"):
		return sqlite.NewMemoryStore("file::memory:?cache=shared", dim)
	case strings.HasPrefix(dsn, "ro:"):
		return sqlite.ReadOnly(strings.TrimPrefix(dsn, "ro:"))
	case strings.HasPrefix(dsn, "remote:"):
		return nil, fmt.Errorf("%w: remote backend DSN %q is not served by this build", storage.ErrConfig, dsn)
	default:
		return sqlite.NewMemoryStore(dsn, dim)
	}
}

// ConfigFrom translates the env-driven configuration into the wired
// component configs: duration strings parsed, fusion weight tuples mapped
// onto the retriever's weight struct. Unparseable durations fall back to
// each component's own default rather than failing the whole load.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Pipeline: pipeline.Config{
			CandidateCap:      c.Retriever.CandidateCap,
			MinLinkStrength:   c.Retriever.MinLinkStrength,
			MaxLinksPerMemory: c.Retriever.MaxLinksPerMemory,
		},
		Retriever: retriever.Config{
			KeywordCandidates: c.Retriever.KeywordCandidates,
			VectorCandidates:  c.Retriever.VectorCandidates,
			GraphSeedTop:      c.Retriever.GraphSeedTop,
			GraphMaxHops:      c.Retriever.GraphMaxHops,
			NormalWeights:     weightsFrom(c.Fusion.Normal),
			DegradedWeights:   weightsFrom(c.Fusion.Degraded),
		},
		Evolution: evolution.Config{
			ConsolidationInterval:       parseDuration(c.Evolution.ConsolidationInterval),
			ConsolidationMinSimilarity:  c.Evolution.ConsolidationMinSimilarity,
			ConsolidationCooldownDays:   c.Evolution.ConsolidationCooldownDays,
			RecalibrationInterval:       parseDuration(c.Evolution.RecalibrationInterval),
			DecayInterval:               parseDuration(c.Evolution.DecayInterval),
			DecayThresholdDays:          c.Evolution.DecayThresholdDays,
			DecayFactor:                 c.Evolution.DecayFactor,
			DecayFloor:                  c.Evolution.DecayFloor,
			ArchivalInterval:            parseDuration(c.Archival.Interval),
			ArchivalImportanceThreshold: c.Archival.ImportanceThreshold,
			ArchivalInactivityDays:      c.Archival.InactivityDays,
		},
	}
}

func weightsFrom(w config.FusionWeights) retriever.Weights {
	return retriever.Weights{
		Keyword:    w.Keyword,
		Vector:     w.Vector,
		Graph:      w.Graph,
		Importance: w.Importance,
		Recency:    w.Recency,
	}
}

// parseDuration returns 0 for empty or malformed values, leaving the
// component's own default in force.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
