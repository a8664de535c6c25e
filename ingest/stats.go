// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"log"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats accumulates ingestion counters (spec.md §12 "get_db_size
// pattern"/progress logging). These counters are never served over
// HTTP; Log prints a snapshot through the build CLI's logger instead.
type Stats struct {
	EntitiesRead       prometheus.Counter
	EntitiesStructural prometheus.Counter
	EntitiesMalformed  prometheus.Counter
	MapGrows           prometheus.Counter
}

// NewStats constructs a fresh, unregistered counter set. Callers that
// want these visible to a process-wide prometheus.Registry can register
// them explicitly; wikidb-build does not, since it has no HTTP listener.
func NewStats() *Stats {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "wikidb", Subsystem: "ingest", Name: name, Help: help}
	}
	return &Stats{
		EntitiesRead:       prometheus.NewCounter(opts("entities_read_total", "Entities decoded from the JSON dump.")),
		EntitiesStructural: prometheus.NewCounter(opts("entities_structural_total", "Entities skipped without being emitted: structural (P31/P279 filter), of a type other than item/property, or absent from the dictionary.")),
		EntitiesMalformed:  prometheus.NewCounter(opts("entities_malformed_total", "Dump lines that failed to parse and were skipped.")),
		MapGrows:           prometheus.NewCounter(opts("kv_map_grows_total", "Times the KV map size was grown on MDBX_MAP_FULL.")),
	}
}

// Log prints a one-line snapshot of every counter through logger.
func (s *Stats) Log(logger *log.Logger) {
	logger.Printf(
		"ingest stats: read=%.0f structural=%.0f malformed=%.0f map_grows=%.0f",
		counterValue(s.EntitiesRead), counterValue(s.EntitiesStructural),
		counterValue(s.EntitiesMalformed), counterValue(s.MapGrows),
	)
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
