// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStatsLog(t *testing.T) {
	stats := NewStats()
	stats.EntitiesRead.Add(3)
	stats.EntitiesStructural.Inc()
	stats.MapGrows.Inc()

	var buf bytes.Buffer
	stats.Log(log.New(&buf, "", 0))

	out := buf.String()
	for _, want := range []string{"read=3", "structural=1", "malformed=0", "map_grows=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Stats.Log output = %q, want it to contain %q", out, want)
		}
	}
}
