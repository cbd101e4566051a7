package queue

import (
	"fmt"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// Size thresholds above which a manifest task is split into ordered slices.
// One agent invocation handles one slice; oversized tasks routinely blow the
// output-length limit and come back half finished.
const (
	maxFilesPerTask    = 6
	maxCriteriaPerTask = 8
	maxBodyBytes       = 6000

	decomposeChunkSize = 4
)

// NeedsDecomposition reports whether a task exceeds any size threshold
func NeedsDecomposition(t *domain.Task) bool {
	return len(t.Files) > maxFilesPerTask ||
		len(t.AcceptanceCriteria) > maxCriteriaPerTask ||
		len(t.Body) > maxBodyBytes
}

// Decompose splits an oversized task into ordered slices. Target files and
// acceptance criteria are partitioned into chunks of decomposeChunkSize;
// slice ids derive from the parent (id-S1, id-S2, ...) and the dependency
// chain is strictly sequential, with slice 1 inheriting the parent's
// original dependency. Always produces at least two slices.
func Decompose(parent *domain.Task) []*domain.Task {
	n := len(parent.Files)
	if c := len(parent.AcceptanceCriteria); c > n {
		n = c
	}
	count := (n + decomposeChunkSize - 1) / decomposeChunkSize
	if count < 2 {
		count = 2
	}

	slices := make([]*domain.Task, 0, count)
	for i := 0; i < count; i++ {
		s := parent.Clone()
		s.ID = fmt.Sprintf("%s-S%d", parent.ID, i+1)
		s.Title = fmt.Sprintf("%s (slice %d/%d)", parent.Title, i+1, count)
		s.Files = chunk(parent.Files, i)
		s.AcceptanceCriteria = chunk(parent.AcceptanceCriteria, i)
		s.Provenance = domain.ProvenanceDecomposed
		if i == 0 {
			s.DependsOn = parent.DependsOn
		} else {
			s.DependsOn = fmt.Sprintf("%s-S%d", parent.ID, i)
		}
		slices = append(slices, s)
	}
	return slices
}

// chunk returns the i-th fixed-size chunk of items, or nil past the end
func chunk(items []string, i int) []string {
	start := i * decomposeChunkSize
	if start >= len(items) {
		return nil
	}
	end := start + decomposeChunkSize
	if end > len(items) {
		end = len(items)
	}
	return append([]string(nil), items[start:end]...)
}
