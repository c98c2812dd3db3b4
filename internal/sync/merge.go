// Package sync provides the offline-first reconciliation engine.
package sync

import (
	"strings"

	"github.com/sementesanta/checkin/backend/internal/models"
)

// MergeVisitors merges the local and remote visitor sets keyed by id.
// Remote is authoritative on key collision, since the remote table
// aggregates writes from every device. Records failing sanitization are
// dropped. Pure function: no side effects, output order is first-seen and
// carries no contract (presentation sorts separately).
func MergeVisitors(local, remote []models.Visitor) []models.Visitor {
	merged := make(map[int64]models.Visitor, len(local)+len(remote))
	order := make([]int64, 0, len(local)+len(remote))

	add := func(v models.Visitor) {
		sv, ok := Sanitize(v)
		if !ok {
			return
		}
		if _, seen := merged[sv.ID]; !seen {
			order = append(order, sv.ID)
		}
		merged[sv.ID] = sv
	}

	for _, v := range local {
		add(v)
	}
	for _, v := range remote {
		add(v)
	}

	out := make([]models.Visitor, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out
}

// Sanitize normalizes a record and reports whether it is usable: strings
// trimmed, the date coerced to display format (defaulting to today when
// missing or unparsable), and records without a positive id rejected.
func Sanitize(v models.Visitor) (models.Visitor, bool) {
	if v.ID <= 0 {
		return models.Visitor{}, false
	}

	v.Name = strings.TrimSpace(v.Name)
	v.Phone = strings.TrimSpace(v.Phone)

	if date := models.NormalizeDate(v.Date); date != "" {
		v.Date = date
	} else {
		v.Date = models.Today()
	}

	return v, true
}
