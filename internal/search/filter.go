package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Filter is the strict pre-filter §4.7 requires to run inside both the
// FTS and vector subqueries, never as a post-filter. A zero-value Filter
// (every slice/pointer empty) matches every note.
type Filter struct {
	RequiredTags    []string
	AnyTags         []string
	ExcludedTags    []string
	RequiredSchemes []string
	ExcludedSchemes []string

	TemporalStartsAtGTE *time.Time
	TemporalStartsAtLT  *time.Time

	PositionLon      *float64
	PositionLat      *float64
	PositionRadiusM  *int
}

// clause builds the "AND ..." fragments referencing the notes table,
// starting numbered placeholders at startArg. It returns the fragment,
// the positional args in order, and the next free placeholder index —
// callers prepend their own query-specific args ($1, $2, ...) first.
func (f Filter) clause(startArg int) (string, []any, int) {
	var b strings.Builder
	var args []any
	n := startArg

	next := func() int {
		idx := n
		n++
		return idx
	}

	if len(f.RequiredTags) > 0 {
		fmt.Fprintf(&b, " AND notes.tags @> $%d", next())
		args = append(args, pq.Array(f.RequiredTags))
	}
	if len(f.AnyTags) > 0 {
		fmt.Fprintf(&b, " AND notes.tags && $%d", next())
		args = append(args, pq.Array(f.AnyTags))
	}
	if len(f.ExcludedTags) > 0 {
		fmt.Fprintf(&b, " AND NOT (notes.tags && $%d)", next())
		args = append(args, pq.Array(f.ExcludedTags))
	}
	if len(f.RequiredSchemes) > 0 {
		fmt.Fprintf(&b, ` AND EXISTS (
			SELECT 1 FROM note_concepts nc JOIN skos_concepts sc ON sc.id = nc.concept_id
			WHERE nc.note_id = notes.id AND sc.scheme = ANY($%d)
		)`, next())
		args = append(args, pq.Array(f.RequiredSchemes))
	}
	if len(f.ExcludedSchemes) > 0 {
		fmt.Fprintf(&b, ` AND NOT EXISTS (
			SELECT 1 FROM note_concepts nc JOIN skos_concepts sc ON sc.id = nc.concept_id
			WHERE nc.note_id = notes.id AND sc.scheme = ANY($%d)
		)`, next())
		args = append(args, pq.Array(f.ExcludedSchemes))
	}
	if f.TemporalStartsAtGTE != nil {
		fmt.Fprintf(&b, " AND (notes.metadata->>'starts_at')::timestamptz >= $%d", next())
		args = append(args, *f.TemporalStartsAtGTE)
	}
	if f.TemporalStartsAtLT != nil {
		fmt.Fprintf(&b, " AND (notes.metadata->>'starts_at')::timestamptz < $%d", next())
		args = append(args, *f.TemporalStartsAtLT)
	}
	if f.PositionLon != nil && f.PositionLat != nil && f.PositionRadiusM != nil {
		// A degree of latitude is ~111,320m; treat the radius as a
		// bounding box rather than pulling in a PostGIS dependency the
		// rest of the stack never otherwise needs.
		degrees := float64(*f.PositionRadiusM) / 111320.0
		lonIdx, latIdx, rIdx := next(), next(), next()
		fmt.Fprintf(&b, ` AND abs((notes.metadata->'position'->>'lon')::double precision - $%d) <= $%d
			AND abs((notes.metadata->'position'->>'lat')::double precision - $%d) <= $%d`, lonIdx, rIdx, latIdx, rIdx)
		args = append(args, *f.PositionLon, *f.PositionLat, degrees)
	}

	return b.String(), args, n
}

// IsEmpty reports whether the filter restricts anything at all —
// needed so an empty required/any/excluded set is treated as "no
// filter" per §8's boundary behavior, not as "match nothing."
func (f Filter) IsEmpty() bool {
	return len(f.RequiredTags) == 0 && len(f.AnyTags) == 0 && len(f.ExcludedTags) == 0 &&
		len(f.RequiredSchemes) == 0 && len(f.ExcludedSchemes) == 0 &&
		f.TemporalStartsAtGTE == nil && f.TemporalStartsAtLT == nil &&
		f.PositionLon == nil
}
