package query

import (
	"database/sql"

	"github.com/fenv-org/mementor/internal/core/merr"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

// SegmentTurn is one turn returned by a compaction-segment lookup.
type SegmentTurn struct {
	TurnID    int64
	StartLine int
	EndLine   int
}

// TurnsInSegment returns every turn in sessionID whose start_line falls in
// the half-open-below interval (boundary[segment-1], boundary[segment]],
// where boundary is the session's compact_boundary entries ordered by
// line_index ascending and segment is 1-based (segment 1 is everything up
// to the first compaction). A segment beyond the number of recorded
// boundaries returns no turns.
func TurnsInSegment(rt *runtime.Runtime, sessionID string, segment int) ([]SegmentTurn, error) {
	if segment < 1 {
		return nil, nil
	}
	boundaries, err := compactBoundaries(rt.Store.DB(), sessionID)
	if err != nil {
		return nil, err
	}
	if segment > len(boundaries) {
		return nil, nil
	}

	lo := -1
	if segment > 1 {
		lo = boundaries[segment-2]
	}
	hi := boundaries[segment-1]
	return turnsBetween(rt.Store.DB(), sessionID, lo, hi, true)
}

// TurnsInCurrentSegment returns every turn whose start_line comes after the
// last recorded compaction boundary — the live, uncompacted tail of the
// session. With no boundaries recorded, every turn in the session is
// "current".
func TurnsInCurrentSegment(rt *runtime.Runtime, sessionID string) ([]SegmentTurn, error) {
	boundaries, err := compactBoundaries(rt.Store.DB(), sessionID)
	if err != nil {
		return nil, err
	}
	lo := -1
	if len(boundaries) > 0 {
		lo = boundaries[len(boundaries)-1]
	}
	return turnsBetween(rt.Store.DB(), sessionID, lo, 0, false)
}

// compactBoundaries returns a session's compact_boundary entry line indices
// in ascending order. These are stored as ordinary rows in entries rather
// than a dedicated table — a session typically has very few of them, so a
// full scan per query is cheap.
func compactBoundaries(db *sql.DB, sessionID string) ([]int, error) {
	rows, err := db.Query(`
		SELECT line_index FROM entries
		WHERE session_id = ? AND entry_type = 'compact_boundary'
		ORDER BY line_index ASC
	`, sessionID)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "list compact boundaries", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var line int
		if err := rows.Scan(&line); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan compact boundary", err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// turnsBetween returns turns with lo < start_line <= hi (inclusiveUpper) or
// lo < start_line with no upper bound (!inclusiveUpper), ordered ascending.
func turnsBetween(db *sql.DB, sessionID string, lo, hi int, inclusiveUpper bool) ([]SegmentTurn, error) {
	query := `SELECT id, start_line, end_line FROM turns WHERE session_id = ? AND start_line > ?`
	args := []any{sessionID, lo}
	if inclusiveUpper {
		query += ` AND start_line <= ?`
		args = append(args, hi)
	}
	query += ` ORDER BY start_line ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "list turns in segment", err)
	}
	defer rows.Close()

	var out []SegmentTurn
	for rows.Next() {
		var t SegmentTurn
		if err := rows.Scan(&t.TurnID, &t.StartLine, &t.EndLine); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan segment turn", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
