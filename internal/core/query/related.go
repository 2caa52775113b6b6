package query

import (
	"github.com/fenv-org/mementor/internal/core/centroid"
	"github.com/fenv-org/mementor/internal/core/merr"
	"github.com/fenv-org/mementor/internal/core/runtime"
	"github.com/fenv-org/mementor/internal/core/vectorindex"
)

// RelatedSession is one session ranked by access-pattern similarity.
type RelatedSession struct {
	SessionID  string
	Similarity float64
}

// FindRelatedSessions ranks other sessions by cosine similarity of their
// resource-access centroid to sessionID's, going through the
// session_access_vectors k-NN index rather than reading every candidate
// centroid into memory. Returns an empty slice if sessionID has no recorded
// access pattern yet (nothing to compare against). offset/limit page the
// ranked result; total is the count of sessions with a recorded access
// pattern other than sessionID, independent of k.
func FindRelatedSessions(rt *runtime.Runtime, sessionID string, offset, limit, k int) ([]RelatedSession, int, error) {
	query, _, err := rt.Store.GetSessionAccessPattern(sessionID)
	if err != nil {
		return nil, 0, err
	}
	if query == nil {
		return nil, 0, nil
	}

	total, err := rt.Store.CountSessionAccessPatterns(sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	// +1 covers sessionID's own row, which the scan returns (distance ~0)
	// but is filtered back out below.
	kInternal := k
	if minScan := offset + limit + 1; kInternal < minScan {
		kInternal = minScan
	}
	matches, err := vectorindex.FullScan(rt.Store.DB(), vectorindex.SessionVectorsTable, query, kInternal)
	if err != nil {
		return nil, 0, err
	}

	out := make([]RelatedSession, 0, len(matches))
	for _, m := range matches {
		matchSessionID, err := rt.Store.SessionIDByRowID(m.RowID)
		if err != nil {
			return nil, 0, err
		}
		if matchSessionID == sessionID {
			continue
		}
		out = append(out, RelatedSession{
			SessionID:  matchSessionID,
			Similarity: centroid.SimilarityFromDistance(m.Distance),
		})
	}
	return page(out, offset, limit), total, nil
}

// RelatedTurn is one turn ranked by access-pattern similarity to a windowed
// anchor centroid.
type RelatedTurn struct {
	TurnID     int64
	StartLine  int
	Similarity float64
}

// FindRelatedTurns windows anchorStartLine's turn together with its
// windowSize neighbors on each side within the same session, averages their
// centroids into one query vector, and ranks every turn in every OTHER
// session against it. Turn access patterns are read in bulk and compared
// in memory — they're excluded from vector-index registration. offset/limit
// page the ranked result; total is the count of candidate turns across
// every other session, independent of k.
//
// Windowing exists because a single turn's resource set is often too sparse
// to center a useful comparison on its own; folding in the turns around it
// approximates "what this stretch of the conversation was about" the way a
// sliding-window topic model would.
func FindRelatedTurns(rt *runtime.Runtime, sessionID string, anchorStartLine, windowSize, offset, limit, k int) ([]RelatedTurn, int, error) {
	anchorSessionTurns, err := rt.Store.TurnAccessPatternsForSession(sessionID)
	if err != nil {
		return nil, 0, err
	}

	anchorIdx := -1
	for i, t := range anchorSessionTurns {
		if t.StartLine == anchorStartLine {
			anchorIdx = i
			break
		}
	}
	if anchorIdx < 0 {
		return nil, 0, nil
	}

	lo := anchorIdx - windowSize
	if lo < 0 {
		lo = 0
	}
	hi := anchorIdx + windowSize + 1
	if hi > len(anchorSessionTurns) {
		hi = len(anchorSessionTurns)
	}

	var window [][]float32
	for _, t := range anchorSessionTurns[lo:hi] {
		window = append(window, t.Centroid)
	}
	queryVec := centroid.Mean(window)
	if queryVec == nil {
		return nil, 0, nil
	}

	candidates := map[int64][]float32{}
	startLineByTurn := map[int64]int{}
	sessions, err := allSessionIDsExcept(rt, sessionID)
	if err != nil {
		return nil, 0, err
	}
	for _, sid := range sessions {
		turnPatterns, err := rt.Store.TurnAccessPatternsForSession(sid)
		if err != nil {
			return nil, 0, err
		}
		for _, t := range turnPatterns {
			candidates[t.TurnID] = t.Centroid
			startLineByTurn[t.TurnID] = t.StartLine
		}
	}

	total := len(candidates)
	if total == 0 {
		return nil, 0, nil
	}

	kInternal := k
	if minScan := offset + limit; kInternal < minScan {
		kInternal = minScan
	}
	matches := centroid.MostSimilar(queryVec, candidates, kInternal)
	ranked := make([]RelatedTurn, len(matches))
	for i, m := range matches {
		ranked[i] = RelatedTurn{TurnID: m.Key, StartLine: startLineByTurn[m.Key], Similarity: m.Similarity}
	}
	return page(ranked, offset, limit), total, nil
}

func allSessionIDsExcept(rt *runtime.Runtime, excludeSessionID string) ([]string, error) {
	rows, err := rt.Store.DB().Query(`SELECT session_id FROM sessions WHERE session_id != ?`, excludeSessionID)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "list sessions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan session id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
