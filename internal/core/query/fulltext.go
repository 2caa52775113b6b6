package query

import (
	"database/sql"
	"sort"
	"strings"

	"github.com/fenv-org/mementor/internal/core/merr"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

// FullTextResult is one FTS5 match: the turn it came from and a snippet
// highlighting where the query terms landed.
type FullTextResult struct {
	SessionID string
	StartLine int
	Snippet   string
}

// SearchFullText runs an FTS5 match over turns_fts, ordered by relevance
// (FTS5's built-in bm25 rank). Used for literal/code lookups where semantic
// vector search would dilute an exact identifier match. offset/limit page
// the ranked matches; total is the count of matches before paging.
func SearchFullText(rt *runtime.Runtime, queryText string, offset, limit int) ([]FullTextResult, int, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, 0, merr.New(merr.KindInvariant, "full text search query cannot be empty")
	}

	var total int
	if err := rt.Store.DB().QueryRow(`
		SELECT count(*) FROM turns_fts WHERE turns_fts MATCH ?
	`, queryText).Scan(&total); err != nil {
		return nil, 0, merr.Wrap(merr.KindStorage, "count full text matches", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := rt.Store.DB().Query(`
		SELECT t.session_id, t.start_line, snippet(turns_fts, 0, '>>>', '<<<', '...', 32)
		FROM turns_fts
		JOIN turns t ON t.id = turns_fts.rowid
		WHERE turns_fts MATCH ?
		ORDER BY rank
		LIMIT ? OFFSET ?
	`, queryText, limit, offset)
	if err != nil {
		return nil, 0, merr.Wrap(merr.KindStorage, "full text search", err)
	}
	defer rows.Close()

	var out []FullTextResult
	for rows.Next() {
		var r FullTextResult
		if err := rows.Scan(&r.SessionID, &r.StartLine, &r.Snippet); err != nil {
			return nil, 0, merr.Wrap(merr.KindStorage, "scan full text result", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// FileTurn is one turn that mentioned a given file, commit, or PR.
type FileTurn struct {
	SessionID string
	StartLine int
	ToolName  string
}

// FindByFile returns every turn that mentioned filePath, most recent first.
// offset/limit page the matches; total is the count before paging.
func FindByFile(rt *runtime.Runtime, filePath string, offset, limit int) ([]FileTurn, int, error) {
	var total int
	if err := rt.Store.DB().QueryRow(`
		SELECT count(*) FROM file_mentions WHERE file_path = ?
	`, filePath).Scan(&total); err != nil {
		return nil, 0, merr.Wrap(merr.KindStorage, "count file mentions", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := rt.Store.DB().Query(`
		SELECT t.session_id, t.start_line, fm.tool_name
		FROM file_mentions fm JOIN turns t ON t.id = fm.turn_id
		WHERE fm.file_path = ?
		ORDER BY t.start_line DESC
		LIMIT ? OFFSET ?
	`, filePath, limit, offset)
	if err != nil {
		return nil, 0, merr.Wrap(merr.KindStorage, "find by file", err)
	}
	defer rows.Close()

	var out []FileTurn
	for rows.Next() {
		var r FileTurn
		if err := rows.Scan(&r.SessionID, &r.StartLine, &r.ToolName); err != nil {
			return nil, 0, merr.Wrap(merr.KindStorage, "scan file turn", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// FindByCommit unions FindByFile across every file a commit touched,
// deduplicating turns that mention more than one of those files.
// Resolving a commit hash into its changed-file list is an external
// concern (a git command or host API call), so the caller supplies that
// list directly rather than this function shelling out to resolve it.
// offset/limit page the unioned, deduplicated, most-recent-first result;
// total is the count before paging.
func FindByCommit(rt *runtime.Runtime, commitFiles []string, offset, limit int) ([]FileTurn, int, error) {
	seen := map[turnKey]bool{}
	var all []FileTurn
	for _, path := range commitFiles {
		matches, _, err := FindByFile(rt, path, 0, maxCommitFilePerFileScan)
		if err != nil {
			return nil, 0, err
		}
		for _, m := range matches {
			key := turnKey{sessionID: m.SessionID, startLine: m.StartLine}
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, m)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].StartLine > all[j].StartLine })
	total := len(all)
	if total == 0 {
		return nil, 0, nil
	}
	return page(all, offset, limit), total, nil
}

// maxCommitFilePerFileScan bounds how many turns FindByCommit reads per
// file before deduplicating and paging the union; a commit touching a
// hot file shouldn't force scanning its entire mention history.
const maxCommitFilePerFileScan = 500

// FindByPR returns the session that recorded a pr-link entry for prNumber,
// or nil, nil if no session has touched it.
func FindByPR(rt *runtime.Runtime, prNumber int) (*PRMatch, error) {
	var m PRMatch
	err := rt.Store.DB().QueryRow(`
		SELECT session_id, pr_url, pr_repository, timestamp FROM pr_links WHERE pr_number = ?
	`, prNumber).Scan(&m.SessionID, &m.PrURL, &m.PrRepository, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "find by pr", err)
	}
	return &m, nil
}

// PRMatch is the session a PR was linked from.
type PRMatch struct {
	SessionID    string
	PrURL        string
	PrRepository string
	Timestamp    string
}
