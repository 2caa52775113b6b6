// Package metadata pulls FileMention and PrLink rows out of a turn's tool
// summaries and text.
//
// Rather than pattern-matching arbitrary prose, a file mention is derived
// from the structured tool summaries the transcript parser already
// produced (so it only ever names files a tool call actually touched),
// plus any @-mention a person typed directly into their prompt.
package metadata

import (
	"strings"
)

// fileExtensions is the heuristic set used only for loose tokens inside a
// Bash command line, where there's no structured "file_path" field to read.
var fileExtensions = []string{
	".rs", ".ts", ".tsx", ".js", ".jsx", ".py", ".go", ".java", ".c", ".cpp", ".h", ".hpp",
	".toml", ".yaml", ".yml", ".json", ".md", ".txt", ".sh", ".sql", ".html", ".css", ".lock",
	".xml", ".cfg", ".ini", ".env", ".rb", ".swift", ".kt", ".scala",
}

// FileMention is one (path, tool) pair found in a turn.
type FileMention struct {
	FilePath string
	ToolName string
}

// NormalizePath rewrites an absolute path to one relative to the project,
// trying the current worktree's directory first and the primary worktree
// root second, and returns false for an absolute path outside both (or equal
// to one of them). A relative path is returned unchanged with true.
func NormalizePath(path, projectDir, projectRoot string) (string, bool) {
	if !strings.HasPrefix(path, "/") {
		return path, true
	}

	for _, prefix := range []string{projectDir, projectRoot} {
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			continue
		}
		if rel, ok := strings.CutPrefix(path, prefix); ok {
			rel = strings.TrimPrefix(rel, "/")
			if rel == "" {
				return "", false
			}
			return rel, true
		}
	}
	return "", false
}

func looksLikePath(token string) bool {
	if token == "" {
		return false
	}
	if strings.Contains(token, "/") {
		return true
	}
	for _, ext := range fileExtensions {
		if strings.HasSuffix(token, ext) {
			return true
		}
	}
	return false
}

func extractPathLikeTokens(cmd string) []string {
	var out []string
	for _, tok := range strings.Fields(cmd) {
		tok = strings.Trim(tok, "'\"`")
		if looksLikePath(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// extractQuotedValue pulls the value of a key="value" pair out of a tool
// summary's argument string, matching how the transcript parser rendered it.
func extractQuotedValue(args, key string) (string, bool) {
	needle := key + "=\""
	start := strings.Index(args, needle)
	if start < 0 {
		return "", false
	}
	start += len(needle)
	remaining := args[start:]

	prevBackslash := false
	for i := 0; i < len(remaining); i++ {
		ch := remaining[i]
		if ch == '"' && !prevBackslash {
			return remaining[:i], true
		}
		prevBackslash = ch == '\\'
	}
	return "", false
}

// ExtractFileMentions parses the tool summaries a turn recorded (the
// transcript parser's rendering of Read/Edit/Write/NotebookEdit/Grep/Bash
// calls) and returns the normalized file paths they touched.
func ExtractFileMentions(toolSummaries []string, projectDir, projectRoot string) []FileMention {
	var out []FileMention

	for _, summary := range toolSummaries {
		paren := strings.Index(summary, "(")
		if paren < 0 {
			continue
		}
		toolName := summary[:paren]
		args := summary
		if len(summary) > 0 && summary[len(summary)-1] == ')' {
			args = summary[paren+1 : len(summary)-1]
		} else {
			args = summary[paren+1:]
		}

		switch toolName {
		case "Read", "Edit", "Write":
			if norm, ok := NormalizePath(args, projectDir, projectRoot); ok {
				out = append(out, FileMention{FilePath: norm, ToolName: toolName})
			}
		case "NotebookEdit":
			path := args
			if idx := strings.Index(args, ","); idx >= 0 {
				path = args[:idx]
			}
			path = strings.TrimSpace(path)
			if norm, ok := NormalizePath(path, projectDir, projectRoot); ok {
				out = append(out, FileMention{FilePath: norm, ToolName: toolName})
			}
		case "Grep":
			if path, ok := extractQuotedValue(args, "path"); ok {
				if norm, ok := NormalizePath(path, projectDir, projectRoot); ok {
					out = append(out, FileMention{FilePath: norm, ToolName: toolName})
				}
			}
		case "Bash":
			if cmd, ok := extractQuotedValue(args, "cmd"); ok {
				for _, tok := range extractPathLikeTokens(cmd) {
					if norm, ok := NormalizePath(tok, projectDir, projectRoot); ok {
						out = append(out, FileMention{FilePath: norm, ToolName: toolName})
					}
				}
			}
		}
	}

	return out
}

// ExtractAtMentions finds @/path/to/file references a person typed
// directly into their prompt, trimming trailing punctuation that tends to
// cling to a mention at the end of a sentence.
func ExtractAtMentions(turnText, projectDir, projectRoot string) []string {
	seen := map[string]bool{}
	var out []string

	for _, tok := range strings.Fields(turnText) {
		path, ok := strings.CutPrefix(tok, "@")
		if !ok {
			continue
		}
		path = strings.TrimRight(path, ",;:)?!.")
		if path == "" {
			continue
		}
		norm, ok := NormalizePath(path, projectDir, projectRoot)
		if !ok || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

// ExtractFileHistoryMentions normalizes the paths a file_history_snapshot
// entry backed up, producing the same FileMention shape a tool summary
// would. An empty backup set yields no mentions; the Entry itself is still
// stored, it just contributes nothing here.
func ExtractFileHistoryMentions(trackedFiles []string, projectDir, projectRoot string) []FileMention {
	var out []FileMention
	for _, path := range trackedFiles {
		if norm, ok := NormalizePath(path, projectDir, projectRoot); ok {
			out = append(out, FileMention{FilePath: norm, ToolName: "file_history_snapshot"})
		}
	}
	return out
}

// ExtractFileHints finds tokens in a query string that look like file
// paths or file names, for the query engine's hybrid file-path search.
func ExtractFileHints(query string) []string {
	seen := map[string]bool{}
	var out []string

	for _, tok := range strings.Fields(query) {
		tok = strings.Trim(tok, "`'\"?,;:")
		if !looksLikePath(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
