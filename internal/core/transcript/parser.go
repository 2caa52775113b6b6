package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/fenv-org/mementor/internal/core/config"
	"github.com/fenv-org/mementor/internal/core/merr"
)

// Role distinguishes user turns from assistant turns; only assistant
// messages carry a tool summary.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// Message is one parsed transcript line that survived the noise filter:
// empty tool-only lines, system/file-history-snapshot entries, and
// messages with neither text nor a tool summary are dropped before this
// point.
type Message struct {
	LineIndex           int
	Role                Role
	Text                string
	ToolSummary         []string
	IsCompactionSummary bool
}

func (m Message) IsUser() bool      { return m.Role == RoleUser }
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// PRLink is a pr-link entry line: a record Claude Code's GitHub integration
// writes directly into the transcript when a PR is opened from the
// session, independent of any user/assistant message.
type PRLink struct {
	LineIndex    int
	SessionID    string
	PRNumber     int
	PRURL        string
	PRRepository string
	Timestamp    string
}

// EntryType classifies a kept transcript line: every kept line gets one,
// independent of whether it also participates in turn grouping.
type EntryType string

const (
	EntryUser                EntryType = "user"
	EntryAssistant           EntryType = "assistant"
	EntrySummary             EntryType = "summary"
	EntryCompactBoundary     EntryType = "compact_boundary"
	EntryFileHistorySnapshot EntryType = "file_history_snapshot"
)

// Entry is one kept transcript line, storage-shaped. Messages is the
// turn-grouping-shaped subset of the same user/assistant lines; Entries is
// the complete, flatter record the Ingest Pipeline persists verbatim.
type Entry struct {
	LineIndex    int
	Type         EntryType
	Content      string
	ToolSummary  string
	Timestamp    string
	TrackedFiles []string // file_history_snapshot only
}

// Result is everything Parse extracted from one read of the transcript.
type Result struct {
	Messages []Message
	PRLinks  []PRLink
	Entries  []Entry

	// EOFLineIndex is the 0-based index of the last line in the file, or -1
	// for an empty file. It reflects the true end of the transcript
	// regardless of startLine, so Ingest can advance a cursor straight to
	// EOF rather than to the last processed turn's end.
	EOFLineIndex int
}

// Parse reads path starting at the 0-based startLine (skipping everything
// before it, the way an incremental re-ingest resumes from a saved cursor)
// and returns every message and pr-link entry found after that point. A
// malformed individual line is skipped, without a log line or warning,
// rather than failing the whole transcript; only a missing or unreadable
// file is
// ErrorKind::InvalidTranscript.
func Parse(path string, startLine int) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, merr.Wrap(merr.KindInvalidTranscript, "open transcript", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	result := &Result{EOFLineIndex: -1}
	lineIndex := -1

	for scanner.Scan() {
		lineIndex++
		if lineIndex < startLine {
			continue
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw rawEntry
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}

		switch raw.Type {
		case "pr-link":
			if raw.PRNumber != nil && raw.SessionID != "" && raw.PRURL != "" && raw.PRRepository != "" && raw.Timestamp != "" {
				result.PRLinks = append(result.PRLinks, PRLink{
					LineIndex:    lineIndex,
					SessionID:    raw.SessionID,
					PRNumber:     *raw.PRNumber,
					PRURL:        raw.PRURL,
					PRRepository: raw.PRRepository,
					Timestamp:    raw.Timestamp,
				})
			}
			continue
		case "summary":
			result.Entries = append(result.Entries, Entry{
				LineIndex: lineIndex,
				Type:      EntrySummary,
				Content:   raw.Summary,
				Timestamp: raw.Timestamp,
			})
			continue
		case "compact_boundary":
			result.Entries = append(result.Entries, Entry{
				LineIndex: lineIndex,
				Type:      EntryCompactBoundary,
				Timestamp: raw.Timestamp,
			})
			continue
		case "file_history_snapshot":
			result.Entries = append(result.Entries, Entry{
				LineIndex:    lineIndex,
				Type:         EntryFileHistorySnapshot,
				TrackedFiles: trackedFilePaths(raw.Snapshot),
				Timestamp:    raw.Timestamp,
			})
			continue
		}

		// progress, queue-operation, system/turn_duration, stop_hook_summary,
		// and anything else unrecognized are dropped entirely.
		if len(raw.Message) == 0 {
			continue
		}

		var msg rawMessage
		if err := json.Unmarshal(raw.Message, &msg); err != nil {
			continue
		}

		text, blocks, _ := extractContent(msg.Content)

		var role Role
		var toolSummary []string
		switch msg.Role {
		case "assistant":
			role = RoleAssistant
			toolSummary = extractToolSummary(blocks)
		case "user":
			role = RoleUser
		default:
			continue
		}

		if blocks != nil {
			text = extractText(blocks)
		}

		if strings.TrimSpace(text) == "" && len(toolSummary) == 0 {
			continue
		}

		isCompactionSummary := role == RoleUser && strings.HasPrefix(text, config.CompactionSummaryPrefix)

		result.Messages = append(result.Messages, Message{
			LineIndex:           lineIndex,
			Role:                role,
			Text:                text,
			ToolSummary:         toolSummary,
			IsCompactionSummary: isCompactionSummary,
		})

		entryType := EntryUser
		if role == RoleAssistant {
			entryType = EntryAssistant
		}
		result.Entries = append(result.Entries, Entry{
			LineIndex:   lineIndex,
			Type:        entryType,
			Content:     text,
			ToolSummary: strings.Join(toolSummary, " | "),
			Timestamp:   raw.Timestamp,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, merr.Wrap(merr.KindInvalidTranscript, "read transcript", err)
	}

	result.EOFLineIndex = lineIndex
	return result, nil
}

// trackedFilePaths flattens a file_history_snapshot's trackedFileBackups map
// into a sorted path list; nil/empty snapshots (§8's "empty trackedFileBackups"
// boundary case) yield a nil slice.
func trackedFilePaths(snapshot *rawSnapshot) []string {
	if snapshot == nil || len(snapshot.TrackedFileBackups) == 0 {
		return nil
	}
	paths := make([]string, 0, len(snapshot.TrackedFileBackups))
	for p := range snapshot.TrackedFileBackups {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
