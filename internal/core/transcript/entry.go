// Package transcript turns a Claude Code JSONL transcript file into the
// role-tagged, tool-summarized messages the rest of the pipeline groups
// into turns.
//
// Parsing uses a bufio.Scanner with an enlarged buffer, reading one JSON
// line at a time and skipping a bad line rather than failing the whole
// file. A skipped line is not reported.
package transcript

import (
	"encoding/json"
	"fmt"
)

// rawEntry is one line of the transcript file. pr-link lines carry
// PRNumber/PRURL/PRRepository and no Message; ordinary lines carry Message
// and no PR fields; summary/compact_boundary/file_history_snapshot lines
// carry neither and are identified by Type alone.
type rawEntry struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"sessionId,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	PRNumber     *int            `json:"prNumber,omitempty"`
	PRURL        string          `json:"prUrl,omitempty"`
	PRRepository string          `json:"prRepository,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Snapshot     *rawSnapshot    `json:"snapshot,omitempty"`
}

// rawSnapshot is the nested payload of a file_history_snapshot line: the set
// of files Claude Code took a backup of before editing, keyed by path.
type rawSnapshot struct {
	TrackedFileBackups map[string]json.RawMessage `json:"trackedFileBackups,omitempty"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// rawContentBlock mirrors one element of a message's content array. Only
// the fields relevant to a given Type are populated by the producer.
type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  *string         `json:"thinking,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// extractContent normalizes the content field, which Claude Code writes as
// either a bare string or an array of typed blocks.
func extractContent(raw json.RawMessage) (text string, blocks []rawContentBlock, hasUnknown bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil, false
	}

	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil, false
	}
	for _, b := range blocks {
		switch b.Type {
		case "text", "thinking", "tool_use", "tool_result":
		default:
			hasUnknown = true
		}
	}
	return "", blocks, hasUnknown
}

// extractText joins text and thinking blocks, skipping tool_use/tool_result
// and unrecognized block types, matching Content::extract_text.
func extractText(blocks []rawContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "thinking":
			if b.Thinking != nil && *b.Thinking != "" {
				parts = append(parts, *b.Thinking)
			}
		}
	}
	return joinDoubleNewline(parts)
}

func joinDoubleNewline(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

const maxSummaryValueLen = 80

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func jsonStr(input json.RawMessage, key string) (string, bool) {
	if len(input) == 0 {
		return "", false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(input, &m); err != nil {
		return "", false
	}
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// summarizeTool produces a compact, single-line description of a tool
// invocation, matching summarize_tool's per-tool formats exactly so the
// Chunker's token budget and a human reader see the same shorthand.
func summarizeTool(name string, input json.RawMessage) string {
	if len(input) == 0 {
		return name
	}

	switch name {
	case "Read", "Edit", "Write":
		if path, ok := jsonStr(input, "file_path"); ok {
			return fmt.Sprintf("%s(%s)", name, path)
		}
		return name
	case "NotebookEdit":
		path, hasPath := jsonStr(input, "notebook_path")
		cell, hasCell := jsonStr(input, "cell_id")
		mode, hasMode := jsonStr(input, "edit_mode")
		switch {
		case hasPath && hasCell && hasMode:
			return fmt.Sprintf("NotebookEdit(%s, cell_id=%q, edit_mode=%q)", path, cell, mode)
		case hasPath && hasCell:
			return fmt.Sprintf("NotebookEdit(%s, cell_id=%q)", path, cell)
		case hasPath && hasMode:
			return fmt.Sprintf("NotebookEdit(%s, edit_mode=%q)", path, mode)
		case hasPath:
			return fmt.Sprintf("NotebookEdit(%s)", path)
		default:
			return "NotebookEdit"
		}
	case "Grep", "Glob":
		pattern, hasPattern := jsonStr(input, "pattern")
		path, hasPath := jsonStr(input, "path")
		switch {
		case hasPattern && hasPath:
			return fmt.Sprintf("%s(pattern=%q, path=%q)", name, truncate(pattern, maxSummaryValueLen), path)
		case hasPattern:
			return fmt.Sprintf("%s(pattern=%q)", name, truncate(pattern, maxSummaryValueLen))
		default:
			return name
		}
	case "Bash":
		desc, hasDesc := jsonStr(input, "description")
		cmd, hasCmd := jsonStr(input, "command")
		if hasCmd {
			cmd = truncate(firstLine(cmd), maxSummaryValueLen)
		}
		switch {
		case hasDesc && hasCmd:
			return fmt.Sprintf("Bash(desc=%q, cmd=%q)", truncate(desc, maxSummaryValueLen), cmd)
		case hasDesc:
			return fmt.Sprintf("Bash(desc=%q)", truncate(desc, maxSummaryValueLen))
		case hasCmd:
			return fmt.Sprintf("Bash(cmd=%q)", cmd)
		default:
			return "Bash"
		}
	case "Task":
		desc, hasDesc := jsonStr(input, "description")
		prompt, hasPrompt := jsonStr(input, "prompt")
		if hasPrompt {
			prompt = truncate(firstLine(prompt), maxSummaryValueLen)
		}
		switch {
		case hasDesc && hasPrompt:
			return fmt.Sprintf("Task(desc=%q, prompt=%q)", truncate(desc, maxSummaryValueLen), prompt)
		case hasDesc:
			return fmt.Sprintf("Task(desc=%q)", truncate(desc, maxSummaryValueLen))
		case hasPrompt:
			return fmt.Sprintf("Task(prompt=%q)", prompt)
		default:
			return "Task"
		}
	case "Skill":
		skill, hasSkill := jsonStr(input, "skill")
		args, hasArgs := jsonStr(input, "args")
		switch {
		case hasSkill && hasArgs:
			return fmt.Sprintf("Skill(skill=%q, args=%q)", skill, truncate(args, maxSummaryValueLen))
		case hasSkill:
			return fmt.Sprintf("Skill(skill=%q)", skill)
		default:
			return "Skill"
		}
	case "WebFetch":
		if url, ok := jsonStr(input, "url"); ok {
			return fmt.Sprintf("WebFetch(url=%q)", truncate(url, maxSummaryValueLen))
		}
		return "WebFetch"
	case "WebSearch":
		if q, ok := jsonStr(input, "query"); ok {
			return fmt.Sprintf("WebSearch(query=%q)", truncate(q, maxSummaryValueLen))
		}
		return "WebSearch"
	case "AskUserQuestion", "EnterPlanMode", "ExitPlanMode", "TaskCreate", "TaskUpdate",
		"TaskList", "TaskOutput", "TaskStop", "TodoWrite":
		return ""
	default:
		return name
	}
}

// extractToolSummary returns one compact summary string per tool_use block,
// skipping tools with no useful search signal.
func extractToolSummary(blocks []rawContentBlock) []string {
	var out []string
	for _, b := range blocks {
		if b.Type != "tool_use" || b.Name == "" {
			continue
		}
		s := summarizeTool(b.Name, b.Input)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
