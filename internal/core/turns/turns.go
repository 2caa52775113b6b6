// Package turns groups parsed transcript messages into
// Turn[n] = User[n] + Assistant[n] + User[n+1], the unit everything
// downstream (chunking, embedding, search) operates on.
package turns

import (
	"strings"

	"github.com/fenv-org/mementor/internal/core/transcript"
)

// Turn is one grouped unit of conversation. The last turn built from a
// transcript read is provisional when there's no following user message
// yet to close it out; re-ingesting the same session later rebuilds it in
// place once that message appears.
type Turn struct {
	StartLine           int
	EndLine             int
	Provisional         bool
	Text                string
	ToolSummary         []string
	IsCompactionSummary bool
}

// GroupIntoTurns walks the message stream and, at each user message, builds
// a turn from that user entry, the assistant entry immediately following it
// (if any), and the next user entry after that (if any) as forward context.
// The forward-context user entry is shared with the next turn it starts —
// it both closes turn n and opens turn n+1 — so a bare trailing user
// message with no assistant reply yet still closes out whatever came before
// it, even though it has nothing to pair with itself.
func GroupIntoTurns(messages []transcript.Message) []Turn {
	var out []Turn

	i := 0
	for i < len(messages) {
		if !messages[i].IsUser() {
			i++ // orphan assistant message with no preceding user entry
			continue
		}
		user := messages[i]
		j := i + 1

		var assistant *transcript.Message
		if j < len(messages) && messages[j].IsAssistant() {
			a := messages[j]
			assistant = &a
			j++
		}

		var forward *transcript.Message
		if j < len(messages) && messages[j].IsUser() {
			f := messages[j]
			forward = &f
		}

		var b strings.Builder
		b.WriteString("[User] ")
		b.WriteString(user.Text)

		endLine := user.LineIndex
		var toolSummary []string
		if assistant != nil {
			b.WriteString("\n\n[Assistant] ")
			b.WriteString(assistant.Text)
			endLine = assistant.LineIndex
			toolSummary = assistant.ToolSummary
			if len(toolSummary) > 0 {
				b.WriteString("\n\n[Tools] ")
				b.WriteString(strings.Join(toolSummary, " | "))
			}
		}

		provisional := forward == nil
		if forward != nil {
			b.WriteString("\n\n[User] ")
			b.WriteString(forward.Text)
			endLine = forward.LineIndex
		}

		out = append(out, Turn{
			StartLine:           user.LineIndex,
			EndLine:             endLine,
			Provisional:         provisional,
			Text:                b.String(),
			ToolSummary:         toolSummary,
			IsCompactionSummary: user.IsCompactionSummary,
		})

		i = j
	}

	return out
}
