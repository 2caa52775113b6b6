package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fenv-org/mementor/internal/core/gitroot"
	"github.com/fenv-org/mementor/internal/core/ingest"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest Claude Code transcripts into the memory store",
	Long: `Walks ~/.claude/projects/ (or a given directory) for *.jsonl transcripts
and ingests each one incrementally: only the turns appended since the last
run are chunked, embedded, and stored.

Examples:
  mementor ingest
  mementor ingest ~/.claude/projects/-home-me-myproject`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	sourcePath := defaultClaudeProjectsDir()
	if len(args) > 0 {
		sourcePath = args[0]
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	transcripts, err := findTranscripts(sourcePath)
	if err != nil {
		return fmt.Errorf("find transcripts: %w", err)
	}
	if len(transcripts) == 0 {
		fmt.Println("no transcript files found")
		return nil
	}

	var totalTurns, totalMentions int
	for _, path := range transcripts {
		sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		if sessionID == "" {
			// A transcript filename that doesn't resolve to a usable session
			// id (an unnamed or dotfile .jsonl) still needs one to key its
			// cursor and turns on; mint one rather than refusing to ingest.
			sessionID = uuid.NewString()
		}
		projectDir := filepath.Dir(path)
		projectRoot := gitroot.ResolvePrimaryRoot(projectDir)
		if projectRoot == "" {
			projectRoot = projectDir
		}

		result, err := ingest.Run(rt, sessionID, "", path, projectDir, projectRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ingest %s: %v\n", path, err)
			continue
		}
		if result.TurnsProcessed > 0 {
			fmt.Printf("%s: %s turns (%d provisional), %s file mentions\n",
				sessionID, humanize.Comma(int64(result.TurnsProcessed)), result.TurnsProvisional, humanize.Comma(int64(result.FileMentionsAdded)))
		}
		totalTurns += result.TurnsProcessed
		totalMentions += result.FileMentionsAdded
	}

	fmt.Printf("\ningested %s transcript(s): %s turns, %s file mentions\n",
		humanize.Comma(int64(len(transcripts))), humanize.Comma(int64(totalTurns)), humanize.Comma(int64(totalMentions)))
	return nil
}

func defaultClaudeProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.claude/projects"
	}
	return filepath.Join(home, ".claude", "projects")
}

func findTranscripts(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".jsonl" {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
