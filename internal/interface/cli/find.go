package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fenv-org/mementor/internal/core/query"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

var (
	findFileK      int
	findFileOffset int
	findCommitK    int
)

var findFileCmd = &cobra.Command{
	Use:   "find-file <path>",
	Short: "Find past context for a specific file path",
	Long: `Pure file-path lookup, skipping the embedding call entirely — used for
fast context injection right before a tool touches a file.

Examples:
  mementor find-file internal/core/store/queries.go
  mementor find-file src/auth.rs --session-id abc123`,
	Args: cobra.ExactArgs(1),
	RunE: runFindFile,
}

var findCommitCmd = &cobra.Command{
	Use:   "find-commit <file>...",
	Short: "Find past context across every file a commit touched",
	Long: `Unions find-file across a list of files, deduplicating turns that
mention more than one of them. The caller resolves the commit hash into its
changed-file list (e.g. with "git show --name-only") and passes it here.

Example:
  mementor find-commit internal/core/query/fulltext.go internal/core/query/related.go`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFindCommit,
}

var findPRCmd = &cobra.Command{
	Use:   "find-pr <number>",
	Short: "Find the session that linked a given PR number",
	Args:  cobra.ExactArgs(1),
	RunE:  runFindPR,
}

func init() {
	rootCmd.AddCommand(findFileCmd)
	rootCmd.AddCommand(findCommitCmd)
	rootCmd.AddCommand(findPRCmd)
	findFileCmd.Flags().IntVar(&findFileK, "k", 5, "Number of results to return")
	findFileCmd.Flags().IntVar(&findFileOffset, "offset", 0, "Number of results to skip")
	findFileCmd.Flags().StringVar(&searchSessionID, "session-id", "", "Querying session id, for in-context filtering")
	findCommitCmd.Flags().IntVar(&findCommitK, "k", 20, "Number of results to return")
	findCommitCmd.Flags().IntVar(&findFileOffset, "offset", 0, "Number of results to skip")
}

func runFindFile(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	ctx, total, err := query.SearchFileContext(rt, args[0], "", "", findFileOffset, findFileK, searchSessionID)
	if err != nil {
		return fmt.Errorf("find file: %w", err)
	}
	if ctx == "" {
		fmt.Println("no results")
		return nil
	}
	fmt.Print(ctx)
	fmt.Printf("(%d total)\n", total)
	return nil
}

func runFindCommit(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	matches, total, err := query.FindByCommit(rt, args, findFileOffset, findCommitK)
	if err != nil {
		return fmt.Errorf("find commit: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s:%d (%s)\n", m.SessionID, m.StartLine, m.ToolName)
	}
	fmt.Printf("(%d total)\n", total)
	return nil
}

func runFindPR(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pr number %q: %w", args[0], err)
	}

	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	match, err := query.FindByPR(rt, n)
	if err != nil {
		return fmt.Errorf("find pr: %w", err)
	}
	if match == nil {
		fmt.Println("no session found")
		return nil
	}
	timestamp := match.Timestamp
	if t, err := time.Parse(time.RFC3339, match.Timestamp); err == nil {
		timestamp = fmt.Sprintf("%s (%s)", match.Timestamp, humanize.Time(t))
	}
	fmt.Printf("session: %s\nrepository: %s\nurl: %s\ntimestamp: %s\n", match.SessionID, match.PrRepository, match.PrURL, timestamp)
	return nil
}
