package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fenv-org/mementor/internal/core/query"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

var (
	searchK         int
	searchOffset    int
	searchSessionID string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search remembered turns by meaning and file mentions",
	Long: `Runs the hybrid vector + file-path search over every ingested session
and prints the "## Relevant past context" block a session would inject into
its own prompt.

Trivial prompts (slash commands, fewer than a few words) are classified as
not worth searching and skipped — pass --force to search anyway.

Examples:
  mementor search "how did we handle retry backoff"
  mementor search "auth middleware" --session-id abc123 --k 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var forceSearch bool

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchK, "k", 5, "Number of results to return")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Number of ranked results to skip")
	searchCmd.Flags().StringVar(&searchSessionID, "session-id", "", "Querying session id, for in-context filtering")
	searchCmd.Flags().BoolVar(&forceSearch, "force", false, "Search even if the prompt classifies as trivial")
}

func runSearch(cmd *cobra.Command, args []string) error {
	queryText := strings.Join(args, " ")

	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	if !forceSearch {
		class := query.Classify(queryText, rt.Config.MinQueryUnits)
		if class.Class == query.ClassTrivial {
			fmt.Printf("skipped: %s\n", class.Reason)
			return nil
		}
	}

	ctx, total, err := query.SearchMemories(rt, queryText, searchOffset, searchK, searchSessionID)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if ctx == "" {
		fmt.Println("no results")
		return nil
	}
	fmt.Print(ctx)
	shown := searchOffset + searchK
	if shown > total {
		shown = total
	}
	fmt.Printf("(%d of %d total)\n", shown, total)
	return nil
}
