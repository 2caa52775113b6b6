package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenv-org/mementor/internal/core/query"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

var (
	relatedK      int
	relatedOffset int
)

var relatedSessionsCmd = &cobra.Command{
	Use:   "related-sessions <session-id>",
	Short: "Find sessions that touched similar resources",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelatedSessions,
}

var relatedTurnsCmd = &cobra.Command{
	Use:   "related-turns <session-id> <start-line>",
	Short: "Find turns (in other sessions) similar to a window around a turn",
	Args:  cobra.ExactArgs(2),
	RunE:  runRelatedTurns,
}

func init() {
	rootCmd.AddCommand(relatedSessionsCmd)
	rootCmd.AddCommand(relatedTurnsCmd)
	relatedSessionsCmd.Flags().IntVar(&relatedK, "k", 5, "Number of results to return")
	relatedSessionsCmd.Flags().IntVar(&relatedOffset, "offset", 0, "Number of ranked results to skip")
	relatedTurnsCmd.Flags().IntVar(&relatedK, "k", 5, "Number of results to return")
	relatedTurnsCmd.Flags().IntVar(&relatedOffset, "offset", 0, "Number of ranked results to skip")
}

func runRelatedSessions(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	matches, total, err := query.FindRelatedSessions(rt, args[0], relatedOffset, relatedK, (relatedOffset+relatedK)*rt.Config.OverFetchMultiplier)
	if err != nil {
		return fmt.Errorf("related sessions: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("no related sessions")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s\t%.4f\n", m.SessionID, m.Similarity)
	}
	fmt.Printf("(%d total)\n", total)
	return nil
}

func runRelatedTurns(cmd *cobra.Command, args []string) error {
	var startLine int
	if _, err := fmt.Sscanf(args[1], "%d", &startLine); err != nil {
		return fmt.Errorf("invalid start line %q: %w", args[1], err)
	}

	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	matches, total, err := query.FindRelatedTurns(rt, args[0], startLine, rt.Config.WindowSize, relatedOffset, relatedK, (relatedOffset+relatedK)*rt.Config.OverFetchMultiplier)
	if err != nil {
		return fmt.Errorf("related turns: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("no related turns")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("turn %d (line %d)\t%.4f\n", m.TurnID, m.StartLine, m.Similarity)
	}
	fmt.Printf("(%d total)\n", total)
	return nil
}
