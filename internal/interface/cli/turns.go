package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenv-org/mementor/internal/core/query"
	"github.com/fenv-org/mementor/internal/core/runtime"
)

var (
	turnsSegment int
	turnsCurrent bool
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Inspect turns by compaction segment",
}

var turnsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "List turns in a compaction segment, or the session's current (post-compaction) segment",
	Long: `A session's history splits into segments at each compact_boundary entry.
--segment N lists the Nth segment (1-based, bounded by the Nth compaction);
--current lists everything after the last recorded compaction, the tail a
fresh context window actually sees.

Examples:
  mementor turns get abc123 --segment 1
  mementor turns get abc123 --current`,
	Args: cobra.ExactArgs(1),
	RunE: runTurnsGet,
}

func init() {
	rootCmd.AddCommand(turnsCmd)
	turnsCmd.AddCommand(turnsGetCmd)
	turnsGetCmd.Flags().IntVar(&turnsSegment, "segment", 0, "1-based compaction segment to list")
	turnsGetCmd.Flags().BoolVar(&turnsCurrent, "current", false, "List the session's current (post-compaction) segment")
}

func runTurnsGet(cmd *cobra.Command, args []string) error {
	if turnsCurrent == (turnsSegment > 0) {
		return fmt.Errorf("pass exactly one of --segment N or --current")
	}

	rt, err := runtime.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	sessionID := args[0]
	var turns []query.SegmentTurn
	if turnsCurrent {
		turns, err = query.TurnsInCurrentSegment(rt, sessionID)
	} else {
		turns, err = query.TurnsInSegment(rt, sessionID, turnsSegment)
	}
	if err != nil {
		return fmt.Errorf("turns get: %w", err)
	}

	if len(turns) == 0 {
		fmt.Println("no turns in that segment")
		return nil
	}
	for _, t := range turns {
		fmt.Printf("turn %d\tlines %d-%d\n", t.TurnID, t.StartLine, t.EndLine)
	}
	return nil
}
