package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cardfile/internal/card"
)

// ReindexResult summarizes a rebuilt index.
type ReindexResult struct {
	Cards    int                 `json:"cards"`
	ByStatus map[card.Status]int `json:"by_status"`
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the SQLite index from the card files",
		Long: `Drop and rebuild <data-dir>/index.db from every readable card file, then
print the number of indexed cards per status. The card files stay the
source of truth; the index only speeds up city queries.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			a, err := openApp(rootOpts, cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			n, err := a.repo.RebuildIndex(ctx)
			if err != nil {
				return out.Fail("failed to rebuild index", err)
			}
			counts, err := a.idx.Counts(ctx)
			if err != nil {
				return out.Fail("failed to count index", err)
			}

			return out.Result(formatCounts(n, counts), ReindexResult{Cards: n, ByStatus: counts})
		},
	}
}

func formatCounts(n int, counts map[card.Status]int) string {
	statuses := make([]card.Status, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	slices.Sort(statuses)

	var b strings.Builder
	fmt.Fprintf(&b, "indexed %d card(s)", n)
	for _, s := range statuses {
		fmt.Fprintf(&b, "\n  %-15s %d", s, counts[s])
	}
	return b.String()
}
