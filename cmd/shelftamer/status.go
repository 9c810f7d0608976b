package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shelftamer/internal/ledger"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger totals per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(stats))
			total := 0
			for _, status := range ledger.AllStatuses() {
				count, ok := stats[status]
				if !ok {
					continue
				}
				total += count
				rows = append(rows, []string{string(status), strconv.Itoa(count)})
			}
			rows = append(rows, []string{"total", strconv.Itoa(total)})

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Status", "Books"}, rows, 1))
			fmt.Fprintf(out, "Ledger: %s\n", store.Path())
			return nil
		},
	}
}
