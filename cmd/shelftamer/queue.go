package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shelftamer/internal/ledger"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the processing ledger",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []ledger.Status
			if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
				for _, raw := range strings.Split(trimmed, ",") {
					status, ok := ledger.ParseStatus(raw)
					if !ok {
						return fmt.Errorf("unknown status %q", raw)
					}
					statuses = append(statuses, status)
				}
			}

			records, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				detail := record.ErrorMessage
				if detail == "" {
					detail = record.ProgressStage
				}
				rows = append(rows, []string{
					strconv.FormatInt(record.ID, 10),
					record.BookID,
					string(record.Kind),
					string(record.Status),
					strconv.Itoa(record.Attempts),
					detail,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Book", "Kind", "Status", "Attempts", "Detail"},
				rows,
				0, 4,
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma-separated status filter (e.g. failed,completed)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed books",
		Long: "With no arguments, every retryable failed book is requeued. " +
			"Explicit ids requeue even books marked non-retryable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid record id %q", arg)
				}
				ids = append(ids, id)
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			requeued, err := store.RetryFailed(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d book(s)\n", requeued)
			return nil
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a single record from the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed record %d\n", id)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted, clearFailed, clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove records from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			switch {
			case clearAll:
				removed, err = store.ClearAll(cmd.Context())
			case clearCompleted && clearFailed:
				completed, cErr := store.ClearCompleted(cmd.Context())
				if cErr != nil {
					return cErr
				}
				failed, fErr := store.ClearFailed(cmd.Context())
				if fErr != nil {
					return fErr
				}
				removed = completed + failed
			case clearCompleted:
				removed, err = store.ClearCompleted(cmd.Context())
			case clearFailed:
				removed, err = store.ClearFailed(cmd.Context())
			default:
				return fmt.Errorf("specify --completed, --failed, or --all")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed records")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed records")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every record")
	return cmd
}
