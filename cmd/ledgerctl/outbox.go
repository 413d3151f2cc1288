package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/services"

	"github.com/spf13/cobra"
)

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and retry ledger outbox tasks",
	}
	cmd.AddCommand(outboxListCmd())
	cmd.AddCommand(outboxRetryCmd())
	return cmd
}

func outboxListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox tasks by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close(ctx)
			return listOutbox(ctx, cmd.OutOrStdout(), adminService(e), models.OutboxTaskStatus(status), limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", string(models.OutboxStatusDead), "pending, done or dead")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func outboxRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Requeue dead tasks with a reset attempt counter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close(ctx)
			return retryOutbox(ctx, cmd.OutOrStdout(), adminService(e), args)
		},
	}
}

// adminService has no worker to wake; a running server picks requeued tasks
// up on its next poll.
func adminService(e *env) services.AdminService {
	store := e.backend.Store
	commissions := services.NewCommissionService(store.Vendors(), store.Conversions(), store.Commissions(), store.Outbox(), e.log)
	return services.NewAdminService(store.Conversions(), commissions, store.Outbox(), nil)
}

func listOutbox(ctx context.Context, out io.Writer, svc services.AdminService, status models.OutboxTaskStatus, limit int) error {
	tasks, err := svc.ListOutboxTasks(ctx, status, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tAGGREGATE\tATTEMPTS\tAVAILABLE\tLAST ERROR")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Kind, t.AggregateID, t.Attempts, t.AvailableAt.Format(time.RFC3339), t.LastError)
	}
	return w.Flush()
}

func retryOutbox(ctx context.Context, out io.Writer, svc services.AdminService, ids []string) error {
	for _, id := range ids {
		if err := svc.RetryOutboxTask(ctx, id); err != nil {
			return fmt.Errorf("task %s: %w", id, err)
		}
		fmt.Fprintf(out, "requeued %s\n", id)
	}
	return nil
}
