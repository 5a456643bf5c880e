package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/credit_line/internal/domain"
	"github.com/vitos/credit_line/internal/usecase"
	"go.uber.org/zap"
)

func newStuckCmd(e *env) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List intents that never completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan == 0 {
				olderThan = e.cfg.Limits.StuckAfter
			}
			intents, err := e.ledger.ListIncomplete(cmd.Context(), olderThan, limit)
			if err != nil {
				return err
			}
			return printIntents(cmd.OutOrStdout(), intents)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age (default limits.stuck_after)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func newShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <intent-id>",
		Short: "Print one intent as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := e.ledger.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(intent)
		},
	}
}

func newRetryCmd(e *env) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "retry <intent-id>",
		Short: "Redeliver an intent to its workflow endpoint and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := e.ledger.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if intent.Completed() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already completed at %s\n", intent.ID, intent.CompletedAt.Format(time.RFC3339))
				return nil
			}
			body, err := usecase.CallbackBody(intent, e.cfg.Scheduler.Secret)
			if err != nil {
				return err
			}
			url := usecase.CallbackURL(e.cfg.Scheduler.BaseURI, intent.Kind)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			e.log.Info("Redelivering intent", zap.String("intent", intent.ID), zap.String("url", url))
			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				return fmt.Errorf("deliver %s: %w", intent.ID, err)
			}
			defer resp.Body.Close()
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %s\n", intent.ID, resp.Status, bytes.TrimSpace(msg))
			if resp.StatusCode >= 300 {
				return fmt.Errorf("delivery of %s returned %d", intent.ID, resp.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "how long to wait for the workflow to finish")
	return cmd
}

func printIntents(out io.Writer, intents []*domain.Intent) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tOWNER\tCREATED\tAGE")
	for _, in := range intents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			in.ID, in.Kind, in.OwnerKey,
			in.CreatedAt.Format(time.RFC3339),
			time.Since(in.CreatedAt).Round(time.Second))
	}
	return tw.Flush()
}
