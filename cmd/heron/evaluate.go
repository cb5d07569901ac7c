package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/docstore"
	"github.com/spf13/cobra"
)

func evaluateCmd(configPath *string) *cobra.Command {
	var batch bool

	cmd := &cobra.Command{
		Use:   "evaluate <transaction-id>...",
		Short: "Evaluate stored transactions and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if batch {
				outcome, err := a.pipeline.EvaluateBatch(ctx, args)
				if err != nil {
					return err
				}
				if err := printJSON(out, outcome); err != nil {
					return err
				}
				return outcome.Err()
			}

			var failed int
			for _, id := range args {
				outcome, err := a.pipeline.Evaluate(ctx, id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				if err := printJSON(out, outcome); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d evaluations failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&batch, "batch", false, "send all transactions in one gateway call")
	return cmd
}

func ingestCmd(configPath *string) *cobra.Command {
	var (
		from, to string
		q        docstore.Query
		submit   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import ISO20022 traces from the document store as transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if q.From, err = parseDate(from); err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			if q.To, err = parseDate(to); err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.docs == nil {
				return fmt.Errorf("document store is disabled (set docstore.enabled)")
			}

			report, err := a.pipeline.IngestTraces(ctx, q, submit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "earliest trace creation time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest trace creation time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&q.StatusCode, "status", "", "ISO20022 transaction status code (ACCC, RJCT, ...)")
	cmd.Flags().StringVar(&q.Search, "search", "", "instruction or end-to-end id substring")
	cmd.Flags().IntVar(&q.Limit, "limit", docstore.DefaultLimit, "maximum traces to fetch")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "traces to skip")
	cmd.Flags().BoolVar(&submit, "submit", false, "publish inserted transactions for async evaluation (needs a shared event bus)")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
