package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/ichiba"
	"github.com/ashita-ai/ichiba/internal/model"
)

// withApp builds an App for one command and closes it afterwards.
func withApp(cmd *cobra.Command, logger *slog.Logger, fn func(ctx context.Context, app *ichiba.App) error) error {
	ctx := cmd.Context()
	app, err := ichiba.New(ctx, ichiba.WithLogger(logger), ichiba.WithVersion(version))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()
	return fn(ctx, app)
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		count  int
		single bool
		delay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run epochs back to back",
		Long: `Run a fixed number of epochs with a pause between them, or exactly one
with --single for external cron-style triggers. Exits non-zero unless every
requested epoch committed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if single {
				count = 1
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return withApp(cmd, logger, func(ctx context.Context, app *ichiba.App) error {
				if !cmd.Flags().Changed("delay") {
					delay = app.EpochDelay()
				}
				summaries, err := app.RunEpochs(ctx, count, delay)
				for _, s := range summaries {
					printSummary(cmd.OutOrStdout(), s)
				}
				if err != nil {
					return fmt.Errorf("completed %d of %d epochs: %w", len(summaries), count, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 3, "Number of epochs to run")
	cmd.Flags().BoolVar(&single, "single", false, "Run exactly one epoch")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause between epochs (default ICHIBA_EPOCH_DELAY)")
	return cmd
}

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and MCP API, running epochs on ICHIBA_EPOCH_SCHEDULE",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logger, func(ctx context.Context, app *ichiba.App) error {
				return app.Serve(ctx)
			})
		},
	}
}

func newAnchorCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "anchor EPOCH",
		Short: "Compute and attach a missing epoch anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseEpoch(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, logger, func(ctx context.Context, app *ichiba.App) error {
				hash, err := app.Anchor(ctx, n)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "epoch %d anchor %s\n", n, hash)
				return err
			})
		},
	}
}

func newVerifyCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [EPOCH]",
		Short: "Verify an epoch anchor, or print the ledger root when no epoch is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, func(ctx context.Context, app *ichiba.App) error {
				if len(args) == 0 {
					root, err := app.LedgerRoot(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), root)
				}
				n, err := parseEpoch(args[0])
				if err != nil {
					return err
				}
				v, err := app.Verify(ctx, n)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), v); err != nil {
					return err
				}
				if !v.Valid {
					return fmt.Errorf("epoch %d: anchor mismatch", n)
				}
				return nil
			})
		},
	}
}

func newSeedCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in personality agents when none exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logger, func(ctx context.Context, app *ichiba.App) error {
				n, err := app.Seed(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "agents already present; nothing seeded")
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d agents\n", n)
				return err
			})
		},
	}
}

func newReviveCmd(logger *slog.Logger) *cobra.Command {
	var (
		agentID string
		balance string
	)
	cmd := &cobra.Command{
		Use:   "revive",
		Short: "Return a bankrupt agent to active (administrative override)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount := ichiba.SeedBalance
			if balance != "" {
				d, err := model.ParseMoney(balance)
				if err != nil {
					return fmt.Errorf("--balance: %w", err)
				}
				amount = d
			}
			return withApp(cmd, logger, func(ctx context.Context, app *ichiba.App) error {
				agent, err := app.Revive(ctx, agentID, amount)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "revived %s with balance %s\n",
					agent.ID, model.FormatMoney(agent.Balance))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id to revive")
	cmd.Flags().StringVar(&balance, "balance", "", "Balance to restore (default 100)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func parseEpoch(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("epoch must be a positive integer")
	}
	return n, nil
}

func printSummary(w io.Writer, s ichiba.EpochSummary) {
	anchor := s.AnchorHash
	if anchor == "" {
		anchor = "pending"
	} else if len(anchor) > 12 {
		anchor = anchor[:12]
	}
	_, _ = fmt.Fprintf(w, "epoch %d  %-10s trades=%d volume=%s fees=%s bankruptcies=%d fallbacks=%d anchor=%s\n",
		s.Epoch.Number, s.Event.Type, s.Trades,
		model.FormatMoney(s.Volume), model.FormatMoney(s.Fees),
		s.Bankruptcies, s.Fallbacks, anchor)
	for _, a := range s.Advisories {
		_, _ = fmt.Fprintf(w, "  %-16s %s (%s)\n", a.Kind, a.AgentID, model.FormatMoney(a.Balance))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
