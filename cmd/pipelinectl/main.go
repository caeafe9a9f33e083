// Command pipelinectl runs pipeline maintenance by hand.
//
// Usage:
//
//	pipelinectl drain
//	pipelinectl tick price_drop
//	pipelinectl recalculate
//	pipelinectl cleanup
//	pipelinectl show 42
//	pipelinectl cancel 42
//	pipelinectl requeue 42
//	pipelinectl analytics 17 --variation 3
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/app"
	"github.com/alexnthnz/wishlist-pipeline/internal/config"
	"github.com/alexnthnz/wishlist-pipeline/internal/scheduler"
)

var inMemory bool

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "pipelinectl",
		Short:        "Wishlist pipeline operator CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&inMemory, "mem", false, "Use in-memory storage instead of PostgreSQL and Redis")

	root.AddCommand(drainCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(recalculateCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(showCmd())
	root.AddCommand(cancelCmd())
	root.AddCommand(requeueCmd())
	root.AddCommand(analyticsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, builds the pipeline and runs fn with a
// context cancelled on interrupt.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(cfg, logger, app.Options{InMemory: inMemory || cfg.InMemory})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid notification id %q", arg)
	}
	return id, nil
}

func runTick(name string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Coordinator.RunOnce(ctx, name)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			for _, e := range res.Errors {
				fmt.Fprintln(os.Stderr, "error:", e)
			}
			return fmt.Errorf("%s finished with %d errors", name, len(res.Errors))
		}
		return nil
	})
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Dispatch one batch of due notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(scheduler.TickQueueDrain)
		},
	}
}

func tickCmd() *cobra.Command {
	ticks := []string{
		scheduler.TickAnalyticsRecalculate,
		scheduler.TickBackInStock,
		scheduler.TickPriceDrop,
		scheduler.TickQueueDrain,
		scheduler.TickReminder,
		scheduler.TickRetention,
	}
	return &cobra.Command{
		Use:       "tick <name>",
		Short:     "Run a single scheduler tick (" + strings.Join(ticks, ", ") + ")",
		Args:      cobra.ExactArgs(1),
		ValidArgs: ticks,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(args[0])
		},
	}
}

func recalculateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalculate",
		Short: "Reconcile every analytics row against the wishlist items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(scheduler.TickAnalyticsRecalculate)
		},
	}
}

func cleanupCmd() *cobra.Command {
	var analyticsDays, notificationDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge stale analytics rows and old notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("analytics-days") {
					analyticsDays = a.Config.Retention.AnalyticsDays
				}
				if !cmd.Flags().Changed("notification-days") {
					notificationDays = a.Config.Retention.NotificationsDays
				}

				counters, err := a.Analytics.Cleanup(ctx, analyticsDays)
				if err != nil {
					return err
				}
				notifications, err := a.Notifications.Cleanup(ctx, notificationDays)
				if err != nil {
					return err
				}
				return printJSON(map[string]int64{
					"analytics_deleted":     counters,
					"notifications_deleted": notifications,
				})
			})
		},
	}
	cmd.Flags().IntVar(&analyticsDays, "analytics-days", 365, "Retention for empty analytics rows")
	cmd.Flags().IntVar(&notificationDays, "notification-days", 90, "Retention for finished notifications")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a notification record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				rec, err := a.Notifications.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Notifications.Cancel(ctx, id)
			})
		},
	}
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a failed notification back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Notifications.Requeue(ctx, id)
			})
		},
	}
}

func analyticsCmd() *cobra.Command {
	var variation int64
	cmd := &cobra.Command{
		Use:   "analytics <product-id>",
		Short: "Print the counters of a product variation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid product id %q", args[0])
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				counters, err := a.Analytics.Get(ctx, analytics.Key{ProductID: product, VariationID: variation})
				if err != nil {
					return err
				}
				return printJSON(counters)
			})
		},
	}
	cmd.Flags().Int64Var(&variation, "variation", 0, "Variation id (0 for none)")
	return cmd
}
