// Package cli holds the command-line entry points.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"execution-core/internal/app"
	"execution-core/internal/freshness"
	"execution-core/internal/order"
	"execution-core/internal/pipeline"
	"execution-core/internal/risk"
	sig "execution-core/internal/signal"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/common"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "execution-core",
		Short: "Signal-to-order execution core",
		Long: `execution-core turns trading signals into sized, validated orders
and submits them to one configured venue (Binance spot, Alpaca, Kite or a
paper venue). Settings come from the environment or a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				loaded.DryRun = true
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				loaded.LogLevel = lvl
			}
			app.SetupLogging(loaded.LogLevel, loaded.LogFormat, cmd.ErrOrStderr())
			cfg = loaded
			return nil
		},
	}

	rootCmd.AddCommand(newServeCmd(&cfg))
	rootCmd.AddCommand(newPreviewCmd(&cfg))
	rootCmd.AddCommand(newPositionsCmd(&cfg))
	rootCmd.AddCommand(newReconcileCmd(&cfg))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().Bool("dry-run", false, "Route orders to the paper venue")
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL")

	return rootCmd
}

func newServeCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, *cfg, Version)
		},
	}
}

type previewFlags struct {
	signalJSON string
	orderType  string
	limitPrice float64
	stopPrice  float64
	trail      float64
	tif        string
	bracket    bool
	extended   bool
	mode       string
	riskPct    float64
	amount     float64
	shares     float64
	price      float64
	execute    bool
}

func newPreviewCmd(cfg **config.Config) *cobra.Command {
	var f previewFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Size and build an order for a signal without sending it",
		Long: `Runs the pipeline for one signal and prints the built order.
With --execute the order is submitted once.

Example: execution-core preview --signal '{"symbol":"ETH/USDT","side":"BUY","reference_price":3000}' --risk-pct 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := f.intent(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), *cfg, func(ctx context.Context, a *app.App) error {
				if f.execute {
					seedPaperPrice(a, intent)
					ex, err := a.Pipeline.Execute(ctx, intent)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), ex)
				}
				p, err := a.Pipeline.Preview(ctx, intent)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}

	cmd.Flags().StringVar(&f.signalJSON, "signal", "", "Signal JSON, or - to read it from stdin")
	cmd.Flags().StringVar(&f.orderType, "type", string(common.OrderTypeMarket), "market, limit, stop, stop_limit or trailing_stop")
	cmd.Flags().Float64Var(&f.limitPrice, "limit", 0, "Limit price")
	cmd.Flags().Float64Var(&f.stopPrice, "stop", 0, "Stop price")
	cmd.Flags().Float64Var(&f.trail, "trail-pct", 0, "Trailing stop percent")
	cmd.Flags().StringVar(&f.tif, "tif", "", "Time in force (DAY, GTC, IOC, FOK)")
	cmd.Flags().BoolVar(&f.bracket, "bracket", false, "Attach take-profit and stop-loss legs")
	cmd.Flags().BoolVar(&f.extended, "extended-hours", false, "Allow extended-hours execution")
	cmd.Flags().StringVar(&f.mode, "mode", string(risk.SizePercentOfBalance), "percent_of_balance, fixed_amount or fixed_shares")
	cmd.Flags().Float64Var(&f.riskPct, "risk-pct", 0, "Percent of balance to commit")
	cmd.Flags().Float64Var(&f.amount, "amount", 0, "Quote amount for fixed_amount")
	cmd.Flags().Float64Var(&f.shares, "shares", 0, "Share count for fixed_shares")
	cmd.Flags().Float64Var(&f.price, "price", 0, "Entry price override")
	cmd.Flags().BoolVar(&f.execute, "execute", false, "Submit the order")
	cmd.MarkFlagRequired("signal")

	return cmd
}

func (f previewFlags) intent(stdin io.Reader) (pipeline.Intent, error) {
	raw := []byte(f.signalJSON)
	if f.signalJSON == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return pipeline.Intent{}, fmt.Errorf("read signal: %w", err)
		}
		raw = b
	}
	s, err := sig.ParseJSON(raw)
	if err != nil {
		return pipeline.Intent{}, err
	}
	return pipeline.Intent{
		Signal: s,
		Params: order.Params{
			Type:          common.OrderType(strings.ToLower(f.orderType)),
			TimeInForce:   common.TimeInForce(strings.ToUpper(f.tif)),
			ExtendedHours: f.extended,
			Bracket:       f.bracket,
			LimitPrice:    f.limitPrice,
			StopPrice:     f.stopPrice,
			TrailPercent:  f.trail,
		},
		Sizing: pipeline.Sizing{
			Mode:    risk.SizeMode(f.mode),
			RiskPct: f.riskPct,
			Amount:  f.amount,
			Shares:  f.shares,
		},
		EntryPrice: f.price,
	}, nil
}

// seedPaperPrice lets the paper venue fill at the signal's price when no
// ticker has been streamed in this process.
func seedPaperPrice(a *app.App, in pipeline.Intent) {
	if a.Venue.Paper == nil {
		return
	}
	sym, err := a.Pipeline.Normalizer.Normalize(in.Signal.SymbolDisplay, a.Venue.Adapter.Venue())
	if err != nil {
		return
	}
	if _, ok := a.Prices.Get(sym); ok {
		return
	}
	price := in.EntryPrice
	if price <= 0 {
		price = in.Signal.Price()
	}
	a.Prices.Set(sym, price)
}

func newPositionsCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Rebuild positions from venue history and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfg, func(ctx context.Context, a *app.App) error {
				if err := a.Scheduler.Refresh(ctx, freshness.FeedOrderHistory); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.Ledger.Snapshot())
			})
		},
	}
}

func newReconcileCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Settle abandoned journal rows against venue history once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfg, func(ctx context.Context, a *app.App) error {
				report, err := a.Reconciler.Reconcile(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "execution-core %s\n", Version)
		},
	}
}

// withApp builds the app for a one-shot command, syncs the balance and
// runs fn.
func withApp(ctx context.Context, cfg *config.Config, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(cfg, Version, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Scheduler.Refresh(ctx, freshness.FeedBalance); err != nil {
		return fmt.Errorf("sync balance: %w", err)
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
