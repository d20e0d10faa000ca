package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glimte/afterlocks/config"
	"github.com/glimte/afterlocks/internal/seats"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

type options struct {
	configPath string
	verbose    bool
	workload   seats.Workload
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{workload: seats.DefaultWorkload()}

	rootCmd := &cobra.Command{
		Use:   "seatdemo",
		Short: "Book seats concurrently with locks and with a single-writer bus",
		Long: `seatdemo runs the same booking workload against two seat allocators:
one guarding its inventory with a mutex and one owning it on the bus pump,
reached through request/response exchanges.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout(), "locked", "messaging")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print every booking")
	flags.IntVarP(&opts.workload.Orders, "orders", "n", opts.workload.Orders, "Number of concurrent customers")
	flags.IntVar(&opts.workload.MaxSeats, "max-seats", opts.workload.MaxSeats, "Largest number of seats one customer books")
	flags.IntVar(&opts.workload.CancelPercent, "cancel-percent", opts.workload.CancelPercent, "Chance in percent that a customer cancels")
	flags.IntVar(&opts.workload.Concurrency, "concurrency", 0, "Cap on in-flight customers (0 = unlimited)")
	flags.Uint64Var(&opts.workload.Seed, "seed", opts.workload.Seed, "Random seed for the workload")

	for _, name := range []string{"locked", "messaging"} {
		rootCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("Run the workload against the %s allocator only", name),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), opts, cmd.OutOrStdout(), name)
			},
		})
	}

	return rootCmd
}

func run(ctx context.Context, opts *options, out io.Writer, services ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c, err := newContainer(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Client().Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	for _, name := range services {
		var svc seats.Service
		switch name {
		case "locked":
			svc = c.LockedService()
		case "messaging":
			svc = c.MessagingService()
		default:
			return fmt.Errorf("unknown allocator %q", name)
		}

		if err := runWorkload(ctx, name, svc, opts, out); err != nil {
			return err
		}
	}

	if opts.verbose {
		c.Client().Metrics().LogSummary(ctx, c.Client().Logger())
	}
	return nil
}

func runWorkload(ctx context.Context, name string, svc seats.Service, opts *options, out io.Writer) error {
	start := time.Now()
	bookings, err := opts.workload.Run(ctx, svc)
	if err != nil {
		return fmt.Errorf("%s allocator: %w", name, err)
	}
	elapsed := time.Since(start)

	var booked, cancelled, rejected int
	for _, b := range bookings {
		switch {
		case b.Rejected:
			rejected++
			if opts.verbose {
				fmt.Fprintf(out, "Rejected %s\n", b.OrderID)
			}
		case b.Cancelled:
			cancelled++
			if opts.verbose {
				fmt.Fprintf(out, "Cancelled %s\n", strings.Join(b.Seats, ","))
			}
		default:
			booked++
			if opts.verbose {
				fmt.Fprintf(out, "Booked %s\n", strings.Join(b.Seats, ","))
			}
		}
	}

	fmt.Fprintf(out, "%-10s %5d booked  %5d cancelled  %5d rejected  %5d seats held  %v\n",
		name, booked, cancelled, rejected, len(seats.Held(bookings)), elapsed.Round(time.Microsecond))
	return nil
}
