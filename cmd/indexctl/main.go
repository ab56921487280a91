package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/priceindex"
	"github.com/kirillkom/promo-price-index/internal/core/usecase"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/dataset"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/promo-price-index/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "indexctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	datasetPath string
	period      string
	cities      string
	asOf        string
	concurrency int
	seedDSN     string
	logLevel    string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("indexctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.datasetPath, "dataset", "", "path to the YAML dataset (required)")
	fs.StringVar(&opts.period, "period", "", "month to compute, YYYY-MM (defaults to the month of -as-of)")
	fs.StringVar(&opts.cities, "cities", "", "comma-separated cities (defaults to every city in the dataset)")
	fs.StringVar(&opts.asOf, "as-of", "", "evaluation date, YYYY-MM-DD (defaults to today)")
	fs.IntVar(&opts.concurrency, "concurrency", usecase.DefaultBatchConcurrency, "cities computed in parallel")
	fs.StringVar(&opts.seedDSN, "seed-postgres", "", "load the dataset into this Postgres DSN instead of computing")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(opts.datasetPath) == "" {
		return options{}, errors.New("-dataset is required")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewJSONLoggerTo(stderr, "indexctl", opts.logLevel))

	ds, err := dataset.Load(opts.datasetPath)
	if err != nil {
		return err
	}

	if opts.seedDSN != "" {
		return seed(ctx, ds, opts.seedDSN, stdout)
	}
	return compute(ctx, ds, opts, stdout)
}

func compute(ctx context.Context, ds *dataset.Dataset, opts options, stdout io.Writer) error {
	now := time.Now().UTC()
	if opts.asOf != "" {
		parsed, err := time.Parse(time.DateOnly, opts.asOf)
		if err != nil {
			return fmt.Errorf("invalid -as-of %q: %w", opts.asOf, err)
		}
		// end of the evaluation day
		now = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	period := domain.PeriodOf(now)
	if opts.period != "" {
		parsed, err := domain.ParsePeriod(opts.period)
		if err != nil {
			return fmt.Errorf("invalid -period %q: %w", opts.period, err)
		}
		period = parsed
	}

	cities := ds.Cities()
	if opts.cities != "" {
		cities = strings.Split(opts.cities, ",")
	}

	engine := priceindex.NewEngine(priceindex.DefaultWeights.Merge(ds.Weights()))
	uc := usecase.NewComputeIndexUseCase(ds, ds, ds, engine, opts.concurrency).
		WithClock(func() time.Time { return now })

	outcomes, err := uc.ComputeBatch(ctx, cities, period)
	if err != nil {
		return err
	}
	for _, outcome := range outcomes {
		if outcome.Error != "" {
			slog.Warn("index_failed", "city", outcome.City, "period", period.String(), "error", outcome.Error)
		}
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(outcomes)
}

func seed(ctx context.Context, ds *dataset.Dataset, dsn string, stdout io.Writer) error {
	db, err := postgres.OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	snapshots := postgres.NewSnapshotRepository(db)
	if err := snapshots.SaveStores(ctx, ds.Stores()); err != nil {
		return err
	}
	if err := postgres.NewProductRepository(db).SaveProducts(ctx, ds.Products()); err != nil {
		return err
	}
	if err := snapshots.SaveSnapshots(ctx, ds.Snapshots()); err != nil {
		return err
	}

	results := postgres.NewIndexRepository(db)
	history := ds.Results()
	for _, result := range history {
		stored := *result
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.ComputedAt.IsZero() {
			if period, err := domain.ParsePeriod(stored.Period); err == nil {
				stored.ComputedAt = period.End()
			}
		}
		if err := results.SaveIndexResult(ctx, &stored); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(stdout, "seeded %d stores, %d products, %d snapshots, %d index results\n",
		len(ds.Stores()), len(ds.Products()), len(ds.Snapshots()), len(history))
	return err
}
