// Command coupon-import bulk loads branch coupons from gzip compressed CSV
// exports. When the same code appears for a branch in several files, the
// earliest file on the command line wins.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/foodorder/internal/repository"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		capacity    uint
		batchSize   int
	)

	flag.StringVar(&dataDir, "data-dir", "", "directory with *.csv.gz exports, used when no files are given")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "bloom-capacity", 10_000_000, "expected coupons per file")
	flag.IntVar(&batchSize, "batch-size", 1000, "coupons per upsert batch")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 && dataDir != "" {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("list data dir", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sort.Strings(matches)
		files = matches
	}
	if len(files) == 0 {
		slog.Error("no input files: pass them as arguments or set --data-dir")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, capacity, batchSize); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, capacity uint, batchSize int) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	applied, err := repository.RunMigrations(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	if len(applied) > 0 {
		slog.Info("applied migrations", slog.Any("versions", applied))
	}

	imp := &importer{
		files:     files,
		capacity:  capacity,
		batchSize: batchSize,
		store:     repository.NewCouponRepository(pool),
	}
	stats, err := imp.Run(ctx)
	if err != nil {
		return err
	}

	slog.Info("coupons imported",
		slog.Int64("written", stats.Written),
		slog.Int64("duplicates", stats.Duplicates),
		slog.Int64("invalid", stats.Invalid),
	)
	return nil
}
