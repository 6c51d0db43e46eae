package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/foodorder/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	numColumns    = 6
)

var hundred = decimal.NewFromInt(100)

type couponStore interface {
	Upsert(ctx context.Context, coupons []coupon.Coupon) (int64, error)
}

// Stats summarizes an import.
type Stats struct {
	Written    int64
	Duplicates int64
	Invalid    int64
}

// importer runs two passes over the files. Pass 1 builds one bloom filter of
// coupon keys per file. Pass 2 writes every row no earlier file may contain,
// and holds back the rest. Rows whose key may appear in a later file are
// remembered exactly, so held rows are only dropped on a real match.
type importer struct {
	files     []string
	capacity  uint
	batchSize int
	store     couponStore

	written    atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
}

// fileResult is the pass 2 outcome of one file.
type fileResult struct {
	held    []coupon.Coupon
	claimed map[string]struct{}
}

func (imp *importer) Run(ctx context.Context) (Stats, error) {
	if imp.batchSize <= 0 {
		imp.batchSize = 1000
	}
	if imp.capacity == 0 {
		imp.capacity = 1_000_000
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(imp.files)))
	filters, err := imp.buildFilters(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: writing coupons")
	results, err := imp.writeFiles(ctx, filters)
	if err != nil {
		return Stats{}, errors.Wrap(err, "write coupons")
	}

	if err := imp.writeHeld(ctx, results); err != nil {
		return Stats{}, errors.Wrap(err, "write held coupons")
	}

	return Stats{
		Written:    imp.written.Load(),
		Duplicates: imp.duplicates.Load(),
		Invalid:    imp.invalid.Load(),
	}, nil
}

func (imp *importer) buildFilters(ctx context.Context) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(imp.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range imp.files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(imp.capacity, bloomFPR)
			var count uint64
			if err := streamCoupons(ctx, path, func(c coupon.Coupon) {
				filter.AddString(key(c))
				count++
			}, nil); err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("coupons", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func (imp *importer) writeFiles(ctx context.Context, filters []*bloom.BloomFilter) ([]fileResult, error) {
	results := make([]fileResult, len(imp.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range imp.files {
		g.Go(func() error {
			res := fileResult{claimed: make(map[string]struct{})}
			batch := make([]coupon.Coupon, 0, imp.batchSize)
			var (
				count    uint64
				flushErr error
			)

			err := streamCoupons(ctx, path, func(c coupon.Coupon) {
				if flushErr != nil {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("file", i+1), slog.Uint64("coupons", count))
				}

				k := key(c)
				if anyContains(filters[i+1:], k) {
					res.claimed[k] = struct{}{}
				}
				if anyContains(filters[:i], k) {
					res.held = append(res.held, c)
					return
				}
				batch = append(batch, c)
				if len(batch) == imp.batchSize {
					flushErr = imp.flush(ctx, batch)
					batch = batch[:0]
				}
			}, func(line int, err error) {
				imp.invalid.Add(1)
				slog.Warn("skipping invalid row",
					slog.Int("file", i+1),
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
			})
			if err == nil {
				err = flushErr
			}
			if err == nil {
				err = imp.flush(ctx, batch)
			}
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Uint64("coupons", count),
				slog.Int("held", len(res.held)),
			)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// writeHeld writes held rows that no earlier file actually contains.
func (imp *importer) writeHeld(ctx context.Context, results []fileResult) error {
	batch := make([]coupon.Coupon, 0, imp.batchSize)
	for i, res := range results {
		for _, c := range res.held {
			if claimedBefore(results[:i], key(c)) {
				imp.duplicates.Add(1)
				continue
			}
			batch = append(batch, c)
			if len(batch) == imp.batchSize {
				if err := imp.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
	return imp.flush(ctx, batch)
}

func (imp *importer) flush(ctx context.Context, batch []coupon.Coupon) error {
	if len(batch) == 0 {
		return nil
	}
	n, err := imp.store.Upsert(ctx, batch)
	imp.written.Add(n)
	return err
}

func anyContains(filters []*bloom.BloomFilter, k string) bool {
	for _, f := range filters {
		if f.TestString(k) {
			return true
		}
	}
	return false
}

func claimedBefore(results []fileResult, k string) bool {
	for _, r := range results {
		if _, ok := r.claimed[k]; ok {
			return true
		}
	}
	return false
}

// key identifies a coupon the way the unique index does.
func key(c coupon.Coupon) string {
	return strconv.FormatInt(c.BranchID, 10) + ":" + strings.ToUpper(c.Code)
}

// streamCoupons calls fn for each valid row of a gzip CSV file and invalid,
// when set, for each rejected one. A leading header row is skipped.
func streamCoupons(ctx context.Context, path string, fn func(coupon.Coupon), invalid func(line int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return readCoupons(ctx, gz, fn, invalid)
}

func readCoupons(ctx context.Context, r io.Reader, fn func(coupon.Coupon), invalid func(line int, err error)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return errors.Wrap(err, "read csv")
			}
			if invalid != nil {
				invalid(line, err)
			}
			continue
		}
		if line == 1 && strings.EqualFold(rec[0], "code") {
			continue
		}

		c, err := parseRecord(rec)
		if err != nil {
			if invalid != nil {
				invalid(line, err)
			}
			continue
		}
		fn(c)
	}
}

// parseRecord parses code,branch_id,percent,active_from,active_to,enabled.
func parseRecord(rec []string) (coupon.Coupon, error) {
	if len(rec) != numColumns {
		return coupon.Coupon{}, errors.Errorf("expected %d columns, got %d", numColumns, len(rec))
	}

	code := strings.TrimSpace(rec[0])
	if code == "" {
		return coupon.Coupon{}, errors.New("empty code")
	}
	branchID, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil || branchID <= 0 {
		return coupon.Coupon{}, errors.Errorf("invalid branch id %q", rec[1])
	}
	percent, err := decimal.NewFromString(rec[2])
	if err != nil || !percent.IsPositive() || percent.GreaterThan(hundred) {
		return coupon.Coupon{}, errors.Errorf("invalid percent %q", rec[2])
	}
	from, err := time.Parse(time.RFC3339, rec[3])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "active_from")
	}
	to, err := time.Parse(time.RFC3339, rec[4])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "active_to")
	}
	if !to.After(from) {
		return coupon.Coupon{}, errors.New("active_to must be after active_from")
	}
	enabled, err := strconv.ParseBool(rec[5])
	if err != nil {
		return coupon.Coupon{}, errors.Errorf("invalid enabled %q", rec[5])
	}

	return coupon.Coupon{
		Code:            code,
		BranchID:        branchID,
		DiscountPercent: percent,
		ActiveFrom:      from,
		ActiveTo:        to,
		Enabled:         enabled,
	}, nil
}
