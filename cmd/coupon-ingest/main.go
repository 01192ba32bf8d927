// Command coupon-ingest imports promotional coupon codes from gzip-compressed
// code dumps. A code is accepted when it appears in at least -min-files of
// the dumps; membership is tested with one bloom filter per file.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/repository"
)

const (
	bloomFPR      = 0.001
	maxFiles      = 64
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	batchSize     = 1000
)

// codeRule describes the discount rule to apply for a known coupon code.
type codeRule struct {
	discountType coupon.DiscountType
	value        string
	minPurchase  string
	maxDiscount  string
	description  string
}

var codeRules = map[string]codeRule{
	"BIRTHDAY": {discountType: coupon.DiscountPercentage, value: "20", maxDiscount: "1000", description: "Birthday: 20% off"},
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: "50", maxDiscount: "2000", description: "50% off entire order"},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: "60", maxDiscount: "2500", description: "60% off entire order"},
	"FESTIVE5": {discountType: coupon.DiscountFixed, value: "500", minPurchase: "2999", description: "500 off orders above 2999"},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: "18", description: "Happy Hours: 18% off"},
}

var defaultRule = codeRule{
	discountType: coupon.DiscountPercentage,
	value:        "10",
	description:  "Valid promo code: 10% off",
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint64
}

func main() {
	var (
		dataDir     string
		pattern     string
		minFiles    int
		capacity    uint
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing coupon dumps")
	flag.StringVar(&pattern, "pattern", "couponbase*.gz", "glob of coupon dump files inside data-dir")
	flag.IntVar(&minFiles, "min-files", 2, "number of files a code must appear in to be accepted")
	flag.UintVar(&capacity, "expected-codes", 120_000_000, "expected number of codes per file (bloom filter sizing)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, minFiles, capacity, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, pattern string, minFiles int, capacity uint, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "match coupon files")
	}
	switch {
	case len(files) == 0:
		return errors.Errorf("no files match %s in %s", pattern, dataDir)
	case len(files) > maxFiles:
		return errors.Errorf("at most %d files are supported, got %d", maxFiles, len(files))
	case minFiles < 1 || minFiles > len(files):
		return errors.Errorf("min-files must be between 1 and %d", len(files))
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, capacity)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Find candidate codes appearing in enough files.
	slog.Info("pass 2: finding candidate codes", slog.Int("min_files", minFiles))

	validCodes, err := findValidCodes(ctx, files, filters, minFiles)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	// Write valid codes to database.
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, repository.NewCouponRepository(pool), validCodes); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, capacity, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, capacity uint, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(capacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) >= minCodeLen && len(code) <= maxCodeLen {
				filter.AddString(coupon.NormalizeCode(code))
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("file", idx+1),
						slog.Uint64("codes", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each file and records, per code, the set of files
// whose bloom filter contains it. A code is valid if that set has at least
// minFiles members.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, minFiles int) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, minFiles, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all files.
	merged := make(map[string]uint64)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= minFiles {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	minFiles int,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint64)
		fileBit := uint64(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("codes", count),
				)
			}

			code = coupon.NormalizeCode(code)
			mask := fileBit
			for j, f := range filters {
				if j != idx && f.TestString(code) {
					mask |= uint64(1) << uint(j)
				}
			}
			if bits.OnesCount64(mask) >= minFiles {
				candidates[code] |= mask
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCoupons upserts all valid coupon codes into the database in batches.
func writeCoupons(ctx context.Context, coupons *repository.CouponRepository, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	batch := make([]coupon.Rule, 0, batchSize)
	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := coupons.Upsert(ctx, batch)
		if err != nil {
			return err
		}
		written += n
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(codes)))
		batch = batch[:0]
		return nil
	}

	for _, code := range codes {
		rule, err := ruleFor(code)
		if err != nil {
			return err
		}
		batch = append(batch, rule)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return errors.Wrap(err, "upsert coupon batch")
			}
		}
	}
	if err := flush(); err != nil {
		return errors.Wrap(err, "upsert coupon batch")
	}
	return nil
}

// ruleFor builds the coupon definition of an accepted code.
func ruleFor(code string) (coupon.Rule, error) {
	r, ok := codeRules[code]
	if !ok {
		r = defaultRule
	}

	rule := coupon.Rule{
		Code:         code,
		Description:  r.description,
		DiscountType: r.discountType,
		Active:       true,
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&rule.Value, r.value},
		{&rule.MinPurchase, r.minPurchase},
		{&rule.MaxDiscount, r.maxDiscount},
	} {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return coupon.Rule{}, errors.Wrapf(err, "parse decimal for code %s", code)
		}
		*f.dst = v
	}
	return rule, nil
}
