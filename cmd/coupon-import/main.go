// Command coupon-import bulk-loads coupons from CSV files into the catalog.
//
// Files are parsed concurrently. Codes already in the database are loaded
// into a bloom filter first: rows the filter has never seen are new for
// certain and go through COPY in batches, the rest are inserted one by one
// and conflicts are counted as skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 50_000
)

type options struct {
	databaseURL   string
	dir           string
	actor         string
	batchSize     int
	bloomCapacity uint
	files         []string
}

// stats summarizes an import run.
type stats struct {
	inserted int64
	skipped  int
	invalid  int
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.dir, "dir", "", "import every *.csv and *.csv.gz file in this directory")
	flag.StringVar(&opts.actor, "actor", "system", "actor id recorded in the system log")
	flag.IntVar(&opts.batchSize, "batch", 5000, "rows per COPY batch")
	flag.UintVar(&opts.bloomCapacity, "bloom-capacity", 10_000_000, "expected number of existing coupon codes")
	flag.Parse()
	opts.files = flag.Args()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	files, err := collectFiles(opts)
	if err != nil {
		return err
	}
	if opts.batchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", opts.batchSize)
	}

	now := time.Now().UTC()
	var st stats
	bad := make(chan error, 64)
	badDone := make(chan struct{})
	go func() {
		defer close(badDone)
		for err := range bad {
			st.invalid++
			slog.Warn("skipping row", slog.String("error", err.Error()))
		}
	}()

	slog.Info("parsing files", slog.Int("files", len(files)))
	parsed, err := parseFiles(ctx, files, now, func(err error) { bad <- err })
	close(bad)
	<-badDone
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	db := postgres.New(pool)
	repo := postgres.NewCouponRepository(db)

	known := bloom.NewWithEstimates(opts.bloomCapacity, bloomFPR)
	var existing int
	if err := repo.EachCode(ctx, func(code string) {
		known.AddString(code)
		existing++
	}); err != nil {
		return errors.Wrap(err, "load existing codes")
	}
	slog.Info("existing codes loaded", slog.Int("count", existing))

	fresh, maybe, dups := split(parsed, known)
	st.skipped += dups
	slog.Info("import plan",
		slog.Int("new", len(fresh)),
		slog.Int("possibly_existing", len(maybe)),
		slog.Int("duplicate_in_input", dups),
	)

	if err := copyFresh(ctx, db, repo, fresh, opts.batchSize, &st); err != nil {
		return err
	}
	for _, c := range maybe {
		if err := insertOne(ctx, repo, c, &st); err != nil {
			return err
		}
	}

	err = db.InTx(ctx, func(ctx context.Context) error {
		return postgres.NewAuditRepository(db).Record(ctx, audit.Entry{
			Action:     "coupon.import",
			ActorID:    opts.actor,
			EntityType: audit.EntityCoupon,
			Details:    fmt.Sprintf("inserted=%d skipped=%d invalid=%d files=%d", st.inserted, st.skipped, st.invalid, len(files)),
		})
	})
	if err != nil {
		return errors.Wrap(err, "record import")
	}

	slog.Info("coupon import completed",
		slog.Int64("inserted", st.inserted),
		slog.Int("skipped", st.skipped),
		slog.Int("invalid", st.invalid),
	)
	return nil
}

func collectFiles(opts options) ([]string, error) {
	files := append([]string(nil), opts.files...)
	if opts.dir != "" {
		for _, pattern := range []string{"*.csv", "*.csv.gz"} {
			matches, err := filepath.Glob(filepath.Join(opts.dir, pattern))
			if err != nil {
				return nil, errors.Wrapf(err, "glob %s", pattern)
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no input files: pass paths or --dir")
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}
	return files, nil
}

// parseFiles decodes files concurrently. The result keeps file order so
// the first occurrence of a code wins deterministically.
func parseFiles(ctx context.Context, files []string, now time.Time, bad func(error)) ([][]*coupon.Coupon, error) {
	out := make([][]*coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			coupons, err := readFile(ctx, path, now, bad)
			if err != nil {
				return err
			}
			slog.Info("file parsed", slog.String("file", path), slog.Int("coupons", len(coupons)))
			out[i] = coupons
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// split drops repeated codes and partitions the rest by the bloom filter of
// stored codes. A negative filter answer is exact, so fresh codes can be
// copied without conflict checks.
func split(parsed [][]*coupon.Coupon, known *bloom.BloomFilter) (fresh, maybe []*coupon.Coupon, dups int) {
	seen := make(map[string]struct{})
	for _, coupons := range parsed {
		for _, c := range coupons {
			if _, ok := seen[c.Code]; ok {
				dups++
				continue
			}
			seen[c.Code] = struct{}{}
			if known.TestString(c.Code) {
				maybe = append(maybe, c)
			} else {
				fresh = append(fresh, c)
			}
		}
	}
	return fresh, maybe, dups
}

// copyFresh COPYs coupons in batches. A batch that still hits a conflict,
// for example a code created concurrently, is retried row by row.
func copyFresh(ctx context.Context, db *postgres.DB, repo *postgres.CouponRepository, fresh []*coupon.Coupon, size int, st *stats) error {
	for start := 0; start < len(fresh); start += size {
		batch := fresh[start:min(start+size, len(fresh))]
		rows := make([]coupon.Coupon, len(batch))
		for i, c := range batch {
			rows[i] = *c
		}

		var n int64
		err := db.InTx(ctx, func(ctx context.Context) error {
			var err error
			n, err = repo.CopyFrom(ctx, rows)
			return err
		})
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Warn("batch conflict, inserting row by row", slog.Int("offset", start))
			for _, c := range batch {
				if err := insertOne(ctx, repo, c, st); err != nil {
					return err
				}
			}
		case err != nil:
			return errors.Wrapf(err, "copy batch at %d", start)
		default:
			before := st.inserted
			st.inserted += n
			if before/progressEvery != st.inserted/progressEvery {
				slog.Info("copy progress", slog.Int64("inserted", st.inserted), slog.Int("total", len(fresh)))
			}
		}
	}
	return nil
}

func insertOne(ctx context.Context, repo *postgres.CouponRepository, c *coupon.Coupon, st *stats) error {
	err := repo.Create(ctx, c)
	switch {
	case errors.Is(err, coupon.ErrDuplicateCode):
		st.skipped++
		return nil
	case err != nil:
		return errors.Wrapf(err, "insert coupon %s", c.Code)
	}
	st.inserted++
	return nil
}
