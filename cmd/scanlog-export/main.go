// Command scanlog-export dumps the scan log as gzip compressed JSON lines,
// one file per coupon status.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/carrykaro/coupon-service/internal/domain/coupon"
	"github.com/carrykaro/coupon-service/internal/storage/postgres"
	"github.com/carrykaro/coupon-service/internal/storage/sqlite"
	"github.com/carrykaro/coupon-service/internal/wire"
)

var statuses = []coupon.Status{
	coupon.StatusPending,
	coupon.StatusApproved,
	coupon.StatusRejected,
	coupon.StatusUsed,
}

// source is the read side of the coupon store.
type source interface {
	List(ctx context.Context) ([]coupon.Coupon, error)
	ScanLog(ctx context.Context, couponID int64) ([]coupon.ScanEntry, error)
}

func main() {
	var (
		driver      string
		databaseURL string
		sqlitePath  string
		outDir      string
	)

	flag.StringVar(&driver, "driver", "postgres", "store driver: postgres or sqlite")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&sqlitePath, "sqlite-path", "coupons.db", "SQLite database file")
	flag.StringVar(&outDir, "out", "export", "directory for the scans-<status>.jsonl.gz files")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if driver == "postgres" && databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, driver, databaseURL, sqlitePath, outDir); err != nil {
		slog.Error("scan log export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("scan log export completed successfully")
}

func run(ctx context.Context, driver, databaseURL, sqlitePath, outDir string) error {
	var src source
	switch driver {
	case "sqlite":
		conn, err := sqlite.Open(ctx, sqlitePath)
		if err != nil {
			return errors.Wrap(err, "open sqlite")
		}
		defer func() { _ = conn.Close() }()
		src = sqlite.NewCouponRepository(conn)
	case "postgres":
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		src = postgres.NewCouponRepository(pool)
	default:
		return errors.Errorf("unknown driver %q", driver)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}

	counts, err := export(ctx, src, outDir)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		slog.Info("exported", slog.String("status", st.String()), slog.Int("scans", counts[st]))
	}
	return nil
}

// exportPath is the output file of one status.
func exportPath(dir string, st coupon.Status) string {
	return filepath.Join(dir, fmt.Sprintf("scans-%s.jsonl.gz", st))
}

// export writes the scans of every coupon into the file of the coupon's
// status, one file per status concurrently. It returns the number of scans
// written per status.
func export(ctx context.Context, src source, dir string) (map[coupon.Status]int, error) {
	list, err := src.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	byStatus := make(map[coupon.Status][]coupon.Coupon, len(statuses))
	for _, c := range list {
		byStatus[c.Status] = append(byStatus[c.Status], c)
	}
	slog.Info("exporting scan log", slog.Int("coupons", len(list)))

	counts := make([]int, len(statuses))
	g, ctx := errgroup.WithContext(ctx)
	for i, st := range statuses {
		g.Go(func() error {
			n, err := exportStatus(ctx, src, exportPath(dir, st), byStatus[st])
			if err != nil {
				return errors.Wrapf(err, "export %s", st)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[coupon.Status]int, len(statuses))
	for i, st := range statuses {
		out[st] = counts[i]
	}
	return out, nil
}

func exportStatus(ctx context.Context, src source, path string, coupons []coupon.Coupon) (_ int, rerr error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrapf(err, "close %s", path)
		}
	}()

	gz := pgzip.NewWriter(f)
	buf := bufio.NewWriter(gz)

	var (
		e jx.Encoder
		n int
	)
	for i := range coupons {
		c := &coupons[i]
		entries, err := src.ScanLog(ctx, c.ID)
		if err != nil {
			return n, errors.Wrapf(err, "scan log of %s", c.Code)
		}
		for j := range entries {
			e.Reset()
			wire.ExportRecord(&e, c.Code, c.Status, &entries[j])
			if _, err := buf.Write(e.Bytes()); err != nil {
				return n, errors.Wrap(err, "write record")
			}
			if err := buf.WriteByte('\n'); err != nil {
				return n, errors.Wrap(err, "write record")
			}
			n++
		}
	}

	if err := buf.Flush(); err != nil {
		return n, errors.Wrap(err, "flush")
	}
	if err := gz.Close(); err != nil {
		return n, errors.Wrap(err, "close gzip")
	}
	return n, nil
}
