package main

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

type fakeSource struct {
	coupons []coupon.Coupon
	scans   map[int64][]coupon.ScanEntry
	err     error
}

func (f *fakeSource) List(context.Context) ([]coupon.Coupon, error) {
	return f.coupons, nil
}

func (f *fakeSource) ScanLog(_ context.Context, id int64) ([]coupon.ScanEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scans[id], nil
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	require.NoError(t, err)
	defer func() { _ = gz.Close() }()

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestExport(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		coupons: []coupon.Coupon{
			{ID: 1, Code: "OFF10-AAAAAA", Status: coupon.StatusApproved},
			{ID: 2, Code: "OFF20-BBBBBB", Status: coupon.StatusUsed},
			{ID: 3, Code: "OFF30-CCCCCC", Status: coupon.StatusApproved},
		},
		scans: map[int64][]coupon.ScanEntry{
			1: {
				{ID: 1, CouponID: 1, UserAgent: "a", SourceAddress: "10.0.0.1", ScannedAt: at},
				{ID: 2, CouponID: 1, UserAgent: "b", SourceAddress: "10.0.0.2", ScannedAt: at},
			},
			2: {{ID: 3, CouponID: 2, UserAgent: "c", SourceAddress: "10.0.0.3", ScannedAt: at}},
		},
	}
	dir := t.TempDir()

	counts, err := export(context.Background(), src, dir)
	require.NoError(t, err)
	assert.Equal(t, map[coupon.Status]int{
		coupon.StatusPending:  0,
		coupon.StatusApproved: 2,
		coupon.StatusRejected: 0,
		coupon.StatusUsed:     1,
	}, counts)

	approved := readLines(t, exportPath(dir, coupon.StatusApproved))
	require.Len(t, approved, 2)
	assert.JSONEq(t, `{
		"code": "OFF10-AAAAAA", "status": "approved",
		"scan": {"id": 1, "coupon_id": 1, "user_agent": "a", "source_address": "10.0.0.1", "scanned_at": "2024-01-01T00:00:00Z"}
	}`, approved[0])

	used := readLines(t, exportPath(dir, coupon.StatusUsed))
	require.Len(t, used, 1)
	assert.Contains(t, used[0], `"code":"OFF20-BBBBBB"`)

	assert.Empty(t, readLines(t, exportPath(dir, coupon.StatusPending)))
}

func TestExport_SourceError(t *testing.T) {
	src := &fakeSource{
		coupons: []coupon.Coupon{{ID: 1, Code: "OFF10-AAAAAA", Status: coupon.StatusUsed}},
		err:     errors.New("connection reset"),
	}
	_, err := export(context.Background(), src, t.TempDir())
	require.ErrorContains(t, err, "connection reset")
}
