package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func TestFindValidCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "couponbase1.gz", "HAPPYHRS", "ONLYFILE1", "INTWOFILE", "short", "waytoolongcode"),
		writeGz(t, dir, "couponbase2.gz", "happyhrs", "INTWOFILE", "ONLYFILE2"),
		writeGz(t, dir, "couponbase3.gz", "HAPPYHRS", "ONLYFILE3"),
	}
	ctx := context.Background()

	filters, err := buildBloomFilters(ctx, files, 1000)
	require.NoError(t, err)
	require.Len(t, filters, 3)

	tests := []struct {
		minFiles int
		want     []string
	}{
		{minFiles: 3, want: []string{"HAPPYHRS"}},
		{minFiles: 2, want: []string{"HAPPYHRS", "INTWOFILE"}},
		{minFiles: 1, want: []string{"HAPPYHRS", "INTWOFILE", "ONLYFILE1", "ONLYFILE2", "ONLYFILE3"}},
	}
	for _, tt := range tests {
		got, err := findValidCodes(ctx, files, filters, tt.minFiles)
		require.NoError(t, err)
		sort.Strings(got)
		assert.Equal(t, tt.want, got, "min files %d", tt.minFiles)
	}
}

func TestStreamGzFile_Cancelled(t *testing.T) {
	path := writeGz(t, t.TempDir(), "c.gz", "AAAAAAAA", "BBBBBBBB")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := streamGzFile(ctx, path, func(string) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuleFor(t *testing.T) {
	known, err := ruleFor("FESTIVE5")
	require.NoError(t, err)
	assert.Equal(t, coupon.DiscountFixed, known.DiscountType)
	assert.True(t, known.Value.Equal(decimal.NewFromInt(500)))
	assert.True(t, known.MinPurchase.Equal(decimal.NewFromInt(2999)))
	assert.True(t, known.Active)
	require.NoError(t, known.Validate())

	fallback, err := ruleFor("ZZZZZZZZ")
	require.NoError(t, err)
	assert.Equal(t, coupon.DiscountPercentage, fallback.DiscountType)
	assert.True(t, fallback.Value.Equal(decimal.NewFromInt(10)))
	assert.True(t, fallback.MaxDiscount.IsZero())
	require.NoError(t, fallback.Validate())
}
