package contracts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(t time.Time, o, h, l, c float64, v int64) OHLCV {
	return OHLCV{
		Timestamp: t,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    v,
	}
}

func TestOHLCVValidate(t *testing.T) {
	now := time.Now().UTC()

	require.NoError(t, bar(now, 10, 12, 9, 11, 100).Validate())

	err := bar(now, 10, 12, 13, 11, 100).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low")

	err = bar(now, 10, 9, 8, 11, 100).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high")

	err = bar(now, -1, 12, 9, 11, 100).Validate()
	require.Error(t, err)
}

func TestValidateSeriesRejectsNonMonotonic(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []OHLCV{
		bar(t0, 10, 12, 9, 11, 100),
		bar(t0, 10, 12, 9, 11, 100),
	}

	err := ValidateSeries(series)
	require.Error(t, err)
}

func TestValidateSeriesAcceptsIncreasing(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []OHLCV{
		bar(t0, 10, 12, 9, 11, 100),
		bar(t0.Add(time.Minute), 11, 13, 10, 12, 200),
	}

	require.NoError(t, ValidateSeries(series))
}
