package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPrices(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mk := func(values ...float64) []Price {
		var prices []Price
		for i, v := range values {
			ts := start.Add(time.Duration(i) * time.Hour)
			prices = append(prices, Price{TSStart: ts, TSEnd: ts.Add(time.Hour), DollarsPerKWH: v})
		}
		return prices
	}

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, ClassifyPrices(nil))
	})

	t.Run("flat prices are normal", func(t *testing.T) {
		for _, p := range ClassifyPrices(mk(0.1, 0.1, 0.1)) {
			assert.Equal(t, PriceLevelNormal, p.Level)
		}
	})

	t.Run("negative mean", func(t *testing.T) {
		prices := ClassifyPrices(mk(-0.05, 0.01))
		assert.Equal(t, PriceLevelCheap, prices[0].Level)
		assert.Equal(t, PriceLevelNormal, prices[1].Level)
	})

	t.Run("spread", func(t *testing.T) {
		prices := ClassifyPrices(mk(0.01, 0.05, 0.10, 0.15, 0.20, 0.25, 0.30, 0.35, 0.40, 0.50))
		assert.Equal(t, PriceLevelVeryCheap, prices[0].Level)
		assert.Equal(t, PriceLevelVeryExpensive, prices[9].Level)
		assert.Equal(t, PriceLevelCheap, prices[4].Level)
		assert.Equal(t, PriceLevelNormal, prices[5].Level)
	})

	t.Run("grid additional counted", func(t *testing.T) {
		prices := mk(0.10, 0.10)
		prices[1].GridAddlDollarsPerKWH = 0.05
		prices = ClassifyPrices(prices)
		assert.Equal(t, PriceLevelCheap, prices[0].Level)
		assert.Equal(t, PriceLevelExpensive, prices[1].Level)
	})
}

func TestPriceContains(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	p := Price{TSStart: start, TSEnd: start.Add(time.Hour)}
	assert.True(t, p.Contains(start))
	assert.True(t, p.Contains(start.Add(59*time.Minute)))
	assert.False(t, p.Contains(start.Add(time.Hour)))
	assert.False(t, p.Contains(start.Add(-time.Second)))
}
