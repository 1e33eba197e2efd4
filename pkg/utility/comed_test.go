package utility

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// comedFeed returns count 5-minute entries ending after hourStart, all at
// cents.
func comedFeed(hourStart time.Time, count int, cents float64) []string {
	var entries []string
	for i := 1; i <= count; i++ {
		ts := hourStart.Add(time.Duration(i) * 5 * time.Minute)
		entries = append(entries, fmt.Sprintf(`{"millisUTC":"%d","price":"%.1f"}`, ts.UnixMilli(), cents))
	}
	return entries
}

func comedServer(t *testing.T, requests *int, entries ...[]string) *httptest.Server {
	var all []string
	for _, e := range entries {
		all = append(all, e...)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests++
		assert.Equal(t, "5minutefeed", r.URL.Query().Get("type"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[" + strings.Join(all, ",") + "]"))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestComEd(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2024, 1, 25, 18, 0, 0, 0, ctLocation)

	newComEd := func(url string, client *http.Client, now time.Time) *ComEd {
		return &ComEd{
			apiURL: url,
			client: client,
			now:    func() time.Time { return now },
		}
	}

	t.Run("Current Price Is The Hourly Average", func(t *testing.T) {
		var requests int
		ts := comedServer(t, &requests, []string{
			fmt.Sprintf(`{"millisUTC":"%d","price":"2.0"}`, hour.Add(5*time.Minute).UnixMilli()),
			fmt.Sprintf(`{"millisUTC":"%d","price":"3.0"}`, hour.Add(10*time.Minute).UnixMilli()),
		})
		c := newComEd(ts.URL, ts.Client(), hour.Add(11*time.Minute))

		price, err := c.GetCurrentPrice(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.025, price.DollarsPerKWH, 1e-9)
		assert.True(t, price.TSStart.Equal(hour))
		assert.Equal(t, 2, price.SampleCount)
		assert.Equal(t, ProviderComEd, price.Provider)
	})

	t.Run("Caching", func(t *testing.T) {
		var requests int
		ts := comedServer(t, &requests, comedFeed(hour, 2, 2.0))
		now := hour.Add(11 * time.Minute)
		c := &ComEd{apiURL: ts.URL, client: ts.Client(), now: func() time.Time { return now }}

		_, err := c.recentPrices(ctx)
		require.NoError(t, err)
		_, err = c.recentPrices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, requests, "expected cached response")

		now = now.Add(5 * time.Minute)
		_, err = c.recentPrices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, requests, "new 5 minute block fetches again")
	})

	t.Run("Confirmed Prices Need A Complete Past Hour", func(t *testing.T) {
		var requests int
		ts := comedServer(t, &requests,
			comedFeed(hour.Add(-time.Hour), 11, 9.0),
			comedFeed(hour, 12, 4.0),
			comedFeed(hour.Add(time.Hour), 3, 6.0),
		)
		c := newComEd(ts.URL, ts.Client(), hour.Add(time.Hour+20*time.Minute))

		prices, err := c.GetConfirmedPrices(ctx, hour.Add(-time.Hour), hour.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, prices, 1)
		assert.True(t, prices[0].TSStart.Equal(hour))
		assert.True(t, prices[0].TSEnd.Equal(hour.Add(time.Hour)))
		assert.InDelta(t, 0.04, prices[0].DollarsPerKWH, 1e-9)
	})

	t.Run("Bad Responses", func(t *testing.T) {
		status := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer status.Close()
		c := newComEd(status.URL, status.Client(), hour)
		_, err := c.GetCurrentPrice(ctx)
		assert.ErrorContains(t, err, "status: 502")

		garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer garbage.Close()
		c = newComEd(garbage.URL, garbage.Client(), hour)
		_, err = c.GetCurrentPrice(ctx)
		assert.ErrorContains(t, err, "failed to decode")

		empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("[]"))
		}))
		defer empty.Close()
		c = newComEd(empty.URL, empty.Client(), hour)
		_, err = c.GetCurrentPrice(ctx)
		assert.ErrorContains(t, err, "no prices")
	})

	t.Run("Skips Unparseable Entries", func(t *testing.T) {
		var requests int
		ts := comedServer(t, &requests, []string{
			`{"millisUTC":"soon","price":"2.0"}`,
			fmt.Sprintf(`{"millisUTC":"%d","price":"free"}`, hour.Add(5*time.Minute).UnixMilli()),
			fmt.Sprintf(`{"millisUTC":"%d","price":"5.0"}`, hour.Add(10*time.Minute).UnixMilli()),
		})
		c := newComEd(ts.URL, ts.Client(), hour.Add(11*time.Minute))
		price, err := c.GetCurrentPrice(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, price.SampleCount)
		assert.InDelta(t, 0.05, price.DollarsPerKWH, 1e-9)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, (&ComEd{}).Validate())
		assert.NoError(t, (&ComEd{apiURL: "https://hourlypricing.comed.com/api"}).Validate())
	})
}

func TestPJMDayAhead(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 26, 9, 30, 0, 0, etLocation)

	t.Run("No Key", func(t *testing.T) {
		c := &ComEd{now: func() time.Time { return now }}
		prices, err := c.GetFuturePrices(ctx)
		require.NoError(t, err)
		assert.Nil(t, prices)
	})

	t.Run("Parsing", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
			assert.Equal(t, pjmComedPNodeID, r.URL.Query().Get("pnode_id"))
			assert.Equal(t, "2024-01-26 00:00 to 2024-01-27 23:59", r.URL.Query().Get("datetime_beginning_ept"))
			_, _ = w.Write([]byte(`[
				{"datetime_beginning_ept":"2024-01-26T14:00:00","total_lmp_da":61.0},
				{"datetime_beginning_ept":"bogus","total_lmp_da":1.0},
				{"datetime_beginning_ept":"2024-01-26T13:00:00","total_lmp_da":42.5}
			]`))
		}))
		defer ts.Close()

		c := &ComEd{
			pjmAPIURL: ts.URL,
			pjmAPIKey: "secret",
			client:    ts.Client(),
			now:       func() time.Time { return now },
		}
		prices, err := c.GetFuturePrices(ctx)
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.True(t, prices[0].TSStart.Equal(time.Date(2024, 1, 26, 13, 0, 0, 0, etLocation)))
		assert.True(t, prices[0].TSEnd.Equal(time.Date(2024, 1, 26, 14, 0, 0, 0, etLocation)))
		assert.InDelta(t, 0.0425, prices[0].DollarsPerKWH, 1e-9)
		assert.InDelta(t, 0.061, prices[1].DollarsPerKWH, 1e-9)
	})
}
