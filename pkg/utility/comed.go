package utility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

var (
	// PJM uses Eastern Time
	etLocation = mustLoadLocation("America/New_York")
	// ComEd uses Central Time
	ctLocation = mustLoadLocation("America/Chicago")
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Errorf("failed to load %s location: %w", name, err))
	}
	return loc
}

const (
	// ProviderComEd is the Provider name of prices from ComEd and PJM.
	ProviderComEd = "comed"

	pjmComedPNodeID = "33092371"
	// comedSamplesPerHour is the number of 5-minute prices in a complete hour.
	comedSamplesPerHour = 12
)

// ComEd fetches real-time prices from the ComEd hourly pricing API and
// day-ahead prices for the ComEd zone from PJM.
type ComEd struct {
	apiURL    string
	pjmAPIKey string
	pjmAPIURL string
	client    *http.Client
	now       func() time.Time

	mu            sync.Mutex
	lastFetchTime time.Time
	cachedPrices  []types.Price
}

// Validate ensures the configuration is valid.
func (c *ComEd) Validate() error {
	if c.apiURL == "" {
		return fmt.Errorf("comed-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse comed url (%s): %w", c.apiURL, err)
	}
	if c.pjmAPIURL != "" {
		if _, err := url.Parse(c.pjmAPIURL); err != nil {
			return fmt.Errorf("failed to parse pjm url (%s): %w", c.pjmAPIURL, err)
		}
	}
	return nil
}

type comedPriceEntry struct {
	MillisUTC string `json:"millisUTC"`
	Price     string `json:"price"`
}

// recentPrices returns the hourly averages of the last few hours. The result
// is reused until a new 5 minute block starts.
func (c *ComEd) recentPrices(ctx context.Context) ([]types.Price, error) {
	now := c.now().In(ctLocation)

	c.mu.Lock()
	if !c.lastFetchTime.IsZero() && !now.Truncate(5*time.Minute).After(c.lastFetchTime) {
		prices := c.cachedPrices
		c.mu.Unlock()
		return prices, nil
	}
	c.mu.Unlock()

	// 6 hours back leaves complete hours even when the feed is delayed
	prices, err := c.fetchPricesRange(ctx, now.Add(-6*time.Hour), now)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cachedPrices = prices
	c.lastFetchTime = now
	c.mu.Unlock()
	return prices, nil
}

// GetConfirmedPrices returns the complete hours in [start, end). An hour is
// complete once it is in the past and all twelve 5-minute prices arrived.
func (c *ComEd) GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	log.Ctx(ctx).DebugContext(
		ctx,
		"getting comed confirmed price history",
		slog.Time("start", start),
		slog.Time("end", end),
	)
	prices, err := c.fetchPricesRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	now := c.now()
	confirmed := make([]types.Price, 0, len(prices))
	for _, p := range prices {
		if p.TSEnd.After(now) {
			continue
		}
		if p.SampleCount != comedSamplesPerHour {
			log.Ctx(ctx).DebugContext(
				ctx,
				"incomplete price data for hour",
				slog.Time("tsStart", p.TSStart),
				slog.Int("sampleCount", p.SampleCount),
			)
			continue
		}
		confirmed = append(confirmed, p)
	}

	log.Ctx(ctx).DebugContext(ctx, "got comed confirmed prices", slog.Int("count", len(confirmed)))
	return confirmed, nil
}

// fetchPricesRange requests the 5-minute feed for the range and averages it
// into hourly prices sorted by start.
func (c *ComEd) fetchPricesRange(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	params := url.Values{}
	params.Set("type", "5minutefeed")
	params.Set("datestart", start.In(ctLocation).Format("200601021504"))
	params.Set("dateend", end.In(ctLocation).Format("200601021504"))
	params.Set("format", "json")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from comed", slog.String("url", u.String()))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comed api returned status: %d", resp.StatusCode)
	}

	var data []comedPriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		// ComEd sometimes returns an empty or non-json body when it has no data
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return hourlyAverages(ctx, data), nil
}

func hourlyAverages(ctx context.Context, data []comedPriceEntry) []types.Price {
	type hour struct {
		start time.Time
		sum   float64
		count int
		last  time.Time
	}
	hours := make(map[int64]*hour)
	for _, item := range data {
		ms, err := strconv.ParseInt(item.MillisUTC, 10, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse comed millisUTC", slog.String("value", item.MillisUTC), slog.Any("error", err))
			continue
		}
		cents, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse comed price", slog.String("value", item.Price), slog.Any("error", err))
			continue
		}
		// each timestamp is the end of a 5 minute interval
		tsEnd := time.UnixMilli(ms).In(ctLocation)
		start := tsEnd.Add(-time.Millisecond).Truncate(time.Hour)
		h, ok := hours[start.Unix()]
		if !ok {
			h = &hour{start: start}
			hours[start.Unix()] = h
		}
		h.sum += cents
		h.count++
		if tsEnd.After(h.last) {
			h.last = tsEnd
		}
	}

	prices := make([]types.Price, 0, len(hours))
	for _, h := range hours {
		prices = append(prices, types.Price{
			Provider:      ProviderComEd,
			TSStart:       h.start,
			TSEnd:         h.last,
			DollarsPerKWH: h.sum / float64(h.count) / 100,
			SampleCount:   h.count,
		})
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})
	return prices
}

// GetCurrentPrice returns the average of the current hour so far.
func (c *ComEd) GetCurrentPrice(ctx context.Context) (types.Price, error) {
	prices, err := c.recentPrices(ctx)
	if err != nil {
		return types.Price{}, err
	}
	if len(prices) == 0 {
		return types.Price{}, fmt.Errorf("no prices returned for current window")
	}
	latest := prices[len(prices)-1]
	log.Ctx(ctx).DebugContext(
		ctx,
		"got current price",
		slog.Float64("price", latest.DollarsPerKWH),
		slog.Time("ts", latest.TSStart),
	)
	return latest, nil
}

// GetFuturePrices returns the PJM day-ahead prices for today and tomorrow, or
// nothing if no PJM key is configured.
func (c *ComEd) GetFuturePrices(ctx context.Context) ([]types.Price, error) {
	if c.pjmAPIKey == "" {
		return nil, nil
	}
	return c.fetchPJMDayAhead(ctx, pjmComedPNodeID)
}

type pjmItem struct {
	DatetimeBeginningEPT string  `json:"datetime_beginning_ept"`
	TotalLMPDA           float64 `json:"total_lmp_da"`
}

func (c *ComEd) fetchPJMDayAhead(ctx context.Context, pnodeID string) ([]types.Price, error) {
	now := c.now().In(etLocation)
	dateRange := fmt.Sprintf("%s 00:00 to %s 23:59", now.Format(time.DateOnly), now.AddDate(0, 0, 1).Format(time.DateOnly))

	u, err := url.Parse(c.pjmAPIURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pjm url (%s): %w", c.pjmAPIURL, err)
	}
	q := u.Query()
	q.Set("pnode_id", pnodeID)
	q.Set("datetime_beginning_ept", dateRange)
	q.Set("format", "json")
	q.Set("fields", "datetime_beginning_ept,total_lmp_da")
	// download removes the metadata and returns only the rows
	q.Set("download", "true")
	q.Set("startRow", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pjm request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.pjmAPIKey)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "fetching pjm prices", slog.String("pnodeID", pnodeID))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pjm prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pjm api status: %d", resp.StatusCode)
	}

	var res []pjmItem
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode pjm response: %w", err)
	}

	prices := make([]types.Price, 0, len(res))
	for _, item := range res {
		t, err := time.ParseInLocation("2006-01-02T15:04:05", item.DatetimeBeginningEPT, etLocation)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse pjm time", slog.String("time", item.DatetimeBeginningEPT), slog.Any("error", err))
			continue
		}
		t = t.Truncate(time.Hour)
		prices = append(prices, types.Price{
			Provider: ProviderComEd,
			TSStart:  t,
			TSEnd:    t.Add(time.Hour),
			// $/MWh to $/kWh
			DollarsPerKWH: item.TotalLMPDA / 1000,
		})
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})
	log.Ctx(ctx).DebugContext(ctx, "fetched pjm prices", slog.Int("count", len(prices)))
	return prices, nil
}
