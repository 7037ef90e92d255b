// Package source talks to the racing results site: the date listing page and
// the per-race result pages.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/parser"
)

// DefaultBaseURL is the local results page; with no query it lists dates.
const DefaultBaseURL = "https://racing.hkjc.com/racing/information/Chinese/Racing/LocalResults.aspx"

// Client implements crawler.Source on top of a Fetcher.
type Client struct {
	fetcher crawler.Fetcher
	baseURL string
	logger  *zap.Logger
}

var _ crawler.Source = (*Client)(nil)

// New builds a Client. An empty baseURL falls back to DefaultBaseURL.
func New(fetcher crawler.Fetcher, baseURL string, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, baseURL: baseURL, logger: logger}, nil
}

// ListAvailableDates fetches the listing page once and returns its dates in
// page order.
func (c *Client) ListAvailableDates(ctx context.Context) ([]civil.Date, error) {
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: c.baseURL})
	if err != nil {
		return nil, fmt.Errorf("fetch date listing: %w", err)
	}
	dates, err := parser.ParseDates(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse date listing: %w", err)
	}
	c.logger.Debug("listed result dates", zap.Int("count", len(dates)))
	return dates, nil
}

// FetchRace returns the raw markup of one race's result page.
func (c *Client) FetchRace(ctx context.Context, date civil.Date, raceNo int) ([]byte, error) {
	target := c.RaceURL(date, raceNo)
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target})
	if err != nil {
		return nil, fmt.Errorf("fetch race: %w", err)
	}
	c.logger.Debug("fetched race page",
		zap.String("date", date.String()),
		zap.Int("race_no", raceNo),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return resp.Body, nil
}

// RaceURL builds the result page address for a (date, race) pair. The date
// keeps its literal slashes, as the site links to it.
func (c *Client) RaceURL(date civil.Date, raceNo int) string {
	u, _ := url.Parse(c.baseURL)
	query := "RaceDate=" + parser.FormatSourceDate(date) + "&RaceNo=" + strconv.Itoa(raceNo)
	if u.RawQuery != "" {
		query = u.RawQuery + "&" + query
	}
	u.RawQuery = query
	return u.String()
}
