package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/darven/toolgate/pkg/client"
)

// TotalPagesHeader is the provider header carrying the page count.
const TotalPagesHeader = "X-Total-Pages"

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int

	// Timeout bounds each individual page fetch.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
	}
}

// PageSource fetches a single page and reports the total page count.
type PageSource interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values, page int) (data []byte, totalPages int, err error)
}

// ClientSource adapts the caching provider client to PageSource. The
// page number is passed as the "page" query parameter.
type ClientSource struct {
	client *client.Client
}

// NewClientSource wraps a provider client as a PageSource.
func NewClientSource(c *client.Client) *ClientSource {
	return &ClientSource{client: c}
}

// FetchPage fetches one page through the caching client.
func (s *ClientSource) FetchPage(ctx context.Context, endpoint string, params url.Values, page int) ([]byte, int, error) {
	pageParams := url.Values{}
	for k, v := range params {
		pageParams[k] = v
	}
	pageParams.Set("page", strconv.Itoa(page))

	result, err := s.client.Fetch(ctx, endpoint, pageParams)
	if err != nil {
		return nil, 0, err
	}

	totalPages := 1
	if v := result.Header.Get(TotalPagesHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			totalPages = n
		}
	}

	return result.Data, totalPages, nil
}

// BatchFetcher fetches all pages of an endpoint in parallel.
type BatchFetcher struct {
	source PageSource
	config Config
}

// NewBatchFetcher creates a batch fetcher over the given page source.
func NewBatchFetcher(source PageSource, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher{
		source: source,
		config: config,
	}
}

// FetchAllPages fetches every page of the endpoint. The first page is
// fetched alone to learn the total count; the rest run in a bounded
// group. The first page error aborts the whole batch.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string, params url.Values) (map[int][]byte, error) {
	start := time.Now()

	firstCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	firstData, totalPages, err := bf.source.FetchPage(firstCtx, endpoint, params, 1)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	results := map[int][]byte{1: firstData}
	if totalPages <= 1 {
		return results, nil
	}

	log.Debug().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			pageCtx, cancel := context.WithTimeout(gctx, bf.config.Timeout)
			defer cancel()

			data, _, err := bf.source.FetchPage(pageCtx, endpoint, params, page)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", page, err)
			}

			mu.Lock()
			results[page] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("endpoint", endpoint).
		Int("pages", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}
