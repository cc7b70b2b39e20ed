// Package upstream implements the client for the third-party grocery
// product API: search calls, quota header tracking and normalization of raw
// items into product records.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"price-tracker-service/metrics"
	"price-tracker-service/model"
	"price-tracker-service/ratelimit"
)

const (
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"

	// The upstream API answers "zero results" with an HTTP 500 carrying this
	// phrase instead of a 200 with an empty list. Observed behavior; the
	// client normalizes it to an empty result.
	emptyResultMarker = "no products found"

	// Page size used when resolving a (name, url) key through the query
	// endpoint, which has no direct name+url lookup.
	nameLookupPageSize = 25
)

// Client calls the upstream product API. Every call fails fast when the
// shared budget tracker reports the quota exhausted, and every response's
// quota headers are forwarded to the tracker, success or not.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	budget  *ratelimit.BudgetTracker
	now     func() time.Time
}

// NewClient builds a Client for the given API base URL and key.
func NewClient(baseURL, apiKey string, timeout time.Duration, budget *ratelimit.BudgetTracker) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		budget:  budget,
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source for normalized records. Tests only.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

type searchResponse struct {
	Products []rawProduct `json:"products"`
	Page     int          `json:"page"`
	Total    int          `json:"total"`
}

// rawProduct mirrors one upstream result item. Barcode arrives as a string,
// a number or null depending on the product, so it is decoded loosely and
// coerced during normalization.
type rawProduct struct {
	Barcode  any     `json:"barcode"`
	Name     string  `json:"name"`
	Brand    string  `json:"brand"`
	Price    float64 `json:"price"`
	Size     string  `json:"size"`
	URL      string  `json:"url"`
	ImageURL string  `json:"image_url"`
}

// SearchByQuery runs the upstream search endpoint and returns the page as
// normalized records. Items failing validation are dropped with a warning;
// one bad item never fails the page.
func (c *Client) SearchByQuery(ctx context.Context, query string, page, size int) ([]model.ProductRecord, error) {
	if c.budget.IsExhausted() {
		metrics.RateLimitedTotal.Inc()
		return nil, ErrRateLimited
	}

	q := url.Values{}
	q.Set("q", query)
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}

	body, err := c.doGET(ctx, "search", c.baseURL+"/search?"+q.Encode())
	if err == errEmptyResult {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("search payload parse: %w", err)}
	}
	return c.normalizePage(resp.Products), nil
}

// SearchByBarcode looks up a single product by barcode. A missing product is
// a nil record, not an error.
func (c *Client) SearchByBarcode(ctx context.Context, barcode string) (*model.ProductRecord, error) {
	if c.budget.IsExhausted() {
		metrics.RateLimitedTotal.Inc()
		return nil, ErrRateLimited
	}

	body, err := c.doGET(ctx, "barcode", c.baseURL+"/barcode/"+url.PathEscape(barcode))
	if err == errEmptyResult {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("barcode payload parse: %w", err)}
	}
	records := c.normalizePage(resp.Products)
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// SearchByNameAndURL resolves a (name, sourceUrl) key. Upstream has no
// direct endpoint for the pair, so it queries by name and filters the page
// for an exact source URL match. No match is a nil record, not an error.
func (c *Client) SearchByNameAndURL(ctx context.Context, name, sourceURL string) (*model.ProductRecord, error) {
	records, err := c.SearchByQuery(ctx, name, 1, nameLookupPageSize)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].SourceURL == sourceURL {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (c *Client) doGET(ctx context.Context, endpoint, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	// Quota headers are forwarded regardless of status so the budget stays
	// accurate even on failing responses.
	c.recordQuota(resp.Header)
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RateLimitedTotal.Inc()
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusInternalServerError &&
		strings.Contains(strings.ToLower(string(body)), emptyResultMarker):
		return nil, errEmptyResult
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &UnavailableError{StatusCode: resp.StatusCode}
	}
	return body, nil
}

func (c *Client) recordQuota(h http.Header) {
	remaining, err := strconv.Atoi(h.Get(headerRemaining))
	if err != nil {
		return
	}
	resetSeconds, err := strconv.Atoi(h.Get(headerReset))
	if err != nil {
		return
	}
	c.budget.RecordUsage(remaining, resetSeconds)
	metrics.UpstreamBudgetRemaining.Set(float64(remaining))
}

func (c *Client) normalizePage(items []rawProduct) []model.ProductRecord {
	records := make([]model.ProductRecord, 0, len(items))
	now := c.now()
	for _, item := range items {
		rec, err := normalize(item, now)
		if err != nil {
			metrics.DroppedItemsTotal.Inc()
			log.Printf("[WARN] dropping upstream item: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func normalize(item rawProduct, now time.Time) (model.ProductRecord, error) {
	name := strings.TrimSpace(item.Name)
	sourceURL := strings.TrimSpace(item.URL)
	if name == "" || sourceURL == "" {
		return model.ProductRecord{}, fmt.Errorf("item missing name or url (name=%q url=%q)", item.Name, item.URL)
	}
	if item.Price < 0 || math.IsNaN(item.Price) {
		return model.ProductRecord{}, fmt.Errorf("item %q has invalid price %v", name, item.Price)
	}
	return model.ProductRecord{
		Barcode:     coerceBarcode(item.Barcode),
		Name:        name,
		Brand:       strings.TrimSpace(item.Brand),
		Price:       item.Price,
		Size:        strings.TrimSpace(item.Size),
		SourceURL:   sourceURL,
		ImageURL:    strings.TrimSpace(item.ImageURL),
		LastUpdated: now,
	}, nil
}

// coerceBarcode flattens the upstream barcode field (string, number or
// null) into a plain string; unusable values become the empty string.
func coerceBarcode(v any) string {
	switch b := v.(type) {
	case string:
		return strings.TrimSpace(b)
	case float64:
		return strconv.FormatFloat(b, 'f', -1, 64)
	case json.Number:
		return b.String()
	default:
		return ""
	}
}
