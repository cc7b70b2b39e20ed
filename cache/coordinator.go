package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"price-tracker-service/metrics"
	"price-tracker-service/model"
	"price-tracker-service/upstream"
)

// ErrNotFound is returned when upstream reports no match for a key and no
// cached record exists to fall back on.
var ErrNotFound = errors.New("product not found")

// Store is the persistence port the coordinator reads and writes product
// records through. Find methods return (nil, nil) when no record exists.
// Upsert must be atomic on the (name, sourceUrl) natural key and preserve
// the record id on conflict.
type Store interface {
	FindByNaturalKey(ctx context.Context, name, sourceURL string) (*model.ProductRecord, error)
	FindByBarcode(ctx context.Context, barcode string) (*model.ProductRecord, error)
	Upsert(ctx context.Context, rec model.ProductRecord) (model.ProductRecord, error)
	StaleKeys(ctx context.Context, cutoff time.Time) ([]model.FetchKey, error)
}

// Fetcher is the upstream client port.
type Fetcher interface {
	SearchByQuery(ctx context.Context, query string, page, size int) ([]model.ProductRecord, error)
	SearchByBarcode(ctx context.Context, barcode string) (*model.ProductRecord, error)
	SearchByNameAndURL(ctx context.Context, name, sourceURL string) (*model.ProductRecord, error)
}

// Coordinator is the single entry point for obtaining current product data.
// It serves fresh cached records directly, refreshes stale or missing ones
// with at most one in-flight upstream fetch per key, and falls back to stale
// records when the refresh is blocked by rate limiting or upstream failure.
type Coordinator struct {
	store   Store
	fetcher Fetcher
	flight  *singleflight.Group

	cutoffHour   int
	fetchTimeout time.Duration
	now          func() time.Time
}

// NewCoordinator wires a coordinator. The singleflight group is injected so
// tests can isolate instances; nil creates a private one.
func NewCoordinator(store Store, fetcher Fetcher, flight *singleflight.Group, cutoffHour int, fetchTimeout time.Duration) *Coordinator {
	if flight == nil {
		flight = new(singleflight.Group)
	}
	if cutoffHour < 0 || cutoffHour > 23 {
		cutoffHour = DefaultCutoffHour
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &Coordinator{
		store:        store,
		fetcher:      fetcher,
		flight:       flight,
		cutoffHour:   cutoffHour,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

// SetClock overrides the coordinator's clock. Tests only.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// GetOrRefresh returns the current record for key: the cached record when it
// is fresh, otherwise the result of an upstream refresh shared with every
// concurrent caller of the same key.
func (c *Coordinator) GetOrRefresh(ctx context.Context, key model.FetchKey) (model.ProductRecord, error) {
	if err := key.Validate(); err != nil {
		return model.ProductRecord{}, err
	}

	cached, err := c.lookup(ctx, key)
	if err != nil {
		return model.ProductRecord{}, err
	}
	if cached != nil && !IsStale(cached.LastUpdated, c.now(), c.cutoffHour) {
		metrics.CacheLookupsTotal.WithLabelValues("fresh").Inc()
		return *cached, nil
	}
	if cached != nil {
		metrics.CacheLookupsTotal.WithLabelValues("stale").Inc()
	} else {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	// The shared fetch is detached from the first caller's cancellation:
	// once started it runs to completion or timeout, and every waiter of
	// this round observes the same outcome. singleflight drops the key when
	// the call settles, success or failure.
	refreshCtx := context.WithoutCancel(ctx)
	v, err, shared := c.flight.Do(key.CoalesceKey(), func() (any, error) {
		return c.refresh(refreshCtx, key)
	})
	if shared {
		metrics.CoalescedFetchesTotal.Inc()
	}
	if err != nil {
		return model.ProductRecord{}, err
	}
	return v.(model.ProductRecord), nil
}

// RefreshBatch refreshes each key independently, tolerating individual
// failures. parallel bounds in-batch concurrency; values <= 0 leave it
// unbounded, throttled only by the shared rate budget. Callers should pass
// a bound small enough not to burn the safety buffer in one burst.
func (c *Coordinator) RefreshBatch(ctx context.Context, keys []model.FetchKey, parallel int) model.RefreshSummary {
	var succeeded, failed int64

	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if _, err := c.GetOrRefresh(ctx, key); err != nil {
				atomic.AddInt64(&failed, 1)
				metrics.RefreshedProductsTotal.WithLabelValues("failed").Inc()
				log.Printf("[ERROR] refresh failed for %s: %v", key, err)
				return nil
			}
			atomic.AddInt64(&succeeded, 1)
			metrics.RefreshedProductsTotal.WithLabelValues("succeeded").Inc()
			return nil
		})
	}
	g.Wait()

	return model.RefreshSummary{
		Succeeded:   int(atomic.LoadInt64(&succeeded)),
		Failed:      int(atomic.LoadInt64(&failed)),
		ProcessedAt: c.now(),
	}
}

// SearchProducts fetches a page of search results and persists every valid
// item so later keyed lookups hit the cache. A failed upsert drops only that
// item from the returned page.
func (c *Coordinator) SearchProducts(ctx context.Context, query string, page, size int) ([]model.ProductRecord, error) {
	records, err := c.fetcher.SearchByQuery(ctx, query, page, size)
	if err != nil {
		return nil, err
	}

	out := make([]model.ProductRecord, 0, len(records))
	for _, rec := range records {
		stored, err := c.store.Upsert(ctx, rec)
		if err != nil {
			log.Printf("[ERROR] failed to persist search result %q (%s): %v", rec.Name, rec.SourceURL, err)
			continue
		}
		out = append(out, stored)
	}
	return out, nil
}

// StaleCutoff exposes the current cutoff instant for callers enumerating
// stale records (the bulk-refresh worker).
func (c *Coordinator) StaleCutoff() time.Time {
	return Cutoff(c.now(), c.cutoffHour)
}

// refresh runs inside the per-key flight. It re-checks the cache (a round
// that settled while this caller was joining may already have refreshed the
// record), fetches, persists and resolves the serve-stale fallbacks.
func (c *Coordinator) refresh(ctx context.Context, key model.FetchKey) (model.ProductRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	cached, err := c.lookup(ctx, key)
	if err != nil {
		return model.ProductRecord{}, err
	}
	if cached != nil && !IsStale(cached.LastUpdated, c.now(), c.cutoffHour) {
		return *cached, nil
	}

	fetched, err := c.fetch(ctx, key)
	if err != nil {
		if cached != nil && (errors.Is(err, upstream.ErrRateLimited) || upstream.IsUnavailable(err)) {
			reason := "unavailable"
			if errors.Is(err, upstream.ErrRateLimited) {
				reason = "rate_limited"
			}
			metrics.StaleServedTotal.WithLabelValues(reason).Inc()
			log.Printf("[WARN] serving stale record for %s: %v", key, err)
			return *cached, nil
		}
		return model.ProductRecord{}, err
	}

	if fetched == nil {
		// Upstream no longer lists the product. A vanished search hit should
		// not blank out tracked history, so an existing record is served.
		if cached != nil {
			metrics.StaleServedTotal.WithLabelValues("no_match").Inc()
			log.Printf("[WARN] upstream has no match for %s; serving cached record", key)
			return *cached, nil
		}
		return model.ProductRecord{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	// A refresh never changes a record's identity.
	if cached != nil {
		fetched.ID = cached.ID
		if fetched.Barcode == "" {
			fetched.Barcode = cached.Barcode
		}
	}

	stored, err := c.store.Upsert(ctx, *fetched)
	if err != nil {
		return model.ProductRecord{}, fmt.Errorf("persist refreshed product %s: %w", key, err)
	}
	return stored, nil
}

func (c *Coordinator) lookup(ctx context.Context, key model.FetchKey) (*model.ProductRecord, error) {
	if key.IsBarcode() {
		return c.store.FindByBarcode(ctx, key.Barcode)
	}
	return c.store.FindByNaturalKey(ctx, key.Name, key.SourceURL)
}

func (c *Coordinator) fetch(ctx context.Context, key model.FetchKey) (*model.ProductRecord, error) {
	if key.IsBarcode() {
		return c.fetcher.SearchByBarcode(ctx, key.Barcode)
	}
	return c.fetcher.SearchByNameAndURL(ctx, key.Name, key.SourceURL)
}
