package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"price-tracker-service/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *ratelimit.BudgetTracker, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	budget := ratelimit.NewBudgetTracker(100)
	c := NewClient(srv.URL, "test-key", 5*time.Second, budget)
	c.SetClock(func() time.Time { return time.Date(2024, 12, 30, 18, 0, 0, 0, time.UTC) })
	return c, budget, &hits
}

func writeQuota(w http.ResponseWriter, remaining, reset int) {
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprint(reset))
}

func TestSearchByQueryNormalizesAndDropsInvalidItems(t *testing.T) {
	c, budget, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		writeQuota(w, 4000, 60)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"products": [
				{"name": "Full Cream Milk 2L", "url": "https://shop.example.com/products/milk-2l", "price": 3.10, "barcode": 9312345678901, "brand": "Dairy Co"},
				{"name": "Broken Item", "url": "", "price": 1.00},
				{"name": "Sliced Bread 700g", "url": "https://shop.example.com/products/bread", "price": -2, "barcode": "9300000000002"},
				{"name": "Greek Yogurt 1kg", "url": "https://shop.example.com/products/yogurt", "price": 6.50, "barcode": null}
			],
			"page": 1,
			"total": 4
		}`)
	})

	records, err := c.SearchByQuery(context.Background(), "dairy", 1, 20)
	if err != nil {
		t.Fatalf("SearchByQuery: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (invalid items dropped)", len(records))
	}
	if records[0].Barcode != "9312345678901" {
		t.Errorf("numeric barcode coerced to %q", records[0].Barcode)
	}
	if records[1].Barcode != "" {
		t.Errorf("null barcode coerced to %q", records[1].Barcode)
	}
	for _, rec := range records {
		if rec.LastUpdated.IsZero() {
			t.Errorf("record %q missing lastUpdated stamp", rec.Name)
		}
	}
	if got := budget.Remaining(); got != 4000 {
		t.Errorf("budget remaining = %d, want 4000", got)
	}
}

func TestEmptyResultQuirkIsNotAnError(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeQuota(w, 4000, 60)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": "No products found matching the search term"}`)
	})

	records, err := c.SearchByQuery(context.Background(), "zzzz", 1, 20)
	if err != nil {
		t.Fatalf("quirk response should be an empty result, got error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}

func TestQuotaHeadersTripTheBudget(t *testing.T) {
	c, budget, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeQuota(w, 50, 60)
		fmt.Fprint(w, `{"products": []}`)
	})

	if _, err := c.SearchByQuery(context.Background(), "milk", 1, 20); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !budget.IsExhausted() {
		t.Fatal("remaining=50 under buffer=100 should exhaust the budget")
	}

	// Fail-fast: the second call never reaches the server.
	_, err := c.SearchByQuery(context.Background(), "milk", 1, 20)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Fatalf("server saw %d requests, want 1", n)
	}
}

func TestTooManyRequestsMapsToRateLimited(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.SearchByQuery(context.Background(), "milk", 1, 20)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "upstream maintenance")
	})

	_, err := c.SearchByQuery(context.Background(), "milk", 1, 20)
	if !IsUnavailable(err) {
		t.Fatalf("got %v, want UnavailableError", err)
	}
	var ue *UnavailableError
	if errors.As(err, &ue) && ue.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", ue.StatusCode)
	}
}

func TestSearchByBarcodeNoMatchIsNil(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeQuota(w, 4000, 60)
		fmt.Fprint(w, `{"products": []}`)
	})

	rec, err := c.SearchByBarcode(context.Background(), "9300000000404")
	if err != nil {
		t.Fatalf("SearchByBarcode: %v", err)
	}
	if rec != nil {
		t.Fatalf("got %+v, want nil for no match", rec)
	}
}

func TestSearchByNameAndURLFiltersExactMatch(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Full Cream Milk 2L" {
			t.Errorf("query = %q", got)
		}
		writeQuota(w, 4000, 60)
		fmt.Fprint(w, `{
			"products": [
				{"name": "Full Cream Milk 2L", "url": "https://other.example.com/milk", "price": 2.95},
				{"name": "Full Cream Milk 2L", "url": "https://shop.example.com/products/milk-2l", "price": 3.10}
			]
		}`)
	})

	rec, err := c.SearchByNameAndURL(context.Background(), "Full Cream Milk 2L", "https://shop.example.com/products/milk-2l")
	if err != nil {
		t.Fatalf("SearchByNameAndURL: %v", err)
	}
	if rec == nil || rec.Price != 3.10 {
		t.Fatalf("got %+v, want the exact sourceUrl match", rec)
	}

	rec, err = c.SearchByNameAndURL(context.Background(), "Full Cream Milk 2L", "https://shop.example.com/products/other")
	if err != nil {
		t.Fatalf("SearchByNameAndURL (no match): %v", err)
	}
	if rec != nil {
		t.Fatalf("got %+v, want nil when no exact url match exists", rec)
	}
}
