package model

import (
	"fmt"
	"time"
)

// ProductRecord is the canonical cached product entity. A record is created
// on the first successful upstream fetch for a never-seen (name, sourceUrl)
// pair and updated in place on every refresh; the ID never changes once
// assigned by the store.
type ProductRecord struct {
	ID          string    `bson:"_id,omitempty" json:"id,omitempty"`
	Barcode     string    `bson:"barcode,omitempty" json:"barcode,omitempty"`
	Name        string    `bson:"name" json:"name"`
	Brand       string    `bson:"brand,omitempty" json:"brand,omitempty"`
	Price       float64   `bson:"price" json:"price"`
	Size        string    `bson:"size,omitempty" json:"size,omitempty"`
	SourceURL   string    `bson:"sourceUrl" json:"sourceUrl"`
	ImageURL    string    `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	LastUpdated time.Time `bson:"lastUpdated" json:"lastUpdated"`
}

// FetchKey identifies a product for lookup and fetch coalescing. Exactly one
// shape is set: either the natural key (Name + SourceURL) or a Barcode. The
// two shapes coalesce separately even when they resolve to the same record.
type FetchKey struct {
	Name      string `json:"name,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Barcode   string `json:"barcode,omitempty"`
}

// NaturalKey builds a FetchKey for a (name, sourceUrl) pair.
func NaturalKey(name, sourceURL string) FetchKey {
	return FetchKey{Name: name, SourceURL: sourceURL}
}

// BarcodeKey builds a FetchKey for a barcode lookup.
func BarcodeKey(barcode string) FetchKey {
	return FetchKey{Barcode: barcode}
}

// IsBarcode reports whether the key is barcode-shaped.
func (k FetchKey) IsBarcode() bool {
	return k.Barcode != ""
}

// Validate checks that exactly one key shape is populated.
func (k FetchKey) Validate() error {
	if k.Barcode != "" {
		if k.Name != "" || k.SourceURL != "" {
			return fmt.Errorf("fetch key mixes barcode and natural key: %s", k)
		}
		return nil
	}
	if k.Name == "" || k.SourceURL == "" {
		return fmt.Errorf("fetch key needs name and sourceUrl or a barcode: %s", k)
	}
	return nil
}

// CoalesceKey returns the string the in-flight registry coalesces on. The
// shape prefix keeps barcode keys and natural keys from sharing a flight.
func (k FetchKey) CoalesceKey() string {
	if k.IsBarcode() {
		return "barcode|" + k.Barcode
	}
	return "product|" + k.Name + "|" + k.SourceURL
}

func (k FetchKey) String() string {
	if k.IsBarcode() {
		return "barcode=" + k.Barcode
	}
	return "name=" + k.Name + " url=" + k.SourceURL
}

// RefreshRequest is published to NATS to trigger a stale-product refresh run.
type RefreshRequest struct {
	RequestID string     `json:"requestId"`
	Keys      []FetchKey `json:"keys,omitempty"` // empty means "all stale products"
}

// RefreshSummary is the outcome of a bulk refresh run.
type RefreshSummary struct {
	RequestID   string    `json:"requestId,omitempty"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	ProcessedAt time.Time `json:"processedAt"`
}
