// Package store persists product records in MongoDB. It is the concrete
// adapter behind the coordinator's persistence port.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"price-tracker-service/metrics"
	"price-tracker-service/model"
)

const collectionName = "products"

// ProductStore reads and writes product records keyed by the
// (name, sourceUrl) natural key.
type ProductStore struct {
	coll *mongo.Collection
}

// New creates a ProductStore and ensures its indexes. The unique index on
// the natural key is what makes concurrent first-time upserts safe across
// process instances.
func New(db *mongo.Database) *ProductStore {
	s := &ProductStore{coll: db.Collection(collectionName)}
	s.ensureIndexes()
	return s
}

func (s *ProductStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "name", Value: 1},
				{Key: "sourceUrl", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "barcode", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "lastUpdated", Value: 1}},
		},
	}

	for _, index := range indexes {
		if _, err := s.coll.Indexes().CreateOne(ctx, index); err != nil {
			log.Printf("[WARN] failed to create product index: %v", err)
		}
	}
}

// FindByNaturalKey returns the record for (name, sourceUrl), or nil when no
// record exists.
func (s *ProductStore) FindByNaturalKey(ctx context.Context, name, sourceURL string) (*model.ProductRecord, error) {
	return s.findOne(ctx, bson.M{"name": name, "sourceUrl": sourceURL})
}

// FindByBarcode returns the record carrying the given barcode, or nil.
func (s *ProductStore) FindByBarcode(ctx context.Context, barcode string) (*model.ProductRecord, error) {
	return s.findOne(ctx, bson.M{"barcode": barcode})
}

// FindByID returns the record with the given id, or nil. Used by callers
// outside the refresh pipeline (watchlists, history views).
func (s *ProductStore) FindByID(ctx context.Context, id string) (*model.ProductRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("store: invalid product id %q: %w", id, err)
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *ProductStore) findOne(ctx context.Context, filter bson.M) (*model.ProductRecord, error) {
	var doc productDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.MongoOperationsTotal.WithLabelValues("find", "miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.MongoOperationsTotal.WithLabelValues("find", "error").Inc()
		return nil, fmt.Errorf("store: find product: %w", err)
	}
	metrics.MongoOperationsTotal.WithLabelValues("find", "ok").Inc()
	rec := doc.record()
	return &rec, nil
}

// Upsert inserts or updates the record for its natural key in one atomic
// conditional write. The stored id survives updates, and lastUpdated only
// ever moves forward.
func (s *ProductStore) Upsert(ctx context.Context, rec model.ProductRecord) (model.ProductRecord, error) {
	filter := bson.M{"name": rec.Name, "sourceUrl": rec.SourceURL}
	update := bson.M{
		"$set": bson.M{
			"barcode":  rec.Barcode,
			"brand":    rec.Brand,
			"price":    rec.Price,
			"size":     rec.Size,
			"imageUrl": rec.ImageURL,
		},
		"$max": bson.M{"lastUpdated": rec.LastUpdated},
		"$setOnInsert": bson.M{
			"name":      rec.Name,
			"sourceUrl": rec.SourceURL,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc productDoc
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		metrics.MongoOperationsTotal.WithLabelValues("upsert", "error").Inc()
		return model.ProductRecord{}, fmt.Errorf("store: upsert product %q: %w", rec.Name, err)
	}
	metrics.MongoOperationsTotal.WithLabelValues("upsert", "ok").Inc()
	return doc.record(), nil
}

// StaleKeys lists the fetch keys of every record last updated before cutoff,
// for the bulk-refresh job. Natural keys are returned since every stored
// record has one.
func (s *ProductStore) StaleKeys(ctx context.Context, cutoff time.Time) ([]model.FetchKey, error) {
	filter := bson.M{"lastUpdated": bson.M{"$lt": cutoff}}
	opts := options.Find().SetProjection(bson.M{"name": 1, "sourceUrl": 1})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		metrics.MongoOperationsTotal.WithLabelValues("stale_scan", "error").Inc()
		return nil, fmt.Errorf("store: scan stale products: %w", err)
	}
	defer cur.Close(ctx)

	var keys []model.FetchKey
	for cur.Next(ctx) {
		var doc struct {
			Name      string `bson:"name"`
			SourceURL string `bson:"sourceUrl"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decode stale product: %w", err)
		}
		keys = append(keys, model.NaturalKey(doc.Name, doc.SourceURL))
	}
	if err := cur.Err(); err != nil {
		metrics.MongoOperationsTotal.WithLabelValues("stale_scan", "error").Inc()
		return nil, fmt.Errorf("store: scan stale products: %w", err)
	}
	metrics.MongoOperationsTotal.WithLabelValues("stale_scan", "ok").Inc()
	return keys, nil
}

// productDoc is the stored shape; _id is an ObjectID in Mongo but exposed as
// its hex form on the domain record.
type productDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Barcode     string             `bson:"barcode,omitempty"`
	Name        string             `bson:"name"`
	Brand       string             `bson:"brand,omitempty"`
	Price       float64            `bson:"price"`
	Size        string             `bson:"size,omitempty"`
	SourceURL   string             `bson:"sourceUrl"`
	ImageURL    string             `bson:"imageUrl,omitempty"`
	LastUpdated time.Time          `bson:"lastUpdated"`
}

func (d productDoc) record() model.ProductRecord {
	return model.ProductRecord{
		ID:          d.ID.Hex(),
		Barcode:     d.Barcode,
		Name:        d.Name,
		Brand:       d.Brand,
		Price:       d.Price,
		Size:        d.Size,
		SourceURL:   d.SourceURL,
		ImageURL:    d.ImageURL,
		LastUpdated: d.LastUpdated,
	}
}
