// Package store implements the MongoDB document store behind the TSDS
// writer. Each data type is its own database holding four collections:
// measurements, data, event, and metadata.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bgeels/tsds-services/tsds"
)

const (
	measurementsCollection = "measurements"
	dataCollection         = "data"
	eventCollection        = "event"
	metadataCollection     = "metadata"

	// dataIndexName is the (identifier, start, end) index the overlap
	// query hints.
	dataIndexName = "identifier_1_start_1_end_1"
)

// MongoStore implements tsds.Store on a MongoDB deployment.
type MongoStore struct {
	client *mongo.Client
}

// Connect dials MongoDB and verifies the connection. A failure here is
// fatal at boot: the writer cannot run without its store.
func Connect(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoStore{client: client}, nil
}

// NewMongoStore wraps an existing client.
func NewMongoStore(client *mongo.Client) *MongoStore {
	return &MongoStore{client: client}
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the writer relies on for a data type's
// database. Index creation is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context, dataType string) error {
	db := s.client.Database(dataType)

	_, err := db.Collection(dataCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "identifier", Value: 1},
			{Key: "start", Value: 1},
			{Key: "end", Value: 1},
		},
		Options: options.Index().SetName(dataIndexName),
	})
	if err != nil {
		return fmt.Errorf("failed to create data index on %s: %w", dataType, err)
	}

	_, err = db.Collection(measurementsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "identifier", Value: 1},
			{Key: "end", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create measurements index on %s: %w", dataType, err)
	}

	return nil
}

// DatabaseNames lists the databases visible to the writer.
func (s *MongoStore) DatabaseNames(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	return names, nil
}

// Metadata reads the singleton metadata document of a data type.
func (s *MongoStore) Metadata(ctx context.Context, dataType string) (*tsds.Metadata, error) {
	var md tsds.Metadata
	err := s.collection(dataType, metadataCollection).FindOne(ctx, bson.D{}).Decode(&md)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tsds.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", dataType, err)
	}
	return &md, nil
}

// AddMetadataValues declares additional value types on the metadata document
// in one update.
func (s *MongoStore) AddMetadataValues(ctx context.Context, dataType string, values map[string]tsds.ValueDescriptor) error {
	set := bson.M{}
	for name, desc := range values {
		set["values."+name] = desc
	}

	result, err := s.collection(dataType, metadataCollection).UpdateOne(ctx, bson.D{}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", dataType, err)
	}
	if result.MatchedCount == 0 {
		return tsds.ErrNotFound
	}
	return nil
}

// ActiveMeasurement finds the measurement record with the identifier and no
// end. Returns (nil, nil) when absent.
func (s *MongoStore) ActiveMeasurement(ctx context.Context, dataType, identifier string) (*tsds.Measurement, error) {
	filter := bson.M{"identifier": identifier, "end": nil}

	var m tsds.Measurement
	err := s.collection(dataType, measurementsCollection).FindOne(ctx, filter).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find measurement %s: %w", identifier, err)
	}
	return &m, nil
}

// InsertMeasurement inserts a new measurement record.
func (s *MongoStore) InsertMeasurement(ctx context.Context, dataType string, m *tsds.Measurement) error {
	result, err := s.collection(dataType, measurementsCollection).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to insert measurement %s: %w", m.Identifier, err)
	}
	m.ID = result.InsertedID
	return nil
}

// DataDocument fetches the bucket with the exact (identifier, start, end).
func (s *MongoStore) DataDocument(ctx context.Context, dataType, identifier string, start, end int64) (*tsds.DataDocument, error) {
	filter := bson.M{"identifier": identifier, "start": start, "end": end}

	var doc tsds.DataDocument
	err := s.collection(dataType, dataCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tsds.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find data document %s [%d, %d): %w", identifier, start, end, err)
	}
	doc.DataType = dataType
	return &doc, nil
}

// OverlappingDataDocuments finds every bucket of the identifier whose
// window overlaps or abuts [start, end), hinting the (identifier, start,
// end) index.
func (s *MongoStore) OverlappingDataDocuments(ctx context.Context, dataType, identifier string, start, end int64) ([]*tsds.DataDocument, error) {
	filter := bson.M{
		"identifier": identifier,
		"start":      bson.M{"$lte": end},
		"end":        bson.M{"$gte": start},
	}
	opts := options.Find().SetHint(dataIndexName)

	cursor, err := s.collection(dataType, dataCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping documents for %s: %w", identifier, err)
	}
	defer cursor.Close(ctx)

	var docs []*tsds.DataDocument
	for cursor.Next(ctx) {
		var doc tsds.DataDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode data document: %w", err)
		}
		doc.DataType = dataType
		docs = append(docs, &doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("overlap cursor failed for %s: %w", identifier, err)
	}
	return docs, nil
}

// InsertDataDocuments inserts a set of buckets.
func (s *MongoStore) InsertDataDocuments(ctx context.Context, dataType string, docs []*tsds.DataDocument) error {
	if len(docs) == 0 {
		return nil
	}

	items := make([]interface{}, len(docs))
	for i, doc := range docs {
		items[i] = doc
	}

	result, err := s.collection(dataType, dataCollection).InsertMany(ctx, items)
	if err != nil {
		return fmt.Errorf("failed to insert data documents: %w", err)
	}
	for i, id := range result.InsertedIDs {
		docs[i].ID = id
	}
	return nil
}

// UpdateDataDocument merges points into an existing bucket and declares any
// new value types on it. A point replaces any stored point with the same
// time and value type, so a redelivered batch leaves the bucket unchanged.
func (s *MongoStore) UpdateDataDocument(ctx context.Context, dataType string, doc *tsds.DataDocument, points []tsds.DataPoint, newValueTypes []string) error {
	filter := bson.M{"identifier": doc.Identifier, "start": doc.Start, "end": doc.End}

	update := bson.M{}
	if len(points) > 0 {
		replaced := make([]bson.M, len(points))
		for i, p := range points {
			replaced[i] = bson.M{"time": p.Time, "value_type": p.ValueType}
		}
		pull := bson.M{"$pull": bson.M{"data_points": bson.M{"$or": replaced}}}
		if _, err := s.collection(dataType, dataCollection).UpdateOne(ctx, filter, pull); err != nil {
			return fmt.Errorf("failed to update data document %s [%d, %d): %w", doc.Identifier, doc.Start, doc.End, err)
		}
		update["$push"] = bson.M{"data_points": bson.M{"$each": points}}
	}
	if len(newValueTypes) > 0 {
		set := bson.M{}
		for _, vt := range newValueTypes {
			set["value_types."+vt] = true
		}
		update["$set"] = set
	}

	result, err := s.collection(dataType, dataCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update data document %s [%d, %d): %w", doc.Identifier, doc.Start, doc.End, err)
	}
	if result.MatchedCount == 0 {
		return tsds.ErrNotFound
	}
	return nil
}

// RemoveDataDocuments deletes buckets by id in a single batch.
func (s *MongoStore) RemoveDataDocuments(ctx context.Context, dataType string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.collection(dataType, dataCollection).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("failed to remove data documents: %w", err)
	}
	return nil
}

// EventDocument fetches the event bucket with the exact (type, start, end).
func (s *MongoStore) EventDocument(ctx context.Context, dataType, eventType string, start, end int64) (*tsds.EventDocument, error) {
	filter := bson.M{"type": eventType, "start": start, "end": end}

	var doc tsds.EventDocument
	err := s.collection(dataType, eventCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tsds.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event document %s [%d, %d): %w", eventType, start, end, err)
	}
	doc.DataType = dataType
	return &doc, nil
}

// InsertEventDocument inserts a new event bucket.
func (s *MongoStore) InsertEventDocument(ctx context.Context, dataType string, doc *tsds.EventDocument) error {
	result, err := s.collection(dataType, eventCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert event document %s: %w", doc.Type, err)
	}
	doc.ID = result.InsertedID
	return nil
}

// UpdateEventDocument replaces the events of an existing bucket.
func (s *MongoStore) UpdateEventDocument(ctx context.Context, dataType string, doc *tsds.EventDocument) error {
	filter := bson.M{"type": doc.Type, "start": doc.Start, "end": doc.End}
	update := bson.M{"$set": bson.M{"events": doc.Events}}

	result, err := s.collection(dataType, eventCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update event document %s: %w", doc.Type, err)
	}
	if result.MatchedCount == 0 {
		return tsds.ErrNotFound
	}
	return nil
}

func (s *MongoStore) collection(dataType, name string) *mongo.Collection {
	return s.client.Database(dataType).Collection(name)
}
