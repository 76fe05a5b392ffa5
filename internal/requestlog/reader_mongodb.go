package requestlog

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB request log reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(collectionName)}, nil
}

// List returns a page of entries, newest first, counted and fetched in one
// $facet aggregation.
func (r *MongoDBReader) List(ctx context.Context, params QueryParams) (*LogPage, error) {
	limit, offset := clampLimitOffset(params.Limit, params.Offset)

	match := bson.D{}
	if params.Host != "" {
		match = append(match, bson.E{Key: "host", Value: params.Host})
	}
	if params.Model != "" {
		match = append(match, bson.E{Key: "model", Value: bson.D{
			{Key: "$regex", Value: regexp.QuoteMeta(params.Model)},
			{Key: "$options", Value: "i"},
		}})
	}

	pipeline := bson.A{}
	if len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$facet", Value: bson.D{
		{Key: "data", Value: bson.A{
			bson.D{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
			bson.D{{Key: "$skip", Value: offset}},
			bson.D{{Key: "$limit", Value: limit}},
		}},
		{Key: "total", Value: bson.A{
			bson.D{{Key: "$count", Value: "count"}},
		}},
	}}})

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate request log: %w", err)
	}
	defer cursor.Close(ctx)

	var facet struct {
		Data  []Entry `bson:"data"`
		Total []struct {
			Count int `bson:"count"`
		} `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&facet); err != nil {
			return nil, fmt.Errorf("failed to decode request log facet result: %w", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request log cursor: %w", err)
	}

	page := &LogPage{Entries: facet.Data, Limit: limit, Offset: offset}
	if page.Entries == nil {
		page.Entries = make([]Entry, 0)
	}
	for i := range page.Entries {
		page.Entries[i].Timestamp = page.Entries[i].Timestamp.UTC()
	}
	if len(facet.Total) > 0 {
		page.Total = facet.Total[0].Count
	}
	return page, nil
}
