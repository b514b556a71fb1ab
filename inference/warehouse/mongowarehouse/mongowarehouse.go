// Package mongowarehouse implements warehouse.Writer and
// variant.DemonstrationStore on top of go.mongodb.org/mongo-driver/v2,
// standing in for the ClickHouse-style append-only analytical store named
// in §3: the schema and query semantics of the original's specific
// warehouse are out of scope, but the write-path contract (append-only,
// best-effort, decoupled from the client response) is preserved.
package mongowarehouse

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/modelmesh/gateway/inference/variant"
	"github.com/modelmesh/gateway/inference/warehouse"
)

// Store writes inference/model-inference/feedback records to dedicated
// collections in a single database, and serves demonstration retrieval for
// dicl variants from a vector-indexed collection.
type Store struct {
	db *mongo.Database
}

// New wraps an already-connected *mongo.Client's named database.
func New(client *mongo.Client, dbName string) *Store {
	return &Store{db: client.Database(dbName)}
}

// Ping implements httpapi's reachability check for the /health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *Store) WriteInference(ctx context.Context, rec warehouse.InferenceRecord) error {
	_, err := s.db.Collection("inferences").InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("mongowarehouse: write inference: %w", err)
	}
	return nil
}

func (s *Store) WriteModelInference(ctx context.Context, rec warehouse.ModelInferenceRecord) error {
	_, err := s.db.Collection("model_inferences").InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("mongowarehouse: write model inference: %w", err)
	}
	return nil
}

func (s *Store) WriteFeedback(ctx context.Context, rec warehouse.FeedbackRecord) error {
	_, err := s.db.Collection("feedback").InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("mongowarehouse: write feedback: %w", err)
	}
	return nil
}

// demonstrationDoc is the persisted shape of a single dicl demonstration:
// an (input, output) pair plus its embedding vector.
type demonstrationDoc struct {
	Input     string    `bson:"input"`
	Output    string    `bson:"output"`
	Embedding []float32 `bson:"embedding"`
}

// Retrieve implements variant.DemonstrationStore using Atlas Vector
// Search's $vectorSearch aggregation stage. Deployments without vector
// search configured on the demonstrations collection should wire a
// different DemonstrationStore implementation instead.
func (s *Store) Retrieve(ctx context.Context, vec []float32, k int) ([]variant.Demonstration, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: "demonstration_embedding"},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vec},
			{Key: "numCandidates", Value: k * 10},
			{Key: "limit", Value: k},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "input", Value: 1},
			{Key: "output", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}
	cur, err := s.db.Collection("demonstrations").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongowarehouse: vector search: %w", err)
	}
	defer cur.Close(ctx)

	var out []variant.Demonstration
	for cur.Next(ctx) {
		var doc struct {
			Input  string  `bson:"input"`
			Output string  `bson:"output"`
			Score  float64 `bson:"score"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongowarehouse: decode demonstration: %w", err)
		}
		out = append(out, variant.Demonstration{Input: doc.Input, Output: doc.Output, Score: doc.Score})
	}
	return out, cur.Err()
}

// FunctionInferenceStats implements warehouse.StatsReader with a $match +
// $group aggregation over the inferences collection.
func (s *Store) FunctionInferenceStats(ctx context.Context, functionName, variantName string, groupByVariant bool) ([]warehouse.FunctionStats, error) {
	match := bson.D{{Key: "functionname", Value: functionName}}
	if variantName != "" {
		match = append(match, bson.E{Key: "variantname", Value: variantName})
	}
	groupID := bson.D{{Key: "$literal", Value: ""}}
	if groupByVariant {
		groupID = bson.D{{Key: "variantname", Value: "$variantname"}}
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: groupID},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "lastUsedAt", Value: bson.D{{Key: "$max", Value: "$createdat"}}},
		}}},
	}
	cur, err := s.db.Collection("inferences").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongowarehouse: inference stats: %w", err)
	}
	defer cur.Close(ctx)

	var out []warehouse.FunctionStats
	for cur.Next(ctx) {
		var doc struct {
			ID         any       `bson:"_id"`
			Count      int64     `bson:"count"`
			LastUsedAt time.Time `bson:"lastUsedAt"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongowarehouse: decode inference stats: %w", err)
		}
		row := warehouse.FunctionStats{FunctionName: functionName, Count: doc.Count, LastUsedAt: doc.LastUsedAt}
		if groupByVariant {
			if sub, ok := doc.ID.(bson.M); ok {
				if v, ok := sub["variantname"].(string); ok {
					row.VariantName = v
				}
			}
		}
		out = append(out, row)
	}
	return out, cur.Err()
}

// FunctionInferenceStatsByMetric implements warehouse.StatsReader by
// joining the inferences and feedback collections on inference id, per
// metric name and optional threshold.
func (s *Store) FunctionInferenceStatsByMetric(ctx context.Context, functionName, metricName string, threshold *float64) ([]warehouse.MetricStats, error) {
	feedbackMatch := bson.D{{Key: "metricname", Value: metricName}}
	if threshold != nil {
		feedbackMatch = append(feedbackMatch, bson.E{Key: "value", Value: bson.D{{Key: "$gte", Value: *threshold}}})
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "functionname", Value: functionName}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "feedback"},
			{Key: "localField", Value: "inferenceid"},
			{Key: "foreignField", Value: "inferenceid"},
			{Key: "pipeline", Value: mongo.Pipeline{bson.D{{Key: "$match", Value: feedbackMatch}}}},
			{Key: "as", Value: "matchedFeedback"},
		}}},
		bson.D{{Key: "$match", Value: bson.D{{Key: "matchedFeedback", Value: bson.D{{Key: "$ne", Value: bson.A{}}}}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$variantname"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.db.Collection("inferences").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongowarehouse: metric-joined inference stats: %w", err)
	}
	defer cur.Close(ctx)

	var out []warehouse.MetricStats
	for cur.Next(ctx) {
		var doc struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongowarehouse: decode metric stats: %w", err)
		}
		out = append(out, warehouse.MetricStats{FunctionName: functionName, VariantName: doc.ID, MetricName: metricName, Count: doc.Count})
	}
	return out, cur.Err()
}
