package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultOpTimeout = 5 * time.Second

// MongoStore is the production Store backed by a MongoDB database.
// Every operation runs under a bounded timeout so a slow backend
// surfaces as an error instead of a hung request.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
}

// MongoConfig configures the MongoDB connection.
type MongoConfig struct {
	URI       string
	Database  string
	OpTimeout time.Duration
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &MongoStore{
		client:    client,
		db:        client.Database(cfg.Database),
		opTimeout: cfg.OpTimeout,
	}, nil
}

// Collection returns a handle to the named collection.
func (s *MongoStore) Collection(name string) Collection {
	return &mongoCollection{
		col:       s.db.Collection(name),
		opTimeout: s.opTimeout,
	}
}

// Ping verifies connectivity to the backend.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoCollection struct {
	col       *mongo.Collection
	opTimeout time.Duration
}

func (c *mongoCollection) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *mongoCollection) Get(ctx context.Context, id string, out any) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	err := c.col.FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *mongoCollection) Set(ctx context.Context, id string, doc any) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	_, err := c.col.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *mongoCollection) Update(ctx context.Context, id string, fields map[string]any) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.col.UpdateByID(ctx, id, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, q Query, fields map[string]any) (int64, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.col.UpdateMany(ctx, buildFilter(q.Filters), bson.M{"$set": fields})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.ModifiedCount, nil
}

func (c *mongoCollection) Delete(ctx context.Context, id string) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if _, err := c.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, q Query) (int64, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.col.DeleteMany(ctx, buildFilter(q.Filters))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) Find(ctx context.Context, q Query, out any) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Offset > 0 {
		opts.SetSkip(q.Offset)
	}

	cursor, err := c.col.Find(ctx, buildFilter(q.Filters), opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *mongoCollection) FindOne(ctx context.Context, q Query, out any) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	opts := options.FindOne()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Offset > 0 {
		opts.SetSkip(q.Offset)
	}

	err := c.col.FindOne(ctx, buildFilter(q.Filters), opts).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func buildFilter(filters []Filter) bson.M {
	out := bson.M{}
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			out[f.Field] = f.Value
		case OpLt:
			out[f.Field] = mergeRange(out[f.Field], "$lt", f.Value)
		case OpLte:
			out[f.Field] = mergeRange(out[f.Field], "$lte", f.Value)
		case OpGt:
			out[f.Field] = mergeRange(out[f.Field], "$gt", f.Value)
		case OpGte:
			out[f.Field] = mergeRange(out[f.Field], "$gte", f.Value)
		}
	}
	return out
}

// mergeRange allows two range filters on the same field, e.g.
// createdAt >= a AND createdAt < b.
func mergeRange(existing any, op string, value any) bson.M {
	m, ok := existing.(bson.M)
	if !ok {
		m = bson.M{}
	}
	m[op] = value
	return m
}
