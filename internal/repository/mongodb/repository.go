package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

// Error labels the server attaches to retryable transaction failures.
const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"
)

// MongoDBRepository implements docstore.Store on a replica set. Multi-document
// transactions need a replica set or sharded cluster; a standalone mongod
// rejects them.
type MongoDBRepository struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ docstore.Store = (*MongoDBRepository)(nil)

// NewMongoDBRepository connects, pings and makes sure the indexes the services
// query by exist.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string, logger *zap.Logger) (*MongoDBRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	repo := &MongoDBRepository{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *MongoDBRepository) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		docstore.CollectionSales: {
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "product_id", Value: 1}}},
		},
		docstore.CollectionPayments: {
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		},
		docstore.CollectionOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "year_month", Value: 1}, {Key: "status", Value: 1}}},
		},
		docstore.CollectionAggregates: {
			{Keys: bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}},
		},
	}

	for collection, models := range indexes {
		if _, err := r.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	r.logger.Debug("mongodb indexes ensured")
	return nil
}

// Get fetches one document by id.
func (r *MongoDBRepository) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return findOne(ctx, r.db, collection, id)
}

// Query runs a find with the translated filter, sorted by _id.
func (r *MongoDBRepository) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	cursor, err := r.db.Collection(collection).Find(ctx, toBSON(filter), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}

	docs := make([]docstore.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, toDocument(m))
	}
	return docs, nil
}

// RunTransaction runs fn inside a session transaction. The driver re-runs fn
// on TransientTransactionError and retries commits with an unknown result
// until its internal deadline; what is left after that is ErrAborted.
func (r *MongoDBRepository) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongodb session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOptions := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	attempts := 0
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		attempts++
		return nil, fn(sessCtx, docstore.Guard(&sessionTx{db: r.db}))
	}, txnOptions)
	if err == nil {
		return nil
	}

	if isTransient(err) {
		r.logger.Warn("mongodb transaction gave up", zap.Int("attempts", attempts), zap.Error(err))
		return fmt.Errorf("%w after %d attempts: %v", docstore.ErrAborted, attempts, err)
	}
	return err
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

type sessionTx struct {
	db *mongo.Database
}

func (t *sessionTx) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return findOne(ctx, t.db, collection, id)
}

func (t *sessionTx) Set(ctx context.Context, collection, id string, doc docstore.Document) error {
	body := bson.M{}
	for k, v := range doc {
		body[k] = v
	}
	body["_id"] = id

	_, err := t.db.Collection(collection).ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (t *sessionTx) Update(ctx context.Context, collection, id string, update docstore.Update) error {
	if update.IsEmpty() {
		return nil
	}

	ops := bson.D{}
	if len(update.Inc) > 0 {
		ops = append(ops, bson.E{Key: "$inc", Value: bson.M(update.Inc)})
	}
	if len(update.Set) > 0 {
		ops = append(ops, bson.E{Key: "$set", Value: bson.M(update.Set)})
	}

	res, err := t.db.Collection(collection).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, ops)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func findOne(ctx context.Context, db *mongo.Database, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return toDocument(raw), nil
}

func isTransient(err error) bool {
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		return labeled.HasErrorLabel(labelTransientTransaction) || labeled.HasErrorLabel(labelUnknownCommitResult)
	}
	return false
}

var mongoOps = map[docstore.Op]string{
	docstore.OpEq:  "$eq",
	docstore.OpNe:  "$ne",
	docstore.OpGt:  "$gt",
	docstore.OpGte: "$gte",
	docstore.OpLt:  "$lt",
	docstore.OpLte: "$lte",
}

// toBSON groups conditions by field so a range on one field becomes a single
// {field: {$gte: a, $lte: b}} entry.
func toBSON(filter docstore.Filter) bson.D {
	out := bson.D{}
	index := make(map[string]int)

	for _, c := range filter {
		op, ok := mongoOps[c.Op]
		if !ok {
			continue
		}
		i, seen := index[c.Field]
		if !seen {
			out = append(out, bson.E{Key: c.Field, Value: bson.D{}})
			i = len(out) - 1
			index[c.Field] = i
		}
		ops := out[i].Value.(bson.D)
		out[i].Value = append(ops, bson.E{Key: op, Value: c.Value})
	}
	return out
}

func toDocument(m bson.M) docstore.Document {
	doc := make(docstore.Document, len(m))
	for k, v := range m {
		doc[k] = normalize(v)
	}
	return doc
}

// normalize turns driver-specific types into plain Go values so the services
// never see bson types.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
