package patient

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore persists documents in a MongoDB collection. The unique index on
// patient_id plus $setOnInsert give the insert-or-merge semantics without a
// read-then-write race.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore wraps an already-constructed client. The client dials lazily;
// reachability is the readiness gate's job.
func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique key index and the secondary lookup
// indexes. CreateMany is idempotent for identical definitions.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "patient_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name.normalized", Value: 1}}},
		{Keys: bson.D{{Key: "medical_condition", Value: 1}}},
		{Keys: bson.D{{Key: "admission.date", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// UpsertBatch writes one unordered bulk of upserts. Per-write errors are
// mapped back to their document keys and classified transient or permanent;
// a failure of the bulk call itself is returned as a keyless *WriteError.
func (s *MongoStore) UpsertBatch(ctx context.Context, docs []*Document) (BatchResult, error) {
	if len(docs) == 0 {
		return BatchResult{}, nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		update, err := upsertUpdate(doc)
		if err != nil {
			return BatchResult{}, &WriteError{Key: doc.PatientID, Err: err}
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "patient_id", Value: doc.PatientID}}).
			SetUpdate(update).
			SetUpsert(true))
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) {
			return BatchResult{}, &WriteError{Transient: isTransientMongo(err), Err: err}
		}
		// Unordered bulk: the writes not listed in WriteErrors landed.
		result := bulkOutcome(res)
		for _, we := range bwe.WriteErrors {
			key := ""
			if we.Index >= 0 && we.Index < len(docs) {
				key = docs[we.Index].PatientID
			}
			result.Failed = append(result.Failed, &WriteError{
				Key:       key,
				Transient: transientMongoCode(we.Code),
				Err:       errors.New(we.Message),
			})
		}
		if bwe.WriteConcernError != nil {
			return result, &WriteError{Transient: true, Err: errors.New(bwe.WriteConcernError.Message)}
		}
		return result, nil
	}

	return bulkOutcome(res), nil
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// upsertUpdate builds the update document: $set everything except created_at,
// which only applies on insert. Matches get their created_at left alone.
func upsertUpdate(doc *Document) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	delete(fields, "created_at")

	return bson.M{
		"$set":         fields,
		"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
	}, nil
}

// bulkOutcome reads insert/update counts off a bulk result. Matched counts as
// updated: every merge rewrites updated_at, so a match is always a write.
func bulkOutcome(res *mongo.BulkWriteResult) BatchResult {
	if res == nil {
		return BatchResult{}
	}
	return BatchResult{
		Inserted: int(res.UpsertedCount),
		Updated:  int(res.MatchedCount),
	}
}

// Server error codes worth retrying: stepdowns, shutdowns, write conflicts,
// and the duplicate-key race two concurrent first-inserts of one key can hit
// (the retry lands on the update path).
var transientMongoCodes = map[int]bool{
	6:     true, // HostUnreachable
	7:     true, // HostNotFound
	89:    true, // NetworkTimeout
	91:    true, // ShutdownInProgress
	112:   true, // WriteConflict
	189:   true, // PrimarySteppedDown
	9001:  true, // SocketException
	10107: true, // NotWritablePrimary
	11000: true, // DuplicateKey
	11600: true, // InterruptedAtShutdown
	11602: true, // InterruptedDueToReplStateChange
	13435: true, // NotPrimaryNoSecondaryOk
	13436: true, // NotPrimaryOrSecondary
}

func transientMongoCode(code int) bool {
	return transientMongoCodes[code]
}

// isTransientMongo classifies a whole-call failure. Network errors and
// timeouts are retryable because the upserts are idempotent.
func isTransientMongo(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for code := range transientMongoCodes {
			if se.HasErrorCode(code) {
				return true
			}
		}
	}
	return false
}
