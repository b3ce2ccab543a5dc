package source

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Fields of the physical Mongo layout. A subcollection "jobs" of the root
// collection "customers" is stored in the collection "customers/jobs" and
// each of its documents carries the parent document id in mongoParentField.
const (
	mongoIDField     = "_id"
	mongoParentField = "_parent"
	mongoPathSep     = "/"
)

// MongoStore reads a document store kept in MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri and verifies the connection.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var roots []string
	for _, n := range names {
		if !strings.Contains(n, mongoPathSep) {
			roots = append(roots, n)
		}
	}
	sort.Strings(roots)
	return roots, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, collection string) iter.Seq2[Document, error] {
	return s.find(ctx, collection, bson.D{})
}

func (s *MongoStore) ListSubcollections(ctx context.Context, collection, documentID string) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	prefix := collection + mongoPathSep
	var subs []string
	for _, n := range names {
		sub, ok := strings.CutPrefix(n, prefix)
		if !ok || sub == "" || strings.Contains(sub, mongoPathSep) {
			continue
		}
		count, err := s.db.Collection(n).CountDocuments(ctx, parentFilter(documentID),
			options.Count().SetLimit(1))
		if err != nil {
			return nil, err
		}
		if count > 0 {
			subs = append(subs, sub)
		}
	}
	sort.Strings(subs)
	return subs, nil
}

func (s *MongoStore) ListSubDocuments(ctx context.Context, collection, documentID, subcollection string) iter.Seq2[Document, error] {
	return s.find(ctx, collection+mongoPathSep+subcollection, parentFilter(documentID))
}

// parentFilter matches children of documentID. Parent ids that look like an
// ObjectID may have been stored either as the hex string or as the ObjectID.
func parentFilter(documentID string) bson.D {
	oid, err := primitive.ObjectIDFromHex(documentID)
	if err != nil {
		return bson.D{{Key: mongoParentField, Value: documentID}}
	}
	return bson.D{{Key: mongoParentField, Value: bson.D{{Key: "$in", Value: bson.A{documentID, oid}}}}}
}

func (s *MongoStore) find(ctx context.Context, collection string, filter bson.D) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		cursor, err := s.db.Collection(collection).Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: mongoIDField, Value: 1}}))
		if err != nil {
			yield(Document{}, err)
			return
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var raw bson.M
			if err := cursor.Decode(&raw); err != nil {
				yield(Document{}, err)
				return
			}
			if !yield(mongoDocument(raw), nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(Document{}, err)
		}
	}
}

// mongoDocument strips the layout fields and converts BSON values to the
// plain Go values the rest of the pipeline understands.
func mongoDocument(raw bson.M) Document {
	id := mongoID(raw[mongoIDField])
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == mongoIDField || k == mongoParentField {
			continue
		}
		fields[k] = normalizeBSON(v)
	}
	return Document{ID: id, Fields: fields}
}

func mongoID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return int64(t.T)
	case primitive.Decimal128:
		return t.String()
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}
