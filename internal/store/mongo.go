package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// codeIndexOptionsConflict is returned when an index with the same name but
// different options exists already.
const codeIndexOptionsConflict = 85

// IndexSpec describes a secondary index.
type IndexSpec struct {
	Name string
	Keys bson.D
}

// Store is a MongoDB database holding dataset records and their documents.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	datasets string
	logger   *slog.Logger
}

// Connect opens a client for uri and pings the server.
func Connect(ctx context.Context, uri, database, datasetCollection string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}
	logger.Info("Connecting to MongoDB.", slog.String("uri", redactURI(uri)), slog.String("database", database))

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{
		client:   client,
		db:       client.Database(database),
		datasets: datasetCollection,
		logger:   logger,
	}, nil
}

// Disconnect closes the client.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DatasetVersion returns the stored version of a dataset.
func (s *Store) DatasetVersion(ctx context.Context, id string) (string, bool, error) {
	var doc struct {
		Version string `bson:"version"`
	}
	opts := options.FindOne().SetProjection(bson.M{"version": 1})
	err := s.db.Collection(s.datasets).FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find dataset %s: %w", id, err)
	}
	return doc.Version, true, nil
}

// UpsertDataset sets fields on the dataset record with the given id,
// creating it if needed.
func (s *Store) UpsertDataset(ctx context.Context, id string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	set["_id"] = id
	_, err := s.db.Collection(s.datasets).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert dataset %s: %w", id, err)
	}
	return nil
}

// DeleteMany removes every document in collection matching filter.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("deleteMany on %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// InsertMany performs one unordered insert. Rejections of individual
// documents are returned as *PartialInsertError.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []any) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	res, err := s.db.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(res.InsertedIDs), nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && bwe.WriteConcernError == nil && len(bwe.WriteErrors) > 0 && len(bwe.WriteErrors) < len(docs) {
		return len(docs) - len(bwe.WriteErrors), &PartialInsertError{
			Inserted: len(docs) - len(bwe.WriteErrors),
			Rejected: len(bwe.WriteErrors),
			err:      err,
		}
	}
	return 0, fmt.Errorf("insertMany on %s: %w", collection, err)
}

// EnsureIndexes creates the given indexes, skipping any that conflict with
// an existing index of the same name.
func (s *Store) EnsureIndexes(ctx context.Context, collection string, specs []IndexSpec) error {
	l := s.logger.With(slog.String("collection", collection))
	idx := s.db.Collection(collection).Indexes()
	var errs error
	for _, spec := range specs {
		model := mongo.IndexModel{Keys: spec.Keys, Options: options.Index().SetName(spec.Name)}
		if _, err := idx.CreateOne(ctx, model); err != nil {
			var se mongo.ServerError
			if errors.As(err, &se) && se.HasErrorCode(codeIndexOptionsConflict) {
				l.Debug("Index exists with different options, skipping.", slog.String("index", spec.Name))
				continue
			}
			errs = errors.Join(errs, fmt.Errorf("create index %s on %s: %w", spec.Name, collection, err))
		}
	}
	return errs
}

// redactURI hides the password of a connection string.
func redactURI(uri string) string {
	scheme := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if scheme < 0 || at < scheme {
		return uri
	}
	creds := uri[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return uri[:scheme+3] + user + ":***" + uri[at:]
	}
	return uri
}
