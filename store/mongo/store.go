// Package mongo implements store.Store on MongoDB through the grove
// mongodriver.
//
// All keys of one namespace live as fields of a single document, so a
// multi-entry Put is one atomic $set and needs no replica set or
// multi-document transaction.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/getanswer"
	getanswerstore "github.com/xraph/getanswer/store"
)

// Collection and namespace defaults.
const (
	colKV            = "getanswer_kv"
	DefaultNamespace = "default"
)

// compile-time interface check
var _ getanswerstore.Store = (*Store)(nil)

type kvDocument struct {
	ID        string            `bson:"_id"`
	Values    map[string][]byte `bson:"values"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db        *grove.DB
	mdb       *mongodriver.MongoDB
	namespace string
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace selects the document that holds this store's keys.
// Distinct namespaces let several ledgers share one collection.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// Open connects to uri and uses database dbName. Close disconnects.
func Open(ctx context.Context, uri, dbName string, opts ...Option) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(dbName)); err != nil {
		return nil, fmt.Errorf("getanswer/mongo: open: %w", err)
	}

	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("getanswer/mongo: grove: %w", err)
	}
	return New(db, opts...), nil
}

// New creates a store backed by an open grove database.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		mdb:       mongodriver.Unwrap(db),
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate applies the collection migrations and ensures the namespace
// document exists.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.mdb)
	if err != nil {
		return fmt.Errorf("getanswer/mongo: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("getanswer/mongo: migration failed: %w", err)
	}

	_, err = s.col().UpdateOne(ctx,
		bson.M{"_id": s.namespace},
		bson.M{"$setOnInsert": bson.M{"values": bson.M{}, "updated_at": time.Now().UTC()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("getanswer/mongo: migrate namespace %s: %w", s.namespace, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) col() *mongo.Collection { return s.mdb.Collection(colKV) }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc kvDocument
	err := s.col().FindOne(ctx,
		bson.M{"_id": s.namespace},
		options.FindOne().SetProjection(bson.M{"values." + key: 1}),
	).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, getanswer.ErrNotFound
		}
		return nil, fmt.Errorf("getanswer/mongo: get %s: %w", key, err)
	}

	v, ok := doc.Values[key]
	if !ok {
		return nil, getanswer.ErrNotFound
	}
	return v, nil
}

func (s *Store) Put(ctx context.Context, entries ...getanswerstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	set := make(bson.M, len(entries)+1)
	for _, e := range entries {
		set["values."+e.Key] = e.Value
	}
	set["updated_at"] = time.Now().UTC()

	_, err := s.col().UpdateOne(ctx,
		bson.M{"_id": s.namespace},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("getanswer/mongo: put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	unset := make(bson.M, len(keys))
	for _, k := range keys {
		unset["values."+k] = ""
	}

	_, err := s.col().UpdateOne(ctx,
		bson.M{"_id": s.namespace},
		bson.M{"$unset": unset, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("getanswer/mongo: delete: %w", err)
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
