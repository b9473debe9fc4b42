// Package mongo targets a MongoDB deployment. All items live in one
// collection with a discriminator field, so a single set of indexes
// covers every data type:
//
//	{_id: <row id>, collection: <type name>, data: <item document>}
//
// Multi-document transactions come from driver sessions, which require
// a replica set or mongos. Native queries are bson.M filter documents
// over the stored shape; item fields sit under "data.".
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/registry"
)

const (
	defaultDatabase   = "operon"
	defaultCollection = "records"
)

type Store struct {
	name     string
	client   *mongo.Client
	coll     *mongo.Collection
	database string
	collName string
	reg      *registry.Registry
}

type Option func(*Store)

// WithName sets the target name reported to the engine.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithDatabase selects the database; defaults to "operon".
func WithDatabase(db string) Option {
	return func(s *Store) { s.database = db }
}

// WithCollection selects the backing collection; defaults to "records".
func WithCollection(coll string) Option {
	return func(s *Store) { s.collName = coll }
}

// WithRegistry supplies type mappings applied on the way in and out.
func WithRegistry(reg *registry.Registry) Option {
	return func(s *Store) { s.reg = reg }
}

// Open connects to the deployment at uri and verifies the connection.
func Open(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	s := &Store{
		name:     "mongo",
		database: defaultDatabase,
		collName: defaultCollection,
	}
	for _, opt := range opts {
		opt(s)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.name, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping %s: %w", s.name, err)
	}

	s.client = client
	s.coll = client.Database(s.database).Collection(s.collName)
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureIndexes creates the discriminator index every read filters on.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "collection", Value: 1}},
		Options: options.Index().SetUnique(false),
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return s.name }

// Collection exposes the backing collection for maintenance tasks.
func (s *Store) Collection() *mongo.Collection { return s.coll }

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Transaction runs fn inside one session transaction. The session
// context flows through ctx, so every operation fn issues joins the
// transaction.
func (s *Store) Transaction(ctx context.Context, fn func(context.Context, engine.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx, &mongoTx{store: s})
	})
	return err
}
