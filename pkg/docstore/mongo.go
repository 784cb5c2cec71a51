package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

const defaultCollection = "messages"

// MongoConfig configures the MongoDB-backed message store.
type MongoConfig struct {
	// URI is the MongoDB connection string (default: mongodb://localhost:27017).
	URI string `yaml:"uri,omitempty"`

	// Database name (default: conductor).
	Database string `yaml:"database,omitempty"`

	// Collection name (default: messages).
	Collection string `yaml:"collection,omitempty"`

	// Timeout bounds connection and index operations.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (c *MongoConfig) SetDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "conductor"
	}
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// MongoStore implements MessageStore on a MongoDB collection with a sparse
// unique index on message_id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	cfg.SetDefaults()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to mongo at %s: %w", cfg.URI, err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	}
	if _, err := s.coll.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create message_id index: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, msg protocol.Message) error {
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *MongoStore) ListByConversation(ctx context.Context, conversationID string) ([]protocol.Message, error) {
	cursor, err := s.coll.Find(ctx,
		bson.D{{Key: "conversation_id", Value: conversationID}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", conversationID, err)
	}
	defer cursor.Close(ctx)

	var messages []protocol.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages for %s: %w", conversationID, err)
	}
	return messages, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
