package repository

import (
	"context"
	"regexp"
	"time"

	"github.com/example/storefront/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
}

func NewMongoRepository(cfg *config.MongoDBConfig) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        string    `bson:"_id,omitempty" json:"id,omitempty"`
	Service   string    `bson:"service" json:"service"`
	Action    string    `bson:"action" json:"action"`
	EntityID  string    `bson:"entity_id" json:"entity_id"`
	Data      bson.M    `bson:"data" json:"data"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	collection := m.database.Collection(m.config.Collection)
	log.CreatedAt = time.Now()
	_, err := collection.InsertOne(ctx, log)
	return err
}

func (m *MongoRepository) GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*AuditLog, error) {
	collection := m.database.Collection(m.config.Collection)

	filter := bson.M{"entity_id": entityID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}

	return logs, nil
}

// Search index. Documents are snapshots keyed by the entity id.

func (m *MongoRepository) Upsert(ctx context.Context, collection, id string, doc map[string]any) error {
	replacement := bson.M{}
	for k, v := range doc {
		replacement[k] = v
	}
	replacement["_id"] = id
	replacement["indexed_at"] = time.Now()

	_, err := m.database.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id}, replacement, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoRepository) Delete(ctx context.Context, collection, id string) error {
	_, err := m.database.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// Search matches query case-insensitively against name and description.
func (m *MongoRepository) Search(ctx context.Context, collection, query string, limit int64) ([]bson.M, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"name": pattern},
		bson.M{"description": pattern},
	}}

	cursor, err := m.database.Collection(collection).Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
