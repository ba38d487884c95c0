// Package mongo implements the low-level MongoDB client used by the message
// store. Each message is one document holding its canonical JSON encoding
// next to the fields used for lookup and ordering.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/store"
)

const (
	defaultCollection = "acontext_messages"
	defaultTimeout    = 5 * time.Second
	clientName        = "messages-mongo"
)

// Client exposes Mongo-backed operations for session messages.
type Client interface {
	health.Pinger

	AppendMessages(ctx context.Context, sessionID string, msgs []*message.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]*message.Message, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// messageDocument stores a message. Payload is the canonical JSON encoding
// so provider extras survive unchanged; BSON would rewrite nested maps.
type messageDocument struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	ParentID  string    `bson:"parent_id,omitempty"`
	Role      string    `bson:"role"`
	Format    string    `bson:"source_format,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	Seq       int64     `bson:"seq"`
	Payload   string    `bson:"payload"`
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) AppendMessages(ctx context.Context, sessionID string, msgs []*message.Message) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	docs := make([]any, len(msgs))
	base := time.Now().UnixNano()
	for i, m := range msgs {
		doc, err := toDocument(sessionID, m, base+int64(i))
		if err != nil {
			return err
		}
		docs[i] = doc
	}
	if _, err := c.coll.InsertMany(ctx, docs); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", store.ErrDuplicateMessage, err)
		}
		return err
	}
	return nil
}

func (c *client) ListMessages(ctx context.Context, sessionID string) ([]*message.Message, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := c.coll.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	msgs := make([]*message.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toDocument(sessionID string, m *message.Message, seq int64) (messageDocument, error) {
	if m == nil || m.ID == "" {
		return messageDocument{}, errors.New("message id is required")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return messageDocument{}, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return messageDocument{
		ID:        m.ID,
		SessionID: sessionID,
		ParentID:  m.ParentID,
		Role:      string(m.Role),
		Format:    string(m.SourceFormat()),
		CreatedAt: m.CreatedAt.UTC(),
		Seq:       seq,
		Payload:   string(payload),
	}, nil
}

func fromDocument(doc messageDocument) (*message.Message, error) {
	var m message.Message
	if err := json.Unmarshal([]byte(doc.Payload), &m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", doc.ID, err)
	}
	return &m, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	InsertMany(ctx context.Context, documents []any) (*mongodriver.InsertManyResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertMany(ctx context.Context, documents []any) (*mongodriver.InsertManyResult, error) {
	return c.coll.InsertMany(ctx, documents)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}
