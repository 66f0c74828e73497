package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"todo-api/domain"
)

// MongoConfig holds the connection parameters of the document store.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
}

// Mongo stores todos in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
	now    func() time.Time
}

// todoDocument is the persisted shape of a todo.
type todoDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     *string            `bson:"title"`
	Content   *string            `bson:"content"`
	Author    string             `bson:"author"`
	Password  storedPassword     `bson:"password"`
	Status    *string            `bson:"status"`
	Order     int                `bson:"order"`
	DoneAt    *time.Time         `bson:"doneAt"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// storedPassword is written as a string. Collections created before the
// field became a string hold numbers, which decode to their decimal form.
type storedPassword string

func (p *storedPassword) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.String:
		*p = storedPassword(raw.StringValue())
	case bsontype.Int32:
		*p = storedPassword(strconv.FormatInt(int64(raw.Int32()), 10))
	case bsontype.Int64:
		*p = storedPassword(strconv.FormatInt(raw.Int64(), 10))
	case bsontype.Double:
		*p = storedPassword(strconv.FormatFloat(raw.Double(), 'f', -1, 64))
	case bsontype.Null, bsontype.Undefined:
		*p = ""
	default:
		return fmt.Errorf("cannot decode %s into a password", t)
	}
	return nil
}

// passwordFilter matches password as written now and, when it is the
// decimal form of a number, as a numeric field of an older document.
func passwordFilter(password string) any {
	f, err := strconv.ParseFloat(password, 64)
	if err != nil || strconv.FormatFloat(f, 'f', -1, 64) != password {
		return password
	}
	return bson.M{"$in": bson.A{password, f}}
}

// summaryProjection selects the fields returned by the list route.
var summaryProjection = bson.D{
	{Key: "_id", Value: 0},
	{Key: "title", Value: 1},
	{Key: "author", Value: 1},
	{Key: "password", Value: 1},
	{Key: "status", Value: 1},
	{Key: "createdAt", Value: 1},
}

var orderDesc = bson.D{{Key: "order", Value: -1}}

// NewMongo connects to MongoDB, verifies the connection and ensures indexes.
func NewMongo(ctx context.Context, conf MongoConfig) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(conf.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, conf.PingTimeout)
	defer cancelPing()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	col := client.Database(conf.Database).Collection(conf.Collection)
	if err := ensureIndexes(connectCtx, col); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.WithFields(log.Fields{"db": conf.Database, "collection": conf.Collection}).Info("mongo connected")
	return &Mongo{client: client, col: col, now: time.Now}, nil
}

func ensureIndexes(ctx context.Context, col *mongo.Collection) error {
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "order", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create order index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// MaxOrder returns the order of the last todo.
func (m *Mongo) MaxOrder(ctx context.Context) (int, bool, error) {
	var doc struct {
		Order int `bson:"order"`
	}
	opts := options.FindOne().SetSort(orderDesc).SetProjection(bson.M{"order": 1})
	if err := m.col.FindOne(ctx, bson.M{}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find max order: %w", err)
	}
	return doc.Order, true, nil
}

// InsertTodo persists a new todo. A duplicate order is reported as
// domain.ErrOrderConflict.
func (m *Mongo) InsertTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	now := m.now().UTC().Truncate(time.Millisecond)
	todo.CreatedAt = now
	todo.UpdatedAt = now
	doc := toDocument(todo)
	doc.ID = primitive.NewObjectID()

	if _, err := m.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Todo{}, fmt.Errorf("order %d: %w", todo.Order, domain.ErrOrderConflict)
		}
		return domain.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	return fromDocument(doc), nil
}

// ListTodos returns every todo projected for the list route, order descending.
func (m *Mongo) ListTodos(ctx context.Context) ([]domain.TodoSummary, error) {
	cur, err := m.col.Find(ctx, bson.M{}, options.Find().SetSort(orderDesc).SetProjection(summaryProjection))
	if err != nil {
		return nil, fmt.Errorf("find todos: %w", err)
	}
	defer cur.Close(ctx)

	todos := []domain.TodoSummary{}
	for cur.Next(ctx) {
		var doc todoDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode todo: %w", err)
		}
		todos = append(todos, fromDocument(doc).Summary())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}
	return todos, nil
}

// GetTodo returns the todo with the given id. Unknown and malformed ids
// both yield nil.
func (m *Mongo) GetTodo(ctx context.Context, id string) (*domain.Todo, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	var doc todoDocument
	if err := m.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find todo %s: %w", id, err)
	}
	todo := fromDocument(doc)
	return &todo, nil
}

// UpdateTodo applies upd in a single write conditioned on the password.
func (m *Mongo) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%s: %w", id, domain.ErrTodoNotFound)
	}
	res, err := m.col.UpdateOne(ctx, bson.M{"_id": oid, "password": passwordFilter(upd.Password)}, bson.M{"$set": updateFields(upd, m.now())})
	if err != nil {
		return fmt.Errorf("update todo %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return m.classifyMiss(ctx, oid)
	}
	return nil
}

// DeleteTodo removes the todo in a single write conditioned on the password.
func (m *Mongo) DeleteTodo(ctx context.Context, id, password string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%s: %w", id, domain.ErrTodoNotFound)
	}
	res, err := m.col.DeleteOne(ctx, bson.M{"_id": oid, "password": passwordFilter(password)})
	if err != nil {
		return fmt.Errorf("delete todo %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return m.classifyMiss(ctx, oid)
	}
	return nil
}

// classifyMiss tells apart a missing document from a password mismatch
// after a conditional write matched nothing.
func (m *Mongo) classifyMiss(ctx context.Context, oid primitive.ObjectID) error {
	n, err := m.col.CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count todo %s: %w", oid.Hex(), err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", oid.Hex(), domain.ErrTodoNotFound)
	}
	return fmt.Errorf("%s: %w", oid.Hex(), domain.ErrPasswordMismatch)
}

func updateFields(upd domain.TodoUpdate, now time.Time) bson.M {
	set := bson.M{
		"title":     upd.Title,
		"content":   upd.Content,
		"status":    upd.Status,
		"updatedAt": now.UTC().Truncate(time.Millisecond),
	}
	if upd.SetDoneAt {
		set["doneAt"] = upd.DoneAt
	}
	return set
}

func toDocument(t domain.Todo) todoDocument {
	return todoDocument{
		Title:     t.Title,
		Content:   t.Content,
		Author:    t.Author,
		Password:  storedPassword(t.Password),
		Status:    t.Status,
		Order:     t.Order,
		DoneAt:    t.DoneAt,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromDocument(d todoDocument) domain.Todo {
	t := domain.Todo{
		Title:     d.Title,
		Content:   d.Content,
		Author:    d.Author,
		Password:  string(d.Password),
		Status:    d.Status,
		Order:     d.Order,
		DoneAt:    d.DoneAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if !d.ID.IsZero() {
		t.ID = d.ID.Hex()
	}
	return t
}
