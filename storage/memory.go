package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"todo-api/domain"
)

const tblTodos = "todos"

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblTodos: {
			Name: tblTodos,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"order": {
					Name:    "order",
					Unique:  true,
					Indexer: orderIndex{},
				},
			},
		},
	},
}

// orderIndex encodes Order big-endian so iteration follows numeric order.
type orderIndex struct{}

func (orderIndex) FromObject(raw interface{}) (bool, []byte, error) {
	todo, ok := raw.(*domain.Todo)
	if !ok {
		return false, nil, fmt.Errorf("unexpected object type %T", raw)
	}
	return true, encodeOrder(todo.Order), nil
}

func (orderIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	order, ok := args[0].(int)
	if !ok {
		return nil, fmt.Errorf("argument must be an int: %#v", args[0])
	}
	return encodeOrder(order), nil
}

func encodeOrder(order int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(order)^(1<<63))
	return buf
}

// Memory is an in-memory todo store for development and tests.
type Memory struct {
	db  *memdb.MemDB
	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() (*Memory, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Memory{db: db, now: time.Now}, nil
}

// MaxOrder returns the highest order value currently stored.
func (m *Memory) MaxOrder(ctx context.Context) (int, bool, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.Last(tblTodos, "order")
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	return raw.(*domain.Todo).Order, true, nil
}

// InsertTodo stores a new todo. It fails with domain.ErrOrderConflict when
// the order is already taken.
func (m *Memory) InsertTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tblTodos, "order", todo.Order)
	if err != nil {
		return domain.Todo{}, err
	}
	if existing != nil {
		return domain.Todo{}, fmt.Errorf("order %d: %w", todo.Order, domain.ErrOrderConflict)
	}

	now := m.now()
	todo.ID = primitive.NewObjectID().Hex()
	todo.CreatedAt = now
	todo.UpdatedAt = now
	stored := todo
	if err := txn.Insert(tblTodos, &stored); err != nil {
		return domain.Todo{}, err
	}
	txn.Commit()
	return todo, nil
}

// ListTodos returns every todo ordered by order descending.
func (m *Memory) ListTodos(ctx context.Context) ([]domain.TodoSummary, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.GetReverse(tblTodos, "order")
	if err != nil {
		return nil, err
	}
	todos := []domain.TodoSummary{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		todos = append(todos, raw.(*domain.Todo).Summary())
	}
	return todos, nil
}

// GetTodo returns the todo with the given id, or nil when none exists.
func (m *Memory) GetTodo(ctx context.Context, id string) (*domain.Todo, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblTodos, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	// go-memdb hands out the stored pointer; callers get a copy.
	todo := *raw.(*domain.Todo)
	return &todo, nil
}

// UpdateTodo applies upd when the password matches.
func (m *Memory) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	current, err := m.authorize(txn, id, upd.Password)
	if err != nil {
		return err
	}
	updated := upd.Apply(*current, m.now())
	if err := txn.Insert(tblTodos, &updated); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// DeleteTodo removes the todo when the password matches.
func (m *Memory) DeleteTodo(ctx context.Context, id, password string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	current, err := m.authorize(txn, id, password)
	if err != nil {
		return err
	}
	if err := txn.Delete(tblTodos, current); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) authorize(txn *memdb.Txn, id, password string) (*domain.Todo, error) {
	raw, err := txn.First(tblTodos, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrTodoNotFound)
	}
	current := raw.(*domain.Todo)
	if current.Password != password {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrPasswordMismatch)
	}
	return current, nil
}
