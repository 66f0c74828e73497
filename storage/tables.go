package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"todo-api/domain"
)

const (
	todosPartition = "todos"
	itemPrefix     = "item:"
	orderPrefix    = "order:"
	// prefixEnd is the character following ':' and bounds RowKey range scans.
	prefixEnd = ";"

	tablesWriteAttempts = 5
)

// Tables stores todos in an Azure Storage table. Every todo lives in one
// partition next to an order marker row so both can change in one
// entity-group transaction.
type Tables struct {
	table *aztables.Client
	now   func() time.Time
}

type todoEntity struct {
	PartitionKey string     `json:"PartitionKey"`
	RowKey       string     `json:"RowKey"`
	Title        *string    `json:"Title,omitempty"`
	Content      *string    `json:"Content,omitempty"`
	Author       string     `json:"Author"`
	Password     string     `json:"Password"`
	Status       *string    `json:"Status,omitempty"`
	Order        int        `json:"Order"`
	DoneAt       *time.Time `json:"DoneAt,omitempty"`
	CreatedAt    time.Time  `json:"CreatedAt"`
	UpdatedAt    time.Time  `json:"UpdatedAt"`
}

type entityKey struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type orderMarker struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	TodoID       string `json:"TodoID"`
}

// NewTables creates the table client from a connection string and creates
// the table when it does not exist yet.
func NewTables(ctx context.Context, connStr, tableName string) (*Tables, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	t := &Tables{table: svc.NewClient(tableName), now: time.Now}
	if err := t.ensureTable(ctx); err != nil {
		return nil, err
	}
	log.WithField("table", tableName).Info("table storage ready")
	return t, nil
}

func (t *Tables) ensureTable(ctx context.Context) error {
	if _, err := t.table.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Ping reads at most one entity to check the table is reachable.
func (t *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	_, err := pager.NextPage(ctx)
	return err
}

// MaxOrder scans the order markers; RowKeys are zero padded so the last
// one holds the maximum.
func (t *Tables) MaxOrder(ctx context.Context) (int, bool, error) {
	filter := rangeFilter(orderPrefix)
	sel := "RowKey"
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	var last string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("list order markers: %w", err)
		}
		for _, raw := range resp.Entities {
			var m orderMarker
			if err := json.Unmarshal(raw, &m); err != nil {
				return 0, false, err
			}
			if m.RowKey > last {
				last = m.RowKey
			}
		}
	}
	if last == "" {
		return 0, false, nil
	}
	order, err := parseOrderKey(last)
	if err != nil {
		return 0, false, err
	}
	return order, true, nil
}

// InsertTodo adds the todo and its order marker atomically. An existing
// marker makes the transaction fail, reported as domain.ErrOrderConflict.
func (t *Tables) InsertTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	now := t.now().UTC()
	todo.ID = primitive.NewObjectID().Hex()
	todo.CreatedAt = now
	todo.UpdatedAt = now

	item, err := json.Marshal(toEntity(todo))
	if err != nil {
		return domain.Todo{}, err
	}
	marker, err := json.Marshal(orderMarker{PartitionKey: todosPartition, RowKey: orderKey(todo.Order), TodoID: todo.ID})
	if err != nil {
		return domain.Todo{}, err
	}
	_, err = t.table.SubmitTransaction(ctx, []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeAdd, Entity: item},
		{ActionType: aztables.TransactionTypeAdd, Entity: marker},
	}, nil)
	if err != nil {
		if hasStatus(err, http.StatusConflict) {
			return domain.Todo{}, fmt.Errorf("order %d: %w", todo.Order, domain.ErrOrderConflict)
		}
		return domain.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	return todo, nil
}

// ListTodos returns every todo projected for the list route, order descending.
func (t *Tables) ListTodos(ctx context.Context) ([]domain.TodoSummary, error) {
	filter := rangeFilter(itemPrefix)
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	todos := []domain.Todo{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list todos: %w", err)
		}
		for _, raw := range resp.Entities {
			todo, err := decodeTodoEntity(raw)
			if err != nil {
				return nil, err
			}
			todos = append(todos, todo)
		}
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].Order > todos[j].Order })

	summaries := make([]domain.TodoSummary, 0, len(todos))
	for _, todo := range todos {
		summaries = append(summaries, todo.Summary())
	}
	return summaries, nil
}

// GetTodo returns the todo with the given id, or nil when none exists.
func (t *Tables) GetTodo(ctx context.Context, id string) (*domain.Todo, error) {
	todo, _, err := t.load(ctx, id)
	return todo, err
}

// UpdateTodo replaces the entity when the password matches, guarded by
// the ETag read alongside it. Lost races are retried on fresh state.
func (t *Tables) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	for attempt := 0; attempt < tablesWriteAttempts; attempt++ {
		current, etag, err := t.authorize(ctx, id, upd.Password)
		if err != nil {
			return err
		}
		updated := upd.Apply(*current, t.now().UTC())
		payload, err := json.Marshal(toEntity(updated))
		if err != nil {
			return err
		}
		_, err = t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return nil
		}
		if !hasStatus(err, http.StatusPreconditionFailed) {
			return fmt.Errorf("update todo %s: %w", id, err)
		}
		log.WithField("todo", id).Debug("todo changed during update, retrying")
	}
	return fmt.Errorf("update todo %s: %w", id, domain.ErrConcurrencyConflict)
}

// DeleteTodo removes the todo and its order marker when the password matches.
func (t *Tables) DeleteTodo(ctx context.Context, id, password string) error {
	for attempt := 0; attempt < tablesWriteAttempts; attempt++ {
		current, etag, err := t.authorize(ctx, id, password)
		if err != nil {
			return err
		}
		item, _ := json.Marshal(entityKey{PartitionKey: todosPartition, RowKey: itemPrefix + id})
		marker, _ := json.Marshal(entityKey{PartitionKey: todosPartition, RowKey: orderKey(current.Order)})
		anyTag := azcore.ETagAny
		_, err = t.table.SubmitTransaction(ctx, []aztables.TransactionAction{
			{ActionType: aztables.TransactionTypeDelete, Entity: item, IfMatch: &etag},
			{ActionType: aztables.TransactionTypeDelete, Entity: marker, IfMatch: &anyTag},
		}, nil)
		if err == nil {
			return nil
		}
		if !hasStatus(err, http.StatusPreconditionFailed) {
			return fmt.Errorf("delete todo %s: %w", id, err)
		}
		log.WithField("todo", id).Debug("todo changed during delete, retrying")
	}
	return fmt.Errorf("delete todo %s: %w", id, domain.ErrConcurrencyConflict)
}

func (t *Tables) authorize(ctx context.Context, id, password string) (*domain.Todo, azcore.ETag, error) {
	current, etag, err := t.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if current == nil {
		return nil, "", fmt.Errorf("%s: %w", id, domain.ErrTodoNotFound)
	}
	if current.Password != password {
		return nil, "", fmt.Errorf("%s: %w", id, domain.ErrPasswordMismatch)
	}
	return current, etag, nil
}

func (t *Tables) load(ctx context.Context, id string) (*domain.Todo, azcore.ETag, error) {
	if !validRowKeyID(id) {
		return nil, "", nil
	}
	resp, err := t.table.GetEntity(ctx, todosPartition, itemPrefix+id, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("get todo %s: %w", id, err)
	}
	todo, err := decodeTodoEntity(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return &todo, resp.ETag, nil
}

// validRowKeyID reports whether id can be part of a RowKey. Ids the table
// service would reject cannot belong to a stored todo.
func validRowKeyID(id string) bool {
	if id == "" || len(id) > 512 {
		return false
	}
	for _, r := range id {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) || strings.ContainsRune(`/\#?`, r) {
			return false
		}
	}
	return true
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func rangeFilter(prefix string) string {
	lower := prefix
	upper := strings.TrimSuffix(prefix, ":") + prefixEnd
	return fmt.Sprintf("PartitionKey eq '%s' and RowKey ge '%s' and RowKey lt '%s'", todosPartition, lower, upper)
}

func orderKey(order int) string {
	return fmt.Sprintf("%s%010d", orderPrefix, order)
}

func parseOrderKey(key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, orderPrefix))
	if err != nil {
		return 0, fmt.Errorf("invalid order marker %q: %w", key, err)
	}
	return n, nil
}

func toEntity(t domain.Todo) todoEntity {
	return todoEntity{
		PartitionKey: todosPartition,
		RowKey:       itemPrefix + t.ID,
		Title:        t.Title,
		Content:      t.Content,
		Author:       t.Author,
		Password:     t.Password,
		Status:       t.Status,
		Order:        t.Order,
		DoneAt:       t.DoneAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func decodeTodoEntity(data []byte) (domain.Todo, error) {
	var ent todoEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Todo{}, fmt.Errorf("decode todo entity: %w", err)
	}
	return domain.Todo{
		ID:        strings.TrimPrefix(ent.RowKey, itemPrefix),
		Title:     ent.Title,
		Content:   ent.Content,
		Author:    ent.Author,
		Password:  ent.Password,
		Status:    ent.Status,
		Order:     ent.Order,
		DoneAt:    ent.DoneAt,
		CreatedAt: ent.CreatedAt,
		UpdatedAt: ent.UpdatedAt,
	}, nil
}
