package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

// Backend is the persistence contract shared by every todo store.
type Backend interface {
	MaxOrder(ctx context.Context) (int, bool, error)
	InsertTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error)
	ListTodos(ctx context.Context) ([]domain.TodoSummary, error)
	GetTodo(ctx context.Context, id string) (*domain.Todo, error)
	UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error
	DeleteTodo(ctx context.Context, id, password string) error
	Ping(ctx context.Context) error
}

// Cache wraps a Backend with Redis-backed caching for read operations.
//
// Every write bumps a generation counter next to each key it evicts. A read
// that misses remembers the generation it saw before loading from the
// backend and only fills the key if the counter is unchanged, so a load that
// raced with a write never overwrites the eviction with the older document.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) MaxOrder(ctx context.Context) (int, bool, error) {
	return c.base.MaxOrder(ctx)
}

func (c *Cache) InsertTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	created, err := c.base.InsertTodo(ctx, todo)
	if err != nil {
		return domain.Todo{}, err
	}
	c.evict(ctx, listCacheKey)
	return created, nil
}

func (c *Cache) ListTodos(ctx context.Context) ([]domain.TodoSummary, error) {
	var cached []domain.TodoSummary
	if c.load(ctx, listCacheKey, &cached) {
		return cached, nil
	}

	gen, fill := c.generation(ctx, listCacheKey)
	todos, err := c.base.ListTodos(ctx)
	if err != nil {
		return nil, err
	}
	if fill {
		c.store(ctx, listCacheKey, gen, todos)
	}
	return todos, nil
}

func (c *Cache) GetTodo(ctx context.Context, id string) (*domain.Todo, error) {
	var cached cachedTodo
	if c.load(ctx, todoCacheKey(id), &cached) {
		return cached.todo(), nil
	}

	gen, fill := c.generation(ctx, todoCacheKey(id))
	todo, err := c.base.GetTodo(ctx, id)
	if err != nil {
		return nil, err
	}
	if todo != nil && fill {
		c.store(ctx, todoCacheKey(id), gen, newCachedTodo(*todo))
	}
	return todo, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	if err := c.base.UpdateTodo(ctx, id, upd); err != nil {
		return err
	}
	c.evict(ctx, listCacheKey, todoCacheKey(id))
	return nil
}

func (c *Cache) DeleteTodo(ctx context.Context, id, password string) error {
	if err := c.base.DeleteTodo(ctx, id, password); err != nil {
		return err
	}
	c.evict(ctx, listCacheKey, todoCacheKey(id))
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// generation returns the write counter of key as seen before a backend load.
// The second result is false when the key must not be filled.
func (c *Cache) generation(ctx context.Context, key string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey(key)).Result()
	if err != nil && err != redis.Nil {
		return "", false
	}
	return gen, true
}

// store fills key unless a write moved its generation past gen.
func (c *Cache) store(ctx context.Context, key, gen string, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	genKey := generationKey(key)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, generationKey(key))
			pipe.Expire(ctx, generationKey(key), generationTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
}

// cachedTodo mirrors domain.Todo without its custom marshaller so the id
// survives the round trip under a single key.
type cachedTodo struct {
	ID        string     `json:"id"`
	Title     *string    `json:"title"`
	Content   *string    `json:"content"`
	Author    string     `json:"author"`
	Password  string     `json:"password"`
	Status    *string    `json:"status"`
	Order     int        `json:"order"`
	DoneAt    *time.Time `json:"doneAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func newCachedTodo(t domain.Todo) cachedTodo {
	return cachedTodo(t)
}

func (c cachedTodo) todo() *domain.Todo {
	t := domain.Todo(c)
	return &t
}

const listCacheKey = "todos:list"

// generationTTL bounds how long write counters outlive their last write. It
// must exceed the longest backend read a fill can race with.
const generationTTL = time.Hour

func generationKey(key string) string {
	return "todos:gen:" + key
}

func todoCacheKey(id string) string {
	return "todos:item:" + id
}
