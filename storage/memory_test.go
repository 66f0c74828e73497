package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todo-api/domain"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory()
	require.NoError(t, err)
	return m
}

func insertN(t *testing.T, m *Memory, n int) []domain.Todo {
	t.Helper()
	ctx := context.Background()
	var out []domain.Todo
	for i := 0; i < n; i++ {
		maxOrder, found, err := m.MaxOrder(ctx)
		require.NoError(t, err)
		created, err := m.InsertTodo(ctx, domain.NewTodo{
			Title:    "title",
			Content:  "content",
			Author:   "author",
			Password: "pw",
		}.Build(domain.NextOrder(maxOrder, found)))
		require.NoError(t, err)
		out = append(out, created)
	}
	return out
}

func TestMemoryInsertAssignsIDAndTimestamps(t *testing.T) {
	m := newTestMemory(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	created := insertN(t, m, 1)[0]
	assert.Len(t, created.ID, 24)
	assert.Equal(t, 1, created.Order)
	assert.True(t, created.CreatedAt.Equal(fixed))
	assert.True(t, created.UpdatedAt.Equal(fixed))

	got, err := m.GetTodo(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created, *got)
}

func TestMemoryMaxOrder(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, found, err := m.MaxOrder(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	// Orders beyond a single varint byte must still sort numerically.
	for _, order := range []int{3, 200, 64, 1} {
		_, err := m.InsertTodo(ctx, domain.NewTodo{Title: "t", Content: "c", Author: "a", Password: "p"}.Build(order))
		require.NoError(t, err)
	}
	maxOrder, found, err := m.MaxOrder(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 200, maxOrder)
}

func TestMemoryInsertRejectsDuplicateOrder(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	todo := domain.NewTodo{Title: "t", Content: "c", Author: "a", Password: "p"}.Build(1)

	_, err := m.InsertTodo(ctx, todo)
	require.NoError(t, err)
	_, err = m.InsertTodo(ctx, todo)
	assert.ErrorIs(t, err, domain.ErrOrderConflict)

	todos, err := m.ListTodos(ctx)
	require.NoError(t, err)
	assert.Len(t, todos, 1)
}

func TestMemoryConcurrentCreatesGetDistinctOrders(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	orders := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				maxOrder, found, err := m.MaxOrder(ctx)
				if err != nil {
					t.Errorf("max order: %v", err)
					return
				}
				created, err := m.InsertTodo(ctx, domain.NewTodo{Title: "t", Content: "c", Author: "a", Password: "p"}.Build(domain.NextOrder(maxOrder, found)))
				if err == nil {
					orders <- created.Order
					return
				}
				if !assert.ErrorIs(t, err, domain.ErrOrderConflict) {
					return
				}
			}
		}()
	}
	wg.Wait()
	close(orders)

	seen := map[int]bool{}
	for o := range orders {
		assert.False(t, seen[o], "order %d assigned twice", o)
		seen[o] = true
	}
	assert.Len(t, seen, workers)
}

func TestMemoryListTodosOrderDescending(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	empty, err := m.ListTodos(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	created := insertN(t, m, 3)
	todos, err := m.ListTodos(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 3)
	for i, s := range todos {
		assert.True(t, s.CreatedAt.Equal(created[len(created)-1-i].CreatedAt))
	}
}

func TestMemoryGetUnknown(t *testing.T) {
	m := newTestMemory(t)
	got, err := m.GetTodo(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := newTestMemory(t)
	created := insertN(t, m, 1)[0]

	got, err := m.GetTodo(context.Background(), created.ID)
	require.NoError(t, err)
	got.Author = "mutated"

	again, err := m.GetTodo(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "author", again.Author)
}

func TestMemoryUpdate(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	created := insertN(t, m, 1)[0]

	later := created.UpdatedAt.Add(time.Minute)
	m.now = func() time.Time { return later }
	title := "new"
	err := m.UpdateTodo(ctx, created.ID, domain.TodoUpdate{Password: "pw", Title: &title, SetDoneAt: true, DoneAt: &later})
	require.NoError(t, err)

	got, err := m.GetTodo(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, "new", *got.Title)
	assert.Nil(t, got.Content)
	assert.Nil(t, got.Status)
	require.NotNil(t, got.DoneAt)
	assert.True(t, got.DoneAt.Equal(later))
	assert.True(t, got.UpdatedAt.Equal(later))
	assert.Equal(t, created.Order, got.Order)
}

func TestMemoryUpdateRejections(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	created := insertN(t, m, 1)[0]

	err := m.UpdateTodo(ctx, created.ID, domain.TodoUpdate{Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrPasswordMismatch)
	err = m.UpdateTodo(ctx, "missing", domain.TodoUpdate{Password: "pw"})
	assert.ErrorIs(t, err, domain.ErrTodoNotFound)

	got, err := m.GetTodo(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, *got)
}

func TestMemoryDelete(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	created := insertN(t, m, 2)

	assert.ErrorIs(t, m.DeleteTodo(ctx, created[0].ID, "wrong"), domain.ErrPasswordMismatch)
	assert.ErrorIs(t, m.DeleteTodo(ctx, "missing", "pw"), domain.ErrTodoNotFound)
	require.NoError(t, m.DeleteTodo(ctx, created[0].ID, "pw"))

	got, err := m.GetTodo(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// The freed order is not reused while a higher one exists.
	maxOrder, found, err := m.MaxOrder(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, maxOrder)
}
