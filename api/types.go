package api

import (
	"context"

	"todo-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	// MaxOrder returns the highest stored order and whether any todo exists.
	MaxOrder(ctx context.Context) (int, bool, error)
	// InsertTodo persists todo and returns it with id and timestamps set.
	// It fails with domain.ErrOrderConflict when the order is taken.
	InsertTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error)
	ListTodos(ctx context.Context) ([]domain.TodoSummary, error)
	// GetTodo returns nil without error when no todo has the id.
	GetTodo(ctx context.Context, id string) (*domain.Todo, error)
	// UpdateTodo and DeleteTodo check the password and write atomically,
	// returning domain.ErrTodoNotFound or domain.ErrPasswordMismatch.
	UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error
	DeleteTodo(ctx context.Context, id, password string) error
	Ping(ctx context.Context) error
}
