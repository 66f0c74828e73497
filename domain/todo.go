package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// DefaultStatus is assigned to todos created without an explicit status.
const DefaultStatus = "FOR_SALE"

// Todo represents a single persisted todo document.
type Todo struct {
	ID        string     `json:"todoId"`
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

// MarshalJSON also exposes the id under "_id", which existing clients read.
func (t Todo) MarshalJSON() ([]byte, error) {
	type plain Todo
	return sonic.Marshal(struct {
		MongoID string `json:"_id"`
		plain
	}{MongoID: t.ID, plain: plain(t)})
}

// TodoSummary is the projection returned by the list route.
type TodoSummary struct {
	Title     *string   `json:"title"`
	Author    string    `json:"author"`
	Password  string    `json:"password"`
	Status    *string   `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewTodo holds the fields supplied by a client when creating a todo.
type NewTodo struct {
	Title    string
	Content  string
	Author   string
	Password string
}

// Build turns the creation payload into a document with the given order.
// ID and timestamps are left for the storage backend.
func (n NewTodo) Build(order int) Todo {
	title, content, status := n.Title, n.Content, DefaultStatus
	return Todo{
		Title:    &title,
		Content:  &content,
		Author:   n.Author,
		Password: n.Password,
		Status:   &status,
		Order:    order,
	}
}

// TodoUpdate overwrites title, content and status unconditionally; nil
// values clear the field. DoneAt is applied only when SetDoneAt is true.
type TodoUpdate struct {
	Password  string
	Title     *string
	Content   *string
	Status    *string
	SetDoneAt bool
	DoneAt    *time.Time
}

// Apply returns a copy of t with the update applied at the given time.
func (u TodoUpdate) Apply(t Todo, now time.Time) Todo {
	t.Title = u.Title
	t.Content = u.Content
	t.Status = u.Status
	if u.SetDoneAt {
		t.DoneAt = u.DoneAt
	}
	t.UpdatedAt = now
	return t
}

// Summary projects the todo to the fields exposed by the list route.
func (t Todo) Summary() TodoSummary {
	return TodoSummary{
		Title:     t.Title,
		Author:    t.Author,
		Password:  t.Password,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
	}
}

// NextOrder returns the order for a new todo given the current maximum.
func NextOrder(max int, found bool) int {
	if !found {
		return 1
	}
	return max + 1
}
