// Package store defines the persistence contract for leaseline's ordered
// collections: statuses and the tasks grouped under them.
//
// Both collections persist their relative order in an integer sort key that
// is unique among siblings at rest. Reordering therefore goes through the
// two-phase plan in this package so a uniqueness-enforcing backend never
// observes two siblings sharing a position, even transiently.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrOrderMismatch is returned when a submitted order does not name exactly
// the rows of the collection being reordered.
var ErrOrderMismatch = errors.New("store: reorder ids do not match collection")

// Status is a pipeline column tasks belong to. Statuses are ordered
// globally.
type Status struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is a unit of work ordered within its status.
type Task struct {
	ID        int64     `json:"id"`
	StatusID  int64     `json:"statusId"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Completed bool      `json:"completed"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusPatch is a partial status update; nil fields are left unchanged.
type StatusPatch struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

// TaskPatch is a partial task update; nil fields are left unchanged.
// Changing StatusID moves the task to the end of the target status.
type TaskPatch struct {
	Title     *string `json:"title"`
	Notes     *string `json:"notes"`
	Completed *bool   `json:"completed"`
	StatusID  *int64  `json:"statusId"`
}

// Store is the persistence contract the API serves from.
type Store interface {
	CreateStatus(ctx context.Context, name, color string) (Status, error)
	GetStatus(ctx context.Context, id int64) (Status, error)
	ListStatuses(ctx context.Context) ([]Status, error)
	UpdateStatus(ctx context.Context, id int64, patch StatusPatch) (Status, error)
	DeleteStatus(ctx context.Context, id int64) error

	// ReorderStatuses atomically persists a new total order for all
	// statuses. ids must name every status exactly once.
	ReorderStatuses(ctx context.Context, ids []int64) error

	CreateTask(ctx context.Context, statusID int64, title, notes string) (Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	ListTasks(ctx context.Context, statusID int64) ([]Task, error)
	UpdateTask(ctx context.Context, id int64, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id int64) error

	// ReorderTasks atomically persists a new total order for the tasks of
	// one status. ids must name every task of that status exactly once.
	ReorderTasks(ctx context.Context, statusID int64, ids []int64) error

	Close() error
}
