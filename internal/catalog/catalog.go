package catalog

import (
	"context"
	"time"
)

// Course is a catalog entry. The recommendation core treats courses as
// read-only; mutation happens only through the CRUD handlers.
type Course struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Instructor  string    `json:"instructor"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref is the compact course shape embedded in recommendation responses.
type Ref struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Ref returns the compact reference form of the course.
func (c Course) Ref() Ref {
	return Ref{ID: c.ID, Title: c.Title, Description: c.Description}
}

// Store is the catalog contract. FindByApproximateTitle is the only
// capability the recommendation core needs; the rest serves the CRUD API.
type Store interface {
	FindByApproximateTitle(ctx context.Context, title string, limit int) ([]Course, error)
	List(ctx context.Context) ([]Course, error)
	Get(ctx context.Context, id int64) (*Course, error)
	Create(ctx context.Context, course *Course) error
	Update(ctx context.Context, course *Course) error
	Delete(ctx context.Context, id int64) error
}
