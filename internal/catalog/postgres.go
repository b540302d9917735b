package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresStore persists courses in the courses table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new catalog store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the courses table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS courses (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		instructor TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_courses_title ON courses (LOWER(title));
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure catalog schema: %w", err)
	}
	return nil
}

// FindByApproximateTitle returns up to limit courses whose title contains the
// given text, case-insensitively. Deliberately permissive: short or common
// titles can match unrelated courses.
func (s *PostgresStore) FindByApproximateTitle(ctx context.Context, title string, limit int) ([]Course, error) {
	query := `
	SELECT id, title, description, instructor, created_at
	FROM courses
	WHERE title ILIKE '%' || $1 || '%'
	ORDER BY id
	LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, escapeLikePattern(title), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search courses: %w", err)
	}
	defer rows.Close()

	return scanCourses(rows)
}

// List returns all courses, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]Course, error) {
	query := `
	SELECT id, title, description, instructor, created_at
	FROM courses
	ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return scanCourses(rows)
}

// Get retrieves a course by ID.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Course, error) {
	query := `
	SELECT id, title, description, instructor, created_at
	FROM courses
	WHERE id = $1
	`

	var c Course
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Title, &c.Description, &c.Instructor, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("course not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &c, nil
}

// Create inserts a new course and fills in its ID and creation time.
func (s *PostgresStore) Create(ctx context.Context, course *Course) error {
	query := `
	INSERT INTO courses (title, description, instructor, created_at)
	VALUES ($1, $2, $3, NOW())
	RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		course.Title, course.Description, course.Instructor,
	).Scan(&course.ID, &course.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// Update replaces a course's title, description, and instructor.
func (s *PostgresStore) Update(ctx context.Context, course *Course) error {
	query := `
	UPDATE courses
	SET title = $1, description = $2, instructor = $3
	WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		course.Title, course.Description, course.Instructor, course.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update course: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("course not found: %d", course.ID)
	}
	return nil
}

// Delete removes a course by ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete course: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("course not found: %d", id)
	}
	return nil
}

func scanCourses(rows *sql.Rows) ([]Course, error) {
	var courses []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Instructor, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return courses, nil
}

// escapeLikePattern escapes LIKE metacharacters so suggestion titles are
// matched literally.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
