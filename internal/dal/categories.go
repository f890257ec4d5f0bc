package dal

import (
	"context"

	"github.com/roguecord/hub/internal/models"
)

// ListCategories returns all categories ordered by position ascending, ties
// broken by id.
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, position FROM categories ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, wrapErr("ListCategories", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Position); err != nil {
			return nil, wrapErr("ListCategories.scan", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("ListCategories.rows", rows.Err())
}

// CreateCategory inserts a new category at the given position.
func (s *Store) CreateCategory(ctx context.Context, name string, position int) (*models.Category, error) {
	id := models.NewULID()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, name, position) VALUES ($1, $2, $3)
	`, id, name, position)
	if err != nil {
		return nil, wrapErr("CreateCategory", err)
	}
	return &models.Category{ID: id, Name: name, Position: position}, nil
}

// CategoryCount reports how many categories exist, used to decide whether
// get_channels needs to auto-create the default "Text Channels" category
//.
func (s *Store) CategoryCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM categories`).Scan(&n)
	return n, wrapErr("CategoryCount", err)
}
