package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/local/masterdoc/internal/ledger"
)

const categoryColumns = "id, name, created_at, updated_at"

func scanCategory(row scanner) (*ledger.Category, error) {
	var (
		c                  ledger.Category
		created, updated string
	)
	if err := row.Scan(&c.ID, &c.Name, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// EnsureCategory returns the named category, creating it on first reference.
func (t *Tx) EnsureCategory(ctx context.Context, name string) (*ledger.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("category name is empty")
	}
	ts := formatTime(now())
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO categories (name, created_at, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(name) DO NOTHING`,
		name, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return t.CategoryByName(ctx, name)
}

// CategoryByID fetches a category by identifier.
func (t *Tx) CategoryByID(ctx context.Context, id int64) (*ledger.Category, error) {
	c, err := scanCategory(t.tx.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundID("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// CategoryByName fetches a category by its unique name.
func (t *Tx) CategoryByName(ctx context.Context, name string) (*ledger.Category, error) {
	c, err := scanCategory(t.tx.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("category", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// ListCategories returns every category ordered by name.
func (t *Tx) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	var out []ledger.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
