package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/local/masterdoc/internal/ledger"
)

const masterColumns = "id, category_id, name, file_path, idx, byte_size_cap, leading_pages, sealed, created_at, updated_at"

func scanMaster(row scanner) (*ledger.Master, error) {
	var (
		m                ledger.Master
		sealed           int
		created, updated string
	)
	if err := row.Scan(&m.ID, &m.CategoryID, &m.Name, &m.FilePath, &m.Index, &m.ByteSizeCap, &m.LeadingPages, &sealed, &created, &updated); err != nil {
		return nil, err
	}
	m.Sealed = sealed != 0
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

// CreateMaster inserts m and fills in its id and timestamps.
func (t *Tx) CreateMaster(ctx context.Context, m *ledger.Master) error {
	if m == nil {
		return errors.New("master is nil")
	}
	ts := now()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO masters (category_id, name, file_path, idx, byte_size_cap, leading_pages, sealed, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CategoryID, m.Name, m.FilePath, m.Index, m.ByteSizeCap, m.LeadingPages, boolToInt(m.Sealed),
		formatTime(ts), formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("insert master: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = ts
	m.UpdatedAt = ts
	return nil
}

// MasterByID fetches a master by identifier.
func (t *Tx) MasterByID(ctx context.Context, id int64) (*ledger.Master, error) {
	m, err := scanMaster(t.tx.QueryRowContext(ctx, `SELECT `+masterColumns+` FROM masters WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundID("master", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get master: %w", err)
	}
	return m, nil
}

// MasterByName fetches a master by its unique name.
func (t *Tx) MasterByName(ctx context.Context, name string) (*ledger.Master, error) {
	m, err := scanMaster(t.tx.QueryRowContext(ctx, `SELECT `+masterColumns+` FROM masters WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("master", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get master: %w", err)
	}
	return m, nil
}

// ActiveMaster returns the category's master with the highest index.
func (t *Tx) ActiveMaster(ctx context.Context, categoryID int64) (*ledger.Master, error) {
	m, err := scanMaster(t.tx.QueryRowContext(ctx,
		`SELECT `+masterColumns+` FROM masters WHERE category_id = ? ORDER BY idx DESC, id DESC LIMIT 1`,
		categoryID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("active master", fmt.Sprintf("category %d", categoryID))
	}
	if err != nil {
		return nil, fmt.Errorf("get active master: %w", err)
	}
	return m, nil
}

// MastersByCategory lists a category's masters in index order.
func (t *Tx) MastersByCategory(ctx context.Context, categoryID int64) ([]ledger.Master, error) {
	return t.queryMasters(ctx, `SELECT `+masterColumns+` FROM masters WHERE category_id = ? ORDER BY idx, id`, categoryID)
}

// MastersMissingIndex lists rows that predate the stored index column.
func (t *Tx) MastersMissingIndex(ctx context.Context) ([]ledger.Master, error) {
	return t.queryMasters(ctx, `SELECT `+masterColumns+` FROM masters WHERE idx = 0 ORDER BY id`)
}

// UpdateMaster persists mutable master fields.
func (t *Tx) UpdateMaster(ctx context.Context, m *ledger.Master) error {
	if m == nil {
		return errors.New("master is nil")
	}
	m.UpdatedAt = now()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE masters SET idx = ?, byte_size_cap = ?, leading_pages = ?, sealed = ?, updated_at = ? WHERE id = ?`,
		m.Index, m.ByteSizeCap, m.LeadingPages, boolToInt(m.Sealed), formatTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("update master: %w", err)
	}
	return requireOne(res, "master", m.ID)
}

func (t *Tx) queryMasters(ctx context.Context, query string, args ...any) ([]ledger.Master, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query masters: %w", err)
	}
	defer rows.Close()
	var out []ledger.Master
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan master: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func requireOne(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFoundID(kind, id)
	}
	return nil
}
