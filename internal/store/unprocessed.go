package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/local/masterdoc/internal/ledger"
)

const unprocessedColumns = `u.id, u.source_ref, u.category_id, c.name, u.content_ref, u.discovered_at, u.status, u.error_message`

const unprocessedFrom = ` FROM unprocessed_documents u JOIN categories c ON c.id = u.category_id`

func scanUnprocessed(row scanner) (*ledger.Unprocessed, error) {
	var (
		u          ledger.Unprocessed
		discovered string
		status     string
		errMsg     sql.NullString
	)
	if err := row.Scan(&u.ID, &u.SourceRef, &u.CategoryID, &u.Category, &u.ContentRef, &discovered, &status, &errMsg); err != nil {
		return nil, err
	}
	u.DiscoveredAt = parseTime(discovered)
	u.Status = ledger.QueueStatus(status)
	u.Error = errMsg.String
	return &u, nil
}

// Enqueue registers a downloaded sub-document. It reports false when the
// source ref was already known.
func (t *Tx) Enqueue(ctx context.Context, u *ledger.Unprocessed) (bool, error) {
	if u == nil {
		return false, errors.New("unprocessed document is nil")
	}
	if u.DiscoveredAt.IsZero() {
		u.DiscoveredAt = now()
	}
	if u.Status == "" {
		u.Status = ledger.QueuePending
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO unprocessed_documents (source_ref, category_id, content_ref, discovered_at, status)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(source_ref) DO NOTHING`,
		u.SourceRef, u.CategoryID, u.ContentRef, formatTime(u.DiscoveredAt), string(u.Status),
	)
	if err != nil {
		return false, fmt.Errorf("insert unprocessed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	return true, nil
}

// UnprocessedBySourceRef fetches a queued sub-document by source reference.
func (t *Tx) UnprocessedBySourceRef(ctx context.Context, sourceRef string) (*ledger.Unprocessed, error) {
	u, err := scanUnprocessed(t.tx.QueryRowContext(ctx, `SELECT `+unprocessedColumns+unprocessedFrom+` WHERE u.source_ref = ?`, sourceRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("unprocessed", sourceRef)
	}
	if err != nil {
		return nil, fmt.Errorf("get unprocessed: %w", err)
	}
	return u, nil
}

// PendingUnprocessed lists a category's pending sub-documents in discovery order.
func (t *Tx) PendingUnprocessed(ctx context.Context, categoryID int64) ([]ledger.Unprocessed, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+unprocessedColumns+unprocessedFrom+`
         WHERE u.category_id = ? AND u.status = ?
         ORDER BY u.discovered_at, u.id`,
		categoryID, string(ledger.QueuePending),
	)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed: %w", err)
	}
	defer rows.Close()
	var out []ledger.Unprocessed
	for rows.Next() {
		u, err := scanUnprocessed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unprocessed: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// PendingCategories lists categories with pending sub-documents, by name.
func (t *Tx) PendingCategories(ctx context.Context) ([]ledger.Category, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT c.id, c.name, c.created_at, c.updated_at
         FROM categories c JOIN unprocessed_documents u ON u.category_id = c.id
         WHERE u.status = ?
         ORDER BY c.name`,
		string(ledger.QueuePending),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending categories: %w", err)
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

// MarkUnprocessed records the outcome for a queued sub-document.
func (t *Tx) MarkUnprocessed(ctx context.Context, id int64, status ledger.QueueStatus, errMsg string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE unprocessed_documents SET status = ?, error_message = ? WHERE id = ?`,
		string(status), nullableString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("mark unprocessed: %w", err)
	}
	return requireOne(res, "unprocessed", id)
}
