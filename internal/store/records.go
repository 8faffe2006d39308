package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/local/masterdoc/internal/ledger"
)

const recordColumns = "id, master_id, logical_page_number, source_ref, page_count, content_digest, status, created_at, updated_at"

func scanRecord(row scanner) (*ledger.PageRecord, error) {
	var (
		r                ledger.PageRecord
		masterID, page   sql.NullInt64
		digest           sql.NullString
		status           string
		created, updated string
	)
	if err := row.Scan(&r.ID, &masterID, &page, &r.SourceRef, &r.PageCount, &digest, &status, &created, &updated); err != nil {
		return nil, err
	}
	r.MasterID = int64Ptr(masterID)
	r.LogicalPage = intPtr(page)
	r.ContentDigest = digest.String
	r.Status = ledger.RecordStatus(status)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

// CreateRecord inserts rec and fills in its id and timestamps.
func (t *Tx) CreateRecord(ctx context.Context, rec *ledger.PageRecord) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.Status == "" {
		rec.Status = ledger.StatusPending
	}
	ts := now()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO page_records (master_id, logical_page_number, source_ref, page_count, content_digest, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt64(rec.MasterID), nullableInt(rec.LogicalPage), rec.SourceRef, rec.PageCount,
		nullableString(rec.ContentDigest), string(rec.Status), formatTime(ts), formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = ts
	rec.UpdatedAt = ts
	return nil
}

// RecordByID fetches a ledger record by identifier.
func (t *Tx) RecordByID(ctx context.Context, id int64) (*ledger.PageRecord, error) {
	r, err := scanRecord(t.tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM page_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundID("record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// RecordBySourceRef fetches a ledger record by its source reference.
func (t *Tx) RecordBySourceRef(ctx context.Context, sourceRef string) (*ledger.PageRecord, error) {
	r, err := scanRecord(t.tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM page_records WHERE source_ref = ?`, sourceRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("record", sourceRef)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// RecordsByMaster lists a master's records ordered by start page.
func (t *Tx) RecordsByMaster(ctx context.Context, masterID int64) ([]ledger.PageRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM page_records
         WHERE master_id = ? AND logical_page_number IS NOT NULL
         ORDER BY logical_page_number`,
		masterID,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []ledger.PageRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetRecordPage moves one record's start page.
func (t *Tx) SetRecordPage(ctx context.Context, recordID int64, page int) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE page_records SET logical_page_number = ?, updated_at = ? WHERE id = ?`,
		page, formatTime(now()), recordID,
	)
	if err != nil {
		return fmt.Errorf("set record page: %w", err)
	}
	return requireOne(res, "record", recordID)
}

// UpdateRecord persists every mutable record field.
func (t *Tx) UpdateRecord(ctx context.Context, rec *ledger.PageRecord) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	rec.UpdatedAt = now()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE page_records
         SET master_id = ?, logical_page_number = ?, page_count = ?, content_digest = ?, status = ?, updated_at = ?
         WHERE id = ?`,
		nullableInt64(rec.MasterID), nullableInt(rec.LogicalPage), rec.PageCount,
		nullableString(rec.ContentDigest), string(rec.Status), formatTime(rec.UpdatedAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return requireOne(res, "record", rec.ID)
}

// DeleteRecord removes a ledger record permanently.
func (t *Tx) DeleteRecord(ctx context.Context, recordID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM page_records WHERE id = ?`, recordID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return requireOne(res, "record", recordID)
}
