package ledger

import (
	"fmt"
	"time"
)

// RecordStatus tracks whether a sub-document's pages are durably part of a master.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusAssembled RecordStatus = "assembled"
	StatusFailed    RecordStatus = "failed"
)

// QueueStatus tracks a downloaded sub-document waiting for assembly.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueConsumed QueueStatus = "consumed"
	QueueFailed   QueueStatus = "failed"
)

// Category groups masters. Created on first reference.
type Category struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Master is one physical container file of a category.
type Master struct {
	ID         int64
	CategoryID int64
	Name       string
	FilePath   string
	// Index is the stored rollover sequence number, starting at 1.
	Index       int
	ByteSizeCap int64
	// LeadingPages counts placeholder pages in front of the first content page.
	LeadingPages int
	Sealed       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PageRecord maps a sub-document to the first content page it occupies in a master.
type PageRecord struct {
	ID            int64
	MasterID      *int64
	LogicalPage   *int
	SourceRef     string
	PageCount     int
	ContentDigest string
	Status        RecordStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Assigned reports whether the record currently claims pages in a master.
func (r PageRecord) Assigned() bool {
	return r.MasterID != nil && r.LogicalPage != nil
}

// Unprocessed is a downloaded, OCRed sub-document that has not been packed yet.
type Unprocessed struct {
	ID           int64
	SourceRef    string
	CategoryID   int64
	Category     string
	ContentRef   string
	DiscoveredAt time.Time
	Status       QueueStatus
	Error        string
}

// Range is the inclusive content page span a sub-document occupies.
type Range struct {
	Master    Master
	SourceRef string
	Start     int
	End       int
}

// Pages returns the number of content pages covered by the range.
func (r Range) Pages() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// MasterName builds the canonical name of the idx-th master of a category.
func MasterName(category string, idx int) string {
	return fmt.Sprintf("%s_%d", category, idx)
}

// IntPtr is a small helper for optional page arguments.
func IntPtr(v int) *int { return &v }

// Int64Ptr is a small helper for optional ids.
func Int64Ptr(v int64) *int64 { return &v }
