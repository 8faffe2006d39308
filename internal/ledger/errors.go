package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrMalformedContent = errors.New("malformed content")
	ErrInvalidRange     = errors.New("invalid range")
	ErrAssemblyFailed   = errors.New("assembly failed")
	ErrPruneFailed      = errors.New("prune failed")
)

// Wrap tags err with one of the sentinels above while keeping the cause
// reachable through errors.Is.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrAssemblyFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to a short label for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedContent):
		return "malformed_content"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrPruneFailed):
		return "prune_failed"
	case errors.Is(err, ErrAssemblyFailed):
		return "assembly_failed"
	default:
		return "unknown"
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "ledger failure"
	}
	return strings.Join(parts, ": ")
}
