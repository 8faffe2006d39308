// Package lock serialises assembly per category across processes.
package lock

import (
	"context"
	"errors"
	"regexp"
)

// ErrLocked is returned when a category stays locked for the whole wait.
var ErrLocked = errors.New("category locked by another worker")

// Locker hands out category-scoped exclusive locks. The returned release
// func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, category string) (func(), error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// keyFor turns a category name into a file- and key-safe token.
func keyFor(category string) string {
	k := unsafeChars.ReplaceAllString(category, "_")
	if k == "" {
		k = "_"
	}
	return k
}
