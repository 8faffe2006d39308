package ledger

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// NormalizeRef canonicalises a source reference so the same document is
// never recorded twice: lowercase scheme and host, no query or fragment,
// no trailing slash except for the root path. Bare hosts get http.
func NormalizeRef(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty source ref")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse source ref: %w", err)
	}
	path := u.EscapedPath()
	if i := strings.IndexByte(path, ';'); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	return b.String(), nil
}

// LegacyIndex extracts n from a master file named "{prefix}_{n}.pdf". It is
// only used to backfill the stored index of rows created before it existed.
func LegacyIndex(path, prefix string) (int, bool) {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `_(\d+)\.pdf$`)
	m := re.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// HighestLegacyIndex returns the largest legacy index among paths, or 0.
func HighestLegacyIndex(paths []string, prefix string) int {
	highest := 0
	for _, p := range paths {
		if n, ok := LegacyIndex(p, prefix); ok && n > highest {
			highest = n
		}
	}
	return highest
}
