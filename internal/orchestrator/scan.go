package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/filetype"
)

// ScanReport counts what Scan found in the download directory.
type ScanReport struct {
	Registered int `json:"registered"`
	Known      int `json:"known"`
	Skipped    int `json:"skipped"`
}

// Scan registers every PDF under <download_dir>/<category>/ that is not yet
// queued. A sibling "<file>.url" holds the source ref; without one the file
// URL is used.
func (o *Orchestrator) Scan(ctx context.Context) (ScanReport, error) {
	var rep ScanReport
	root, err := filepath.Abs(o.deps.DownloadDir)
	if err != nil {
		return rep, fmt.Errorf("resolve download dir: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return rep, fmt.Errorf("read download dir: %w", err)
	}

	detector := filetype.New()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		category := e.Name()
		files, err := filepath.Glob(filepath.Join(root, category, "*.pdf"))
		if err != nil {
			return rep, err
		}
		sort.Strings(files)
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			info, err := detector.Detect(path)
			if err != nil || !info.Paginated {
				log.Warn().Err(err).Str("file", path).Msg("skipping non-PDF download")
				rep.Skipped++
				continue
			}
			added, err := o.Enqueue(ctx, category, sourceRefFor(path), path)
			if err != nil {
				return rep, fmt.Errorf("enqueue %s: %w", path, err)
			}
			if added {
				rep.Registered++
			} else {
				rep.Known++
			}
		}
	}
	log.Info().Int("registered", rep.Registered).Int("known", rep.Known).Int("skipped", rep.Skipped).Msg("download scan finished")
	return rep, nil
}

func sourceRefFor(path string) string {
	if data, err := os.ReadFile(path + ".url"); err == nil {
		if ref := strings.TrimSpace(string(data)); ref != "" {
			return ref
		}
	}
	return "file://" + filepath.ToSlash(path)
}
