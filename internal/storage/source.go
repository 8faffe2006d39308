package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/local/masterdoc/internal/ledger"
)

// Source loads the bytes of a downloaded sub-document.
type Source interface {
	Open(ctx context.Context, contentRef string) ([]byte, error)
}

// ObjectGetter is the part of S3Client a Source needs.
type ObjectGetter interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// FileSource reads plain paths and file:// refs. Relative paths resolve
// against Root.
type FileSource struct {
	Root string
}

func (s FileSource) Open(_ context.Context, contentRef string) ([]byte, error) {
	p := strings.TrimPrefix(contentRef, "file://")
	if !filepath.IsAbs(p) && s.Root != "" {
		p = filepath.Join(s.Root, p)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ledger.Wrap(ledger.ErrNotFound, "source", p, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Router dispatches content refs by scheme: s3:// to S3, everything else
// to the filesystem. A #fragment is ignored.
type Router struct {
	Files FileSource
	// S3 is nil when no bucket is configured.
	S3 ObjectGetter
}

func (r Router) Open(ctx context.Context, contentRef string) ([]byte, error) {
	if i := strings.Index(contentRef, "#"); i >= 0 {
		contentRef = contentRef[:i]
	}
	switch {
	case strings.HasPrefix(contentRef, "s3://"):
		if r.S3 == nil {
			return nil, fmt.Errorf("s3 content ref %s but no S3 client configured", contentRef)
		}
		bucket, key, err := ParseURL(contentRef)
		if err != nil {
			return nil, err
		}
		return r.S3.Download(ctx, bucket, key)
	case strings.Contains(contentRef, "://") && !strings.HasPrefix(contentRef, "file://"):
		return nil, fmt.Errorf("unsupported content ref scheme: %s", contentRef)
	default:
		return r.Files.Open(ctx, contentRef)
	}
}

// FileUploader is the part of S3Client the archiver needs.
type FileUploader interface {
	UploadFile(ctx context.Context, key, path, contentType string) (string, error)
}

// MasterArchiver uploads sealed masters to {prefix}/{category}/{name}.pdf.
type MasterArchiver struct {
	Uploader FileUploader
	Prefix   string
}

func (a MasterArchiver) Key(category string, m ledger.Master) string {
	return path.Join(a.Prefix, category, m.Name+".pdf")
}

func (a MasterArchiver) ArchiveMaster(ctx context.Context, category string, m ledger.Master) (string, error) {
	return a.Uploader.UploadFile(ctx, a.Key(category, m), m.FilePath, "application/pdf")
}
