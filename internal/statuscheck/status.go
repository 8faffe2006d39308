package statuscheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Pinger models the minimal capability we need from a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketHeader is satisfied by storage.S3Client.
type BucketHeader interface {
	HeadBucket(ctx context.Context) error
}

// Checker aggregates health checks for the ledger and its optional backends.
type Checker struct {
	db        Pinger
	redis     Pinger
	s3        BucketHeader
	masterDir string
}

// Options configures the Checker. Nil backends report as not configured.
type Options struct {
	DB        Pinger
	Redis     Pinger
	S3        BucketHeader
	MasterDir string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK         bool   `json:"ok"`
	Configured bool   `json:"configured"`
	Message    string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Database Status `json:"database"`
	Masters  Status `json:"masters"`
	Redis    Status `json:"redis"`
	S3       Status `json:"s3"`
}

// Healthy reports whether every configured subsystem is OK.
func (s Summary) Healthy() bool {
	for _, st := range []Status{s.Database, s.Masters, s.Redis, s.S3} {
		if st.Configured && !st.OK {
			return false
		}
	}
	return true
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		db:        opts.DB,
		redis:     opts.Redis,
		s3:        opts.S3,
		masterDir: opts.MasterDir,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Database: ping(ctx, c.db, 2*time.Second),
		Masters:  c.checkMasterDir(),
		Redis:    ping(ctx, c.redis, 2*time.Second),
		S3:       c.checkS3(ctx),
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{Configured: true, Message: trimError(err)}
	}
	return Status{OK: true, Configured: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3 == nil {
		return Status{Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.s3.HeadBucket(ctx); err != nil {
		return Status{Configured: true, Message: trimError(err)}
	}
	return Status{OK: true, Configured: true, Message: "Connected"}
}

func (c *Checker) checkMasterDir() Status {
	if c.masterDir == "" {
		return Status{Message: "not configured"}
	}
	f, err := os.CreateTemp(c.masterDir, ".health-*")
	if err != nil {
		return Status{Configured: true, Message: trimError(err)}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return Status{OK: true, Configured: true, Message: "Writable: " + filepath.Base(c.masterDir)}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
