package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/masterdoc/internal/assembly"
	"github.com/local/masterdoc/internal/config"
	"github.com/local/masterdoc/internal/document"
	"github.com/local/masterdoc/internal/events"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/lock"
	"github.com/local/masterdoc/internal/orchestrator"
	"github.com/local/masterdoc/internal/pdftest"
	"github.com/local/masterdoc/internal/statuscheck"
	"github.com/local/masterdoc/internal/storage"
	"github.com/local/masterdoc/internal/store"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg     config.Config
	store   *store.Store
	orch    *orchestrator.Orchestrator
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	a := &app{cfg: cfg, store: st}
	a.closers = append(a.closers, func() { _ = st.Close() })

	editor := document.NewPDFEditor()
	led := ledger.New(document.Counter{Editor: editor})

	var (
		publisher events.Publisher = events.Nop{}
		locker    lock.Locker      = lock.NewFileLocker(cfg.Storage.LockDir, cfg.Lock.Wait)
		redisPing statuscheck.Pinger
	)
	if cfg.Redis.URL != "" {
		rp, err := events.NewRedisPublisher(cfg.Redis.URL, cfg.Redis.EventStream)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rp.Close() })
		publisher = rp
		redisPing = rp
		if cfg.Lock.Backend == "redis" {
			locker = lock.NewRedisLocker(rp.Client(), cfg.Redis.LockPrefix, cfg.Redis.LockTTL, cfg.Lock.Wait)
		}
	}

	router := storage.Router{Files: storage.FileSource{Root: cfg.Storage.DownloadDir}}
	var (
		archiver assembly.Archiver
		bucket   statuscheck.BucketHeader
	)
	if cfg.S3.Bucket != "" {
		s3c, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			a.Close()
			return nil, err
		}
		router.S3 = s3c
		bucket = s3c
		if cfg.S3.ArchiveOnSeal {
			archiver = storage.MasterArchiver{Uploader: s3c, Prefix: cfg.S3.ArchivePrefix}
		}
	}

	deps := assembly.Dependencies{
		Store:    st,
		Ledger:   led,
		Editor:   editor,
		Probe:    pdftest.NewProber(0),
		Events:   publisher,
		Archiver: archiver,
	}
	a.orch = orchestrator.New(orchestrator.Dependencies{
		Store:  st,
		Ledger: led,
		Packer: assembly.NewPacker(deps, assembly.PackerOptions{
			MasterDir:        cfg.Storage.MasterDir,
			ByteSizeCap:      cfg.ByteSizeCap(),
			PlaceholderPages: cfg.Assembly.PlaceholderPages,
		}),
		Pruner:  assembly.NewPruner(deps),
		Source:  router,
		Locker:  locker,
		Checker: statuscheck.New(statuscheck.Options{
			DB:        st,
			Redis:     redisPing,
			S3:        bucket,
			MasterDir: cfg.Storage.MasterDir,
		}),
		DownloadDir: cfg.Storage.DownloadDir,
	})

	log.Debug().
		Str("db", cfg.Storage.DBPath).
		Str("lock_backend", cfg.Lock.Backend).
		Bool("redis", cfg.Redis.URL != "").
		Bool("s3", cfg.S3.Bucket != "").
		Msg("services wired")
	return a, nil
}

func (c *commandContext) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
