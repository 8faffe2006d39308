package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/masterdoc/internal/assembly"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/store"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Pack every queued sub-document into its category master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				rep, err := a.orch.Run(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, rep)
			})
		},
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var runAfter bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Queue PDFs found under the download directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				rep, err := a.orch.Scan(cmd.Context())
				if err != nil {
					return err
				}
				if !runAfter {
					return writeJSON(cmd, rep)
				}
				run, err := a.orch.Run(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{"scan": rep, "run": run})
			})
		},
	}
	cmd.Flags().BoolVar(&runAfter, "run", false, "Run assembly after scanning")
	return cmd
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <category> <source_ref> <content_ref>",
		Short: "Queue one downloaded sub-document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				added, err := a.orch.Enqueue(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if !added {
					fmt.Fprintln(cmd.OutOrStdout(), "already queued")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "queued")
				return nil
			})
		},
	}
}

func newRangeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "range <source_ref>",
		Short: "Show the master pages a sub-document occupies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				rng, err := a.orch.Range(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, rangeView(rng))
			})
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	var (
		deleteRow bool
		compact   bool
		status    string
	)
	cmd := &cobra.Command{
		Use:   "remove <source_ref>",
		Short: "Cut a sub-document's pages out of its master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				opts := assembly.DefaultRemoveOptions()
				opts.LeavePlaceholder = !deleteRow
				opts.Status = ledger.RecordStatus(status)
				opts.Compact = a.cfg.Assembly.CompactOnRemove
				if cmd.Flags().Changed("compact") {
					opts.Compact = compact
				}
				rng, err := a.orch.Remove(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return writeJSON(cmd, rangeView(rng))
			})
		},
	}
	cmd.Flags().BoolVar(&deleteRow, "delete", false, "Delete the ledger row instead of leaving a placeholder")
	cmd.Flags().BoolVar(&compact, "compact", false, "Renumber the master's remaining records")
	cmd.Flags().StringVar(&status, "status", string(ledger.StatusPending), "Status written to the placeholder row")
	return cmd
}

func newCompactCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <master>",
		Short: "Make a master's record starts contiguous",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				shifts, err := a.orch.Compact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, shifts)
			})
		},
	}
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <source_ref> <master> <page>",
		Short: "Point a record at an explicit page of a master",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid page %q: %w", args[2], err)
			}
			return ctx.withApp(cmd, func(a *app) error {
				rec, err := a.orch.Move(cmd.Context(), args[0], args[1], page)
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{"source_ref": rec.SourceRef, "master": args[1], "start_page": page})
			})
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and backfill master indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.BackfillMasterIndexes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied; %d master indexes backfilled\n", n)
			return nil
		},
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		addr     string
		runEvery time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				if addr == "" {
					addr = a.cfg.HTTP.Addr
				}
				mux := http.NewServeMux()
				a.orch.RegisterRoutes(mux)
				srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

				errCh := make(chan error, 1)
				go func() {
					log.Info().Str("addr", addr).Msg("HTTP server listening")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()
				if runEvery > 0 {
					go runLoop(cmd.Context(), a, runEvery)
				}

				select {
				case err := <-errCh:
					return err
				case <-cmd.Context().Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				log.Info().Msg("shutdown complete")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&runEvery, "run-every", 0, "Scan and run assembly on this interval; 0 disables")
	return cmd
}

func runLoop(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := a.orch.Scan(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled scan failed")
			continue
		}
		if _, err := a.orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduled run failed")
		}
	}
}

type rangeOut struct {
	SourceRef string `json:"source_ref"`
	Master    string `json:"master"`
	FilePath  string `json:"file_path"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

func rangeView(rng ledger.Range) rangeOut {
	return rangeOut{
		SourceRef: rng.SourceRef,
		Master:    rng.Master.Name,
		FilePath:  rng.Master.FilePath,
		StartPage: rng.Start,
		EndPage:   rng.End,
	}
}
