package main

import (
	"context"
	"errors"
	"net/http"

	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	httpadapter "github.com/couchcryptid/gsod-etl/internal/adapter/http"
	"github.com/couchcryptid/gsod-etl/internal/adapter/statefile"
	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/fetch"
	"github.com/couchcryptid/gsod-etl/internal/pipeline"
	"github.com/couchcryptid/gsod-etl/internal/scheduler"
	"github.com/couchcryptid/gsod-etl/internal/update"
)

func runUpdate(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	yearsFlag := fs.StringP("years", "y", "", "years to keep current, e.g. 2020-2024 (default all)")
	daemon := fs.Bool("daemon", false, "keep running and repeat the update every interval")
	fs.DurationVar(&a.cfg.UpdateInterval, "every", a.cfg.UpdateInterval, "interval between updates in daemon mode")
	fs.StringVar(&a.cfg.StateDir, "state-dir", a.cfg.StateDir, "directory for inventory, year log and station list")
	fs.StringVarP(&a.cfg.OutputFormat, "format", "f", a.cfg.OutputFormat, "output format: csv or arrow")
	if err := a.parse(fs, args); err != nil {
		return a.fatal("invalid arguments", err)
	}
	years, err := config.ParseYears(*yearsFlag)
	if err != nil {
		return a.fatal("invalid arguments", err)
	}

	store := statefile.New(a.cfg.StateDir)
	stations := domain.NewStationDirectory(nil)
	sinks, err := buildSinks(a.cfg, a.logger)
	if err != nil {
		return a.fatal("create sinks", err)
	}
	defer sinks.close(a.logger)

	p := pipeline.New(archive.LineReader{}, pipeline.NewTransformer(stations), sinks.loaders, a.logger, a.metrics, pipeline.Options{
		BatchSize: a.cfg.BatchSize,
		Workers:   a.cfg.UnpackWorkers,
	})
	updater := update.New(a.client, fetch.New(a.client, a.cfg, a.logger), p, store, a.logger, a.metrics, update.Options{
		Years:    years,
		Outputs:  []update.Pruner{sinks.file},
		History:  a.client,
		Stations: stations,
	})

	if !*daemon {
		sum, err := updater.Run(ctx)
		if err != nil {
			return a.fatal("update failed", err)
		}
		if sum.Failures > 0 {
			return exitPartial
		}
		return exitOK
	}
	return runDaemon(ctx, a, updater)
}

// runDaemon serves health and metrics endpoints and repeats the update until a signal
// arrives.
func runDaemon(ctx context.Context, a *app, updater *update.Updater) int {
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, updater, a.logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	sched := scheduler.New(a.cfg.UpdateInterval, func(ctx context.Context) {
		if _, err := updater.Run(ctx); err != nil {
			a.logger.Error("update failed", "error", err)
		}
	}, a.logger)
	if err := sched.Start(); err != nil {
		return a.fatal("start scheduler", err)
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return exitOK
}
