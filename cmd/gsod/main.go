// Command gsod mirrors NOAA's Global Surface Summary of the Day archive and unpacks the
// fixed-width station files into tabular output.
//
// Usage:
//
//	gsod years
//	gsod download [--years 1929-1931,2001] [--mode bulk|station] [--data-dir DIR]
//	gsod unpack   [--out-dir DIR] [--format csv|arrow] [--stations FILE] [--fetch-stations] [PATH...]
//	gsod update   [--years ...] [--daemon] [--every 24h]
//
// Exit status is 0 on success, 1 on a fatal error and 2 when the run finished but some
// files failed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	"github.com/couchcryptid/gsod-etl/internal/adapter/noaa"
	"github.com/couchcryptid/gsod-etl/internal/adapter/statefile"
	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/fetch"
	"github.com/couchcryptid/gsod-etl/internal/observability"
	"github.com/couchcryptid/gsod-etl/internal/pipeline"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

const usage = `usage: gsod <command> [flags]

commands:
  years     list the years available on the NOAA server
  download  fetch station files for the selected years
  unpack    decode .op files into tabular output
  update    incrementally refresh the local mirror
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitFatal
	}
	switch args[0] {
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cmd func(context.Context, *app, []string) int
	switch args[0] {
	case "years":
		cmd = runYears
	case "download":
		cmd = runDownload
	case "unpack":
		cmd = runUnpack
	case "update":
		cmd = runUpdate
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitFatal
	}
	return cmd(ctx, &app{cfg: cfg, stdout: stdout, stderr: stderr}, args[1:])
}

// app carries what every command needs once its flags have been applied.
type app struct {
	cfg     *config.Config
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
	client  *noaa.Client
}

// parse applies the command's flags, validates the result and builds the shared services.
func (a *app) parse(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(a.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.logger = observability.NewLogger(a.cfg)
	a.metrics = observability.NewMetrics()
	a.client = noaa.NewClient(a.cfg, a.metrics, a.logger)
	return nil
}

func (a *app) fatal(msg string, err error) int {
	if a.logger == nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", msg, err)
		return exitFatal
	}
	a.logger.Error(msg, "error", err)
	return exitFatal
}

func runYears(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("years", flag.ContinueOnError)
	fs.StringVar(&a.cfg.BaseURL, "base-url", a.cfg.BaseURL, "GSOD archive root")
	if err := a.parse(fs, args); err != nil {
		return a.fatal("invalid arguments", err)
	}

	years, err := a.client.ListYears(ctx)
	if err != nil {
		return a.fatal("list years failed", err)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, y := range years {
		modified := "-"
		if !y.Modified.IsZero() {
			modified = y.Modified.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\n", y.Year, modified)
	}
	if err := tw.Flush(); err != nil {
		return a.fatal("write output", err)
	}
	return exitOK
}

func runDownload(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	yearsFlag := fs.StringP("years", "y", "", "years to fetch, e.g. 1929-1931,2001 (default all)")
	fs.StringVarP(&a.cfg.DownloadMode, "mode", "m", a.cfg.DownloadMode, "bulk (year tarballs) or station (per-station files)")
	fs.StringVar(&a.cfg.DataDir, "data-dir", a.cfg.DataDir, "local directory for downloaded files")
	fs.IntVarP(&a.cfg.FetchWorkers, "workers", "w", a.cfg.FetchWorkers, "concurrent downloads")
	if err := a.parse(fs, args); err != nil {
		return a.fatal("invalid arguments", err)
	}
	years, err := config.ParseYears(*yearsFlag)
	if err != nil {
		return a.fatal("invalid arguments", err)
	}

	report, err := fetch.New(a.client, a.cfg, a.logger).FetchYears(ctx, years)
	if err != nil {
		return a.fatal("download failed", err)
	}
	for _, f := range report.Failures {
		a.logger.Warn("not downloaded", "file", f.Path, "error", f.Err)
	}
	a.logger.Info("download finished", "files", len(report.Files), "failures", len(report.Failures))
	if len(report.Failures) > 0 {
		return exitPartial
	}
	return exitOK
}

func runUnpack(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	fs.StringVarP(&a.cfg.OutDir, "out-dir", "o", a.cfg.OutDir, "output directory")
	fs.StringVarP(&a.cfg.OutputFormat, "format", "f", a.cfg.OutputFormat, "output format: csv or arrow")
	fs.IntVarP(&a.cfg.UnpackWorkers, "workers", "w", a.cfg.UnpackWorkers, "files decoded concurrently")
	stationsPath := fs.String("stations", "", "isd-history.csv used to enrich rows (default STATE_DIR/isd-history.csv)")
	fetchStations := fs.Bool("fetch-stations", false, "download isd-history.csv before unpacking")
	if err := a.parse(fs, args); err != nil {
		return a.fatal("invalid arguments", err)
	}

	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{a.cfg.DataDir}
	}
	sources, err := archive.ListSources(paths)
	if err != nil {
		return a.fatal("list source files", err)
	}

	if *stationsPath == "" {
		*stationsPath = statefile.New(a.cfg.StateDir).StationsPath()
	}
	stations, err := loadStations(ctx, a, *stationsPath, *fetchStations)
	if err != nil {
		return a.fatal("load stations", err)
	}

	sinks, err := buildSinks(a.cfg, a.logger)
	if err != nil {
		return a.fatal("create sinks", err)
	}
	defer sinks.close(a.logger)

	p := pipeline.New(archive.LineReader{}, pipeline.NewTransformer(stations), sinks.loaders, a.logger, a.metrics, pipeline.Options{
		BatchSize: a.cfg.BatchSize,
		Workers:   a.cfg.UnpackWorkers,
	})
	report := p.Run(ctx, sources)
	for _, f := range report.Failures() {
		a.logger.Warn("file not unpacked", "file", f.Source.Path, "error", f.Err)
	}
	a.logger.Info("unpack finished",
		"files", len(report.Files), "rows", report.Rows,
		"malformed_lines", report.Malformed, "failed", report.Failed)
	if errors.Is(ctx.Err(), context.Canceled) {
		return exitFatal
	}
	if report.Failed > 0 {
		return exitPartial
	}
	return exitOK
}
