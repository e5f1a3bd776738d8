// Package fetch downloads GSOD station files for a set of years into the local data
// directory. Each file is fetched independently; failures are collected into the Report
// instead of stopping the run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	"github.com/couchcryptid/gsod-etl/internal/adapter/noaa"
	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// Source is the part of the NOAA client the fetcher needs.
type Source interface {
	ListYears(ctx context.Context) ([]noaa.YearListing, error)
	ListYear(ctx context.Context, year int) ([]domain.Listing, error)
	Download(ctx context.Context, relPath, dest string) (int64, error)
}

// Failure is a file that could not be fetched or unpacked.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report lists the local .op files produced and the files that failed.
type Report struct {
	Files    []string
	Failures []Failure
}

func (r *Report) merge(o Report) {
	r.Files = append(r.Files, o.Files...)
	r.Failures = append(r.Failures, o.Failures...)
}

// Fetcher downloads station files in bulk or per-station mode.
type Fetcher struct {
	source  Source
	dataDir string
	mode    string
	workers int
	logger  *slog.Logger
}

// New creates a Fetcher from the configuration.
func New(source Source, cfg *config.Config, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source:  source,
		dataDir: cfg.DataDir,
		mode:    cfg.DownloadMode,
		workers: max(cfg.FetchWorkers, 1),
		logger:  logger,
	}
}

// YearDir is the local directory for a year's station files.
func (f *Fetcher) YearDir(year int) string {
	return filepath.Join(f.dataDir, strconv.Itoa(year))
}

// FetchYears fetches every requested year; an empty list means every year on the server.
// The only error returned is a failure to list the archive.
func (f *Fetcher) FetchYears(ctx context.Context, years []int) (Report, error) {
	if len(years) == 0 {
		listings, err := f.source.ListYears(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("list years: %w", err)
		}
		for _, l := range listings {
			years = append(years, l.Year)
		}
	}

	var report Report
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, Failure{Path: strconv.Itoa(year), Err: err})
			continue
		}
		var r Report
		if f.mode == config.ModeStation {
			r = f.fetchStationYear(ctx, year)
		} else {
			r = f.fetchBulkYear(ctx, year)
		}
		f.logger.Info("year fetched", "year", year, "files", len(r.Files), "failures", len(r.Failures))
		report.merge(r)
	}
	return report, nil
}

// fetchBulkYear downloads gsod_YYYY.tar, extracts it and gunzips the members. An existing
// tarball is reused.
func (f *Fetcher) fetchBulkYear(ctx context.Context, year int) Report {
	name := fmt.Sprintf("gsod_%d.tar", year)
	rel := path.Join(strconv.Itoa(year), name)
	tarPath := filepath.Join(f.YearDir(year), name)

	if _, err := os.Stat(tarPath); errors.Is(err, os.ErrNotExist) {
		if _, err := f.source.Download(ctx, rel, tarPath); err != nil {
			f.logger.Warn("tarball download failed", "year", year, "error", err)
			return Report{Failures: []Failure{{Path: rel, Err: err}}}
		}
	}

	members, err := archive.ExtractTar(tarPath, f.YearDir(year))
	if err != nil {
		f.logger.Warn("tarball extraction failed", "year", year, "error", err)
		return Report{Failures: []Failure{{Path: rel, Err: err}}}
	}
	return f.each(ctx, members, func(_ context.Context, member string) (string, error) {
		return archive.Gunzip(member)
	})
}

func (f *Fetcher) fetchStationYear(ctx context.Context, year int) Report {
	listings, err := f.source.ListYear(ctx, year)
	if err != nil {
		f.logger.Warn("year listing failed", "year", year, "error", err)
		return Report{Failures: []Failure{{Path: strconv.Itoa(year) + "/", Err: err}}}
	}
	return f.FetchFiles(ctx, year, listings)
}

// FetchFiles downloads the listed station files of one year and gunzips them. Files whose
// .op already exists locally are not downloaded again.
func (f *Fetcher) FetchFiles(ctx context.Context, year int, listings []domain.Listing) Report {
	names := make([]string, len(listings))
	for i, l := range listings {
		names[i] = l.Name
	}
	dir := f.YearDir(year)
	return f.each(ctx, names, func(ctx context.Context, name string) (string, error) {
		gz := filepath.Join(dir, name)
		op := archive.PlainName(gz)
		if _, err := os.Stat(op); err == nil {
			return op, nil
		}
		if _, err := f.source.Download(ctx, path.Join(strconv.Itoa(year), name), gz); err != nil {
			return "", err
		}
		return archive.Gunzip(gz)
	})
}

// each runs fn over items on the worker pool. Items not started before ctx is cancelled
// fail with the context error.
func (f *Fetcher) each(ctx context.Context, items []string, fn func(context.Context, string) (string, error)) Report {
	type result struct {
		path string
		err  error
	}
	results := make([]result, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(f.workers, len(items)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p, err := fn(ctx, items[i])
				results[i] = result{path: p, err: err}
			}
		}()
	}

	next := 0
dispatch:
	for ; next < len(items); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()
	for i := next; i < len(items); i++ {
		results[i] = result{err: ctx.Err()}
	}

	var report Report
	for i, r := range results {
		if r.err != nil {
			f.logger.Warn("file fetch failed", "file", items[i], "error", r.err)
			report.Failures = append(report.Failures, Failure{Path: items[i], Err: r.err})
			continue
		}
		report.Files = append(report.Files, r.path)
	}
	return report
}
