// Package update keeps a local GSOD mirror current. Each run re-downloads and unpacks only
// the station files NOAA modified since they were last processed, tracked by a per-year log
// and a per-station-year inventory in the state directory.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	"github.com/couchcryptid/gsod-etl/internal/adapter/isd"
	"github.com/couchcryptid/gsod-etl/internal/adapter/noaa"
	"github.com/couchcryptid/gsod-etl/internal/adapter/statefile"
	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/fetch"
	"github.com/couchcryptid/gsod-etl/internal/observability"
	"github.com/couchcryptid/gsod-etl/internal/pipeline"
)

// Lister enumerates the remote archive.
type Lister interface {
	ListYears(ctx context.Context) ([]noaa.YearListing, error)
	ListYear(ctx context.Context, year int) ([]domain.Listing, error)
}

// Fetcher downloads station files of one year.
type Fetcher interface {
	FetchFiles(ctx context.Context, year int, listings []domain.Listing) fetch.Report
	YearDir(year int) string
}

// Unpacker decodes local station files into the configured sinks.
type Unpacker interface {
	Run(ctx context.Context, files []domain.SourceFile) pipeline.Report
}

// HistorySource downloads NOAA's station list.
type HistorySource interface {
	DownloadStationHistory(ctx context.Context, dest string) (int64, error)
}

// Pruner removes a year's outputs for stations no longer published.
type Pruner interface {
	Prune(year int, keep map[string]bool) ([]string, error)
}

// Options selects years and collaborators that have defaults.
type Options struct {
	// Years restricts the run; empty means every year on the server.
	Years   []int
	Outputs []Pruner
	// History refreshes isd-history at the start of every run. When nil, or when the
	// download fails, the last downloaded copy is used.
	History HistorySource
	// Stations is updated with the full station list so rows unpacked during the run are
	// enriched with current metadata.
	Stations *domain.StationDirectory
	Clock    clockwork.Clock
}

// Summary describes one update run.
type Summary struct {
	Years    []int `json:"years"`
	Files    int   `json:"files"`
	Rows     int   `json:"rows"`
	Pruned   int   `json:"pruned"`
	Failures int   `json:"failures"`
}

// Status reports the most recent finished run. A zero FinishedAt means no run has finished.
type Status struct {
	Running    bool      `json:"running"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Last       Summary   `json:"last"`
}

// Updater runs incremental updates.
type Updater struct {
	lister   Lister
	fetcher  Fetcher
	unpacker Unpacker
	store    *statefile.Store
	outputs  []Pruner
	history  HistorySource
	stations *domain.StationDirectory
	years    map[int]bool
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
	running  atomic.Bool

	mu     sync.Mutex
	status Status
}

// New creates an Updater.
func New(lister Lister, fetcher Fetcher, unpacker Unpacker, store *statefile.Store, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Updater {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	var years map[int]bool
	if len(opts.Years) > 0 {
		years = make(map[int]bool, len(opts.Years))
		for _, y := range opts.Years {
			years[y] = true
		}
	}
	return &Updater{
		lister:   lister,
		fetcher:  fetcher,
		unpacker: unpacker,
		store:    store,
		outputs:  opts.Outputs,
		history:  opts.History,
		stations: opts.Stations,
		years:    years,
		clock:    opts.Clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once an update run has completed without a fatal error.
func (u *Updater) CheckReadiness(_ context.Context) error {
	if !u.ready.Load() {
		return errors.New("no update run has completed yet")
	}
	return nil
}

// Run performs one update. It returns an error only when the state cannot be read or
// written or the archive root cannot be listed; per-file problems are counted in the
// Summary and retried on the next run.
func (u *Updater) Run(ctx context.Context) (Summary, error) {
	u.running.Store(true)
	defer u.running.Store(false)

	sum, err := u.run(ctx)
	finished := u.clock.Now()
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case sum.Failures > 0:
		outcome = "partial"
	}
	u.metrics.UpdateRuns.WithLabelValues(outcome).Inc()
	if err == nil {
		u.metrics.LastUpdateTimestamp.Set(float64(finished.Unix()))
		u.ready.Store(true)
	}

	st := Status{FinishedAt: finished, Outcome: outcome, Last: sum}
	if err != nil {
		st.Error = err.Error()
	}
	u.mu.Lock()
	u.status = st
	u.mu.Unlock()
	return sum, err
}

// Status returns the outcome of the most recent run and whether one is in progress.
func (u *Updater) Status() Status {
	u.mu.Lock()
	st := u.status
	u.mu.Unlock()
	st.Running = u.running.Load()
	return st
}

func (u *Updater) run(ctx context.Context) (Summary, error) {
	var sum Summary
	yearLog, err := u.store.LoadYearLog()
	if err != nil {
		return sum, err
	}
	inventory, err := u.store.LoadInventory()
	if err != nil {
		return sum, err
	}

	listings, err := u.lister.ListYears(ctx)
	if err != nil {
		return sum, fmt.Errorf("list years: %w", err)
	}
	known, err := u.refreshStations(ctx)
	if err != nil {
		return sum, err
	}

	for _, yl := range listings {
		if u.years != nil && !u.years[yl.Year] {
			continue
		}
		if last, ok := yearLog[yl.Year]; ok && !yl.Modified.After(last) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		ys := u.updateYear(ctx, yl.Year, inventory)
		sum.Years = append(sum.Years, yl.Year)
		sum.Files += ys.Files
		sum.Rows += ys.Rows
		sum.Pruned += ys.Pruned
		sum.Failures += ys.Failures

		if err := u.store.SaveInventory(inventory); err != nil {
			return sum, err
		}
		if ys.Failures > 0 {
			u.logger.Warn("year incomplete, will retry next run", "year", yl.Year, "failures", ys.Failures)
			continue
		}
		yearLog[yl.Year] = yl.Modified
		if err := u.store.SaveYearLog(yearLog); err != nil {
			return sum, err
		}
	}

	if err := u.reconcileStations(inventory, known); err != nil {
		return sum, err
	}
	u.logger.Info("update finished",
		"years", len(sum.Years), "files", sum.Files, "rows", sum.Rows,
		"pruned", sum.Pruned, "failures", sum.Failures)
	return sum, nil
}

// updateYear refreshes one year in place and updates inventory.
func (u *Updater) updateYear(ctx context.Context, year int, inventory map[string]domain.Inventory) Summary {
	var sum Summary
	listings, err := u.lister.ListYear(ctx, year)
	if err != nil {
		u.logger.Warn("year listing failed", "year", year, "error", err)
		sum.Failures++
		return sum
	}

	published := make(map[string]bool, len(listings))
	for _, l := range listings {
		if src, err := domain.ParseSourcePath(l.Name); err == nil {
			published[src.StationID()] = true
		}
	}
	sum.Pruned = u.prune(year, published, inventory)

	stale := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		src, err := domain.ParseSourcePath(l.Name)
		if err != nil {
			continue
		}
		inv, ok := inventory[src.Key()]
		if ok && !l.Modified.After(inv.LastUpdated) {
			continue
		}
		stale = append(stale, l)
		// Drop the local copy so the fetcher downloads the new version.
		local := filepath.Join(u.fetcher.YearDir(year), archive.PlainName(l.Name))
		if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
			u.logger.Warn("remove stale file", "path", local, "error", err)
		}
	}
	if len(stale) == 0 {
		return sum
	}
	u.logger.Info("updating year", "year", year, "published", len(listings), "stale", len(stale))

	fetched := u.fetcher.FetchFiles(ctx, year, stale)
	sum.Failures += len(fetched.Failures)

	sources, err := archive.ListSources(fetched.Files)
	if err != nil {
		u.logger.Warn("list fetched files", "year", year, "error", err)
		sum.Failures++
		return sum
	}
	report := u.unpacker.Run(ctx, sources)
	sum.Failures += report.Failed
	sum.Rows += report.Rows
	for _, r := range report.Files {
		if !r.OK() {
			continue
		}
		inv := r.Inventory
		inv.MarkUpdated()
		inventory[inv.Key()] = inv
		sum.Files++
	}
	return sum
}

// prune forgets stations NOAA no longer publishes for year: their inventory rows, raw files
// and outputs.
func (u *Updater) prune(year int, published map[string]bool, inventory map[string]domain.Inventory) int {
	var removed int
	for key, inv := range inventory {
		if inv.Year == year && !published[inv.StationID()] {
			delete(inventory, key)
			removed++
		}
	}

	raw, err := archive.Prune(u.fetcher.YearDir(year), "-"+strconv.Itoa(year)+domain.ExtOp, published)
	if err != nil {
		u.logger.Warn("prune raw files", "year", year, "error", err)
	}
	for _, path := range raw {
		u.logger.Info("removed withdrawn station file", "path", path)
	}
	for _, out := range u.outputs {
		paths, err := out.Prune(year, published)
		if err != nil {
			u.logger.Warn("prune outputs", "year", year, "error", err)
		}
		for _, path := range paths {
			u.logger.Info("removed withdrawn station output", "path", path)
		}
	}
	return removed
}

// refreshStations downloads NOAA's station list and serves it to the unpacker. Without a
// downloaded copy it falls back to the reconciled list from the previous run.
func (u *Updater) refreshStations(ctx context.Context) ([]domain.StationMeta, error) {
	path := u.store.NOAAStationsPath()
	if u.history != nil {
		if _, err := u.history.DownloadStationHistory(ctx, path); err != nil {
			u.logger.Warn("station list download failed, using local copy", "error", err)
		}
	}

	stations, err := isd.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		stations, err = isd.Load(u.store.StationsPath())
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load stations: %w", err)
	}

	idx := domain.NewStationIndex(stations)
	if u.stations != nil {
		u.stations.Set(idx)
	}
	u.logger.Info("station list loaded", "stations", idx.Len())
	return stations, nil
}

// reconcileStations rewrites isd-history.csv so it lists exactly the stations present in
// the inventory, with metadata taken from known.
func (u *Updater) reconcileStations(inventory map[string]domain.Inventory, known []domain.StationMeta) error {
	seen := map[string]bool{}
	ids := make([]string, 0, len(inventory))
	for _, inv := range inventory {
		if id := inv.StationID(); !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	stations := domain.NewStationIndex(known).Reconcile(ids).Stations()
	if err := isd.Save(u.store.StationsPath(), stations); err != nil {
		return fmt.Errorf("save stations: %w", err)
	}
	return nil
}
