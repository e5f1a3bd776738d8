package update

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gsod-etl/internal/adapter/isd"
	"github.com/couchcryptid/gsod-etl/internal/adapter/noaa"
	"github.com/couchcryptid/gsod-etl/internal/adapter/statefile"
	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/fetch"
	"github.com/couchcryptid/gsod-etl/internal/observability"
	"github.com/couchcryptid/gsod-etl/internal/pipeline"
)

var (
	t0  = time.Date(2011, 1, 4, 10, 0, 0, 0, time.UTC)
	t1  = time.Date(2011, 3, 1, 9, 0, 0, 0, time.UTC)
	now = time.Date(2011, 2, 1, 0, 0, 0, 0, time.UTC)
)

type fakeLister struct {
	years []noaa.YearListing
	files map[int][]domain.Listing
	err   error
}

func (f *fakeLister) ListYears(context.Context) ([]noaa.YearListing, error) {
	return f.years, f.err
}

func (f *fakeLister) ListYear(_ context.Context, year int) ([]domain.Listing, error) {
	return f.files[year], nil
}

type fakeFetcher struct {
	dir     string
	fail    map[string]bool
	fetched []string
}

func (f *fakeFetcher) YearDir(year int) string {
	return filepath.Join(f.dir, strconv.Itoa(year))
}

func (f *fakeFetcher) FetchFiles(_ context.Context, year int, listings []domain.Listing) fetch.Report {
	var rep fetch.Report
	for _, l := range listings {
		f.fetched = append(f.fetched, l.Name)
		if f.fail[l.Name] {
			rep.Failures = append(rep.Failures, fetch.Failure{Path: l.Name, Err: noaa.ErrNotFound})
			continue
		}
		path := filepath.Join(f.YearDir(year), strings.TrimSuffix(l.Name, ".gz"))
		_ = os.MkdirAll(filepath.Dir(path), 0o755)
		_ = os.WriteFile(path, nil, 0o644)
		rep.Files = append(rep.Files, path)
	}
	return rep
}

type fakeUnpacker struct{ runs int }

func (f *fakeUnpacker) Run(_ context.Context, files []domain.SourceFile) pipeline.Report {
	f.runs++
	rep := pipeline.Report{}
	for _, src := range files {
		inv := domain.NewInventory(src.USAF, src.WBAN, src.Year)
		inv.Months[0] = 31
		rep.Files = append(rep.Files, pipeline.FileResult{Source: src, Rows: 31, Inventory: inv})
		rep.Rows += 31
	}
	return rep
}

type fakePruner struct{ keeps []map[string]bool }

func (f *fakePruner) Prune(_ int, keep map[string]bool) ([]string, error) {
	f.keeps = append(f.keeps, keep)
	return nil, nil
}

type fakeHistory struct {
	stations []domain.StationMeta
	err      error
	calls    int
}

func (f *fakeHistory) DownloadStationHistory(_ context.Context, dest string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 0, isd.Save(dest, f.stations)
}

func listing(name string, mod time.Time) domain.Listing {
	return domain.Listing{Name: name, Modified: mod}
}

type harness struct {
	lister   *fakeLister
	fetcher  *fakeFetcher
	unpacker *fakeUnpacker
	pruner   *fakePruner
	store    *statefile.Store
	metrics  *observability.Metrics
	updater  *Updater
}

func newHarness(t *testing.T, years ...int) *harness {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	h := &harness{
		lister: &fakeLister{
			years: []noaa.YearListing{{Year: 2010, Modified: t0}, {Year: 2011, Modified: t0}},
			files: map[int][]domain.Listing{
				2010: {
					listing("010010-99999-2010.op.gz", t0),
					listing("010014-99999-2010.op.gz", t0),
				},
			},
		},
		fetcher:  &fakeFetcher{dir: t.TempDir(), fail: map[string]bool{}},
		unpacker: &fakeUnpacker{},
		pruner:   &fakePruner{},
		store:    statefile.New(t.TempDir()),
		metrics:  observability.NewMetricsForTesting(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.updater = New(h.lister, h.fetcher, h.unpacker, h.store, logger, h.metrics, Options{
		Years:   years,
		Outputs: []Pruner{h.pruner},
		Clock:   clockwork.NewFakeClockAt(now),
	})
	return h
}

func TestRun_FirstRunFetchesEverything(t *testing.T) {
	h := newHarness(t, 2010)
	elev := 10.0
	require.NoError(t, isd.Save(h.store.StationsPath(), []domain.StationMeta{
		{USAF: "010010", WBAN: "99999", Name: "JAN MAYEN", Country: "NO", Elevation: &elev},
		{USAF: "999999", WBAN: "00001", Name: "ELSEWHERE"},
	}))

	require.Error(t, h.updater.CheckReadiness(context.Background()))
	assert.True(t, h.updater.Status().FinishedAt.IsZero())
	sum, err := h.updater.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.updater.CheckReadiness(context.Background()))

	assert.Equal(t, []int{2010}, sum.Years)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 62, sum.Rows)
	assert.Zero(t, sum.Failures)
	assert.ElementsMatch(t, []string{"010010-99999-2010.op.gz", "010014-99999-2010.op.gz"}, h.fetcher.fetched)

	inv, err := h.store.LoadInventory()
	require.NoError(t, err)
	require.Len(t, inv, 2)
	got := inv["010010-99999-2010"]
	assert.Equal(t, 31, got.Months[0])
	assert.Equal(t, now, got.LastUpdated)

	log, err := h.store.LoadYearLog()
	require.NoError(t, err)
	assert.Equal(t, map[int]time.Time{2010: t0}, log)

	stations, err := isd.Load(h.store.StationsPath())
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "JAN MAYEN", stations[0].Name)
	assert.Equal(t, "010014", stations[1].USAF)
	assert.Empty(t, stations[1].Name)

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.UpdateRuns.WithLabelValues("success")), 0)
	assert.InDelta(t, float64(now.Unix()), testutil.ToFloat64(h.metrics.LastUpdateTimestamp), 0)

	st := h.updater.Status()
	assert.False(t, st.Running)
	assert.Equal(t, now, st.FinishedAt)
	assert.Equal(t, "success", st.Outcome)
	assert.Equal(t, sum, st.Last)
}

func TestRun_NothingChanged(t *testing.T) {
	h := newHarness(t, 2010)
	_, err := h.updater.Run(context.Background())
	require.NoError(t, err)
	h.fetcher.fetched = nil

	sum, err := h.updater.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Years)
	assert.Empty(t, h.fetcher.fetched)
	assert.Equal(t, 1, h.unpacker.runs)
}

func TestRun_OnlyModifiedFilesAndWithdrawnStations(t *testing.T) {
	h := newHarness(t, 2010)
	_, err := h.updater.Run(context.Background())
	require.NoError(t, err)
	h.fetcher.fetched = nil

	stale := filepath.Join(h.fetcher.YearDir(2010), "010010-99999-2010.op")
	withdrawn := filepath.Join(h.fetcher.YearDir(2010), "010014-99999-2010.op")
	require.FileExists(t, stale)
	require.FileExists(t, withdrawn)

	h.lister.years[0].Modified = t1
	h.lister.files[2010] = []domain.Listing{
		listing("010010-99999-2010.op.gz", t1),
		listing("010020-99999-2010.op.gz", t0),
	}

	sum, err := h.updater.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"010010-99999-2010.op.gz", "010020-99999-2010.op.gz"}, h.fetcher.fetched)
	assert.Equal(t, 1, sum.Pruned)
	assert.NoFileExists(t, withdrawn)

	require.Len(t, h.pruner.keeps, 2)
	assert.Equal(t, map[string]bool{"010010-99999": true, "010020-99999": true}, h.pruner.keeps[1])

	inv, err := h.store.LoadInventory()
	require.NoError(t, err)
	assert.Contains(t, inv, "010010-99999-2010")
	assert.Contains(t, inv, "010020-99999-2010")
	assert.NotContains(t, inv, "010014-99999-2010")
}

func TestRun_FailedFileLeavesYearUnmarked(t *testing.T) {
	h := newHarness(t, 2010)
	h.fetcher.fail["010014-99999-2010.op.gz"] = true

	sum, err := h.updater.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failures)

	log, err := h.store.LoadYearLog()
	require.NoError(t, err)
	assert.Empty(t, log)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.UpdateRuns.WithLabelValues("partial")), 0)

	// The next run retries only the failed file.
	delete(h.fetcher.fail, "010014-99999-2010.op.gz")
	h.fetcher.fetched = nil
	sum, err = h.updater.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Failures)
	assert.Equal(t, []string{"010014-99999-2010.op.gz"}, h.fetcher.fetched)

	log, err = h.store.LoadYearLog()
	require.NoError(t, err)
	assert.Equal(t, map[int]time.Time{2010: t0}, log)
}

func TestRun_AllYearsWhenNoneSelected(t *testing.T) {
	h := newHarness(t)
	sum, err := h.updater.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2010, 2011}, sum.Years)
}

func TestRun_ListingFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.lister.err = errors.New("no route to host")

	_, err := h.updater.Run(context.Background())
	require.Error(t, err)
	require.Error(t, h.updater.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.UpdateRuns.WithLabelValues("error")), 0)

	st := h.updater.Status()
	assert.Equal(t, "error", st.Outcome)
	assert.Contains(t, st.Error, "no route to host")
}

func TestRun_StationListRefreshedEveryRun(t *testing.T) {
	h := newHarness(t)
	h.lister.files[2011] = []domain.Listing{listing("722950-23174-2011.op.gz", t0)}
	history := &fakeHistory{stations: []domain.StationMeta{
		{USAF: "010010", WBAN: "99999", Name: "JAN MAYEN", Country: "NO"},
		{USAF: "722950", WBAN: "23174", Name: "LOS ANGELES INTERNATIONAL AIRPORT", Country: "US"},
	}}
	directory := domain.NewStationDirectory(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	updaterFor := func(year int) *Updater {
		return New(h.lister, h.fetcher, h.unpacker, h.store, logger, h.metrics, Options{
			Years:    []int{year},
			History:  history,
			Stations: directory,
			Clock:    clockwork.NewFakeClockAt(now),
		})
	}

	_, err := updaterFor(2010).Run(context.Background())
	require.NoError(t, err)

	stations, err := isd.Load(h.store.StationsPath())
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "010010-99999", stations[0].ID())
	assert.Equal(t, "010014-99999", stations[1].ID())

	// A later run reaching a station outside the first run's list still gets its metadata.
	_, err = updaterFor(2011).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, history.calls)

	meta, ok := directory.Lookup("722950-23174")
	require.True(t, ok)
	assert.Equal(t, "LOS ANGELES INTERNATIONAL AIRPORT", meta.Name)

	stations, err = isd.Load(h.store.StationsPath())
	require.NoError(t, err)
	require.Len(t, stations, 3)
	assert.Equal(t, "JAN MAYEN", stations[0].Name)
	assert.Equal(t, "722950-23174", stations[2].ID())
	assert.Equal(t, "LOS ANGELES INTERNATIONAL AIRPORT", stations[2].Name)

	// A failed download keeps serving the last downloaded list.
	history.err = noaa.ErrNotFound
	directory.Set(nil)
	_, err = updaterFor(2011).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, directory.Len())
}
