package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gsod-etl/internal/adapter/noaa"
	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/observability"
)

const sampleLine = "010010 99999  20100101    22.1 24    13.2 24  1003.8 24  9999.9  0   11.3  6   20.3 24   27.0   34.0    26.4*   17.6*  0.00I 999.9  001000"

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarball(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(files[name])), Typeflag: tar.TypeReg}))
		_, err := tw.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func newFetcher(t *testing.T, srvURL, mode string) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		BaseURL:              srvURL + "/",
		StationsURL:          srvURL + "/isd-history.csv",
		DataDir:              dir,
		DownloadMode:         mode,
		FetchWorkers:         2,
		HTTPTimeout:          5 * time.Second,
		RetryMax:             1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
		BreakerMaxFailures:   100,
		BreakerTimeout:       time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := noaa.NewClient(cfg, observability.NewMetricsForTesting(), logger)
	return New(client, cfg, logger), dir
}

const yearIndex = `<html><body><pre>
<a href="010010-99999-2010.op.gz">010010-99999-2010.op.gz</a>   04-Jan-2011 10:11  12K
<a href="010014-99999-2010.op.gz">010014-99999-2010.op.gz</a>   04-Jan-2011 10:11  12K
<a href="010020-99999-2010.op.gz">010020-99999-2010.op.gz</a>   04-Jan-2011 10:11  12K
<a href="gsod_2010.tar">gsod_2010.tar</a>   04-Jan-2011 10:11  82M
</pre></body></html>`

func TestFetchYears_StationModeMissingFileDoesNotStopOthers(t *testing.T) {
	payload := gzipped(t, sampleLine+"\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2010/":
			_, _ = io.WriteString(w, yearIndex)
		case "/2010/010014-99999-2010.op.gz":
			http.NotFound(w, r)
		case "/2010/010010-99999-2010.op.gz", "/2010/010020-99999-2010.op.gz":
			_, _ = w.Write(payload)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, dir := newFetcher(t, srv.URL, config.ModeStation)
	report, err := f.FetchYears(context.Background(), []int{2010})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "2010", "010010-99999-2010.op"),
		filepath.Join(dir, "2010", "010020-99999-2010.op"),
	}, report.Files)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "010014-99999-2010.op.gz", report.Failures[0].Path)
	assert.True(t, errors.Is(report.Failures[0], noaa.ErrNotFound))

	data, err := os.ReadFile(report.Files[0])
	require.NoError(t, err)
	assert.Equal(t, sampleLine+"\n", string(data))
}

func TestFetchFiles_SkipsExistingOp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(gzipped(t, sampleLine+"\n"))
	}))
	defer srv.Close()

	f, dir := newFetcher(t, srv.URL, config.ModeStation)
	existing := filepath.Join(dir, "2010", "010010-99999-2010.op")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("cached"), 0o644))

	report := f.FetchFiles(context.Background(), 2010, nil)
	assert.Empty(t, report.Files)

	report = f.FetchFiles(context.Background(), 2010, listings("010010-99999-2010.op.gz"))
	assert.Equal(t, []string{existing}, report.Files)
	assert.Empty(t, report.Failures)
	assert.Zero(t, hits.Load())
}

func TestFetchYears_BulkMode(t *testing.T) {
	tarData := tarball(t, map[string][]byte{
		"./010010-99999-2010.op.gz": gzipped(t, sampleLine+"\n"),
		"./010014-99999-2010.op.gz": []byte("not gzip"),
		"./readme.txt":              []byte("ignored"),
	})
	var tarHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2010/gsod_2010.tar":
			tarHits.Add(1)
			_, _ = w.Write(tarData)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, dir := newFetcher(t, srv.URL, config.ModeBulk)
	report, err := f.FetchYears(context.Background(), []int{2010, 2011})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "2010", "010010-99999-2010.op")}, report.Files)
	paths := make([]string, 0, len(report.Failures))
	for _, fl := range report.Failures {
		paths = append(paths, fl.Path)
	}
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "2010", "010014-99999-2010.op.gz"),
		"2011/gsod_2011.tar",
	}, paths)

	// The tarball is kept and reused.
	_, err = f.FetchYears(context.Background(), []int{2010})
	require.NoError(t, err)
	assert.Equal(t, int32(1), tarHits.Load())
}

func TestFetchYears_ListsAllYearsWhenNoneRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, `<pre><a href="1929/">1929/</a> 27-Feb-2019 13:48 -</pre>`)
		case "/1929/":
			_, _ = io.WriteString(w, `<pre></pre>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, _ := newFetcher(t, srv.URL, config.ModeStation)
	report, err := f.FetchYears(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.Empty(t, report.Failures)
}

func TestFetchYears_ListingFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, _ := newFetcher(t, srv.URL, config.ModeStation)
	_, err := f.FetchYears(context.Background(), nil)
	require.Error(t, err)
}

func TestFetchFiles_CancelledContext(t *testing.T) {
	f, _ := newFetcher(t, "http://127.0.0.1:0", config.ModeStation)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.FetchFiles(ctx, 2010, listings("a-b-2010.op.gz", "c-d-2010.op.gz"))
	assert.Empty(t, report.Files)
	require.Len(t, report.Failures, 2)
	for _, fl := range report.Failures {
		assert.ErrorIs(t, fl, context.Canceled)
	}
}

func listings(names ...string) []domain.Listing {
	out := make([]domain.Listing, len(names))
	for i, n := range names {
		out[i] = domain.Listing{Name: n, Modified: time.Date(2011, 1, 4, 0, 0, 0, 0, time.UTC)}
	}
	return out
}
