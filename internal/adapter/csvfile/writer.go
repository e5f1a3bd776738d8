// Package csvfile writes station-days as one CSV file per source file under
// <dir>/<year>/<USAF>-<WBAN>.csv.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// Writer implements pipeline.Loader. Output is staged in a temp file and only renamed into
// place on Commit, so readers never see a half-written table.
type Writer struct {
	dir  string
	mu   sync.Mutex
	open map[string]*stagedFile
}

type stagedFile struct {
	tmp *os.File
	w   *csv.Writer
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, open: map[string]*stagedFile{}}
}

// Name implements pipeline.Loader.
func (w *Writer) Name() string { return "csv" }

// Path returns the final output path for src.
func (w *Writer) Path(src domain.SourceFile) string {
	return filepath.Join(w.dir, strconv.Itoa(src.Year), src.StationID()+".csv")
}

// LoadBatch appends rows for src to its staged file.
func (w *Writer) LoadBatch(_ context.Context, src domain.SourceFile, days []domain.StationDay) error {
	sf, err := w.staged(src)
	if err != nil {
		return err
	}
	for _, d := range days {
		if err := sf.w.Write(domain.Row(d)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	sf.w.Flush()
	return sf.w.Error()
}

// Commit renames the staged file into place. A file without any rows still gets a
// header-only table.
func (w *Writer) Commit(_ context.Context, src domain.SourceFile) error {
	sf, err := w.staged(src)
	if err != nil {
		return err
	}
	w.forget(src)

	sf.w.Flush()
	err = sf.w.Error()
	if cerr := sf.tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(sf.tmp.Name(), w.Path(src))
	}
	if err != nil {
		_ = os.Remove(sf.tmp.Name())
		return fmt.Errorf("commit %s: %w", w.Path(src), err)
	}
	return nil
}

// Abort drops the staged file. Previously committed output for src is left untouched.
func (w *Writer) Abort(_ context.Context, src domain.SourceFile) error {
	w.mu.Lock()
	sf, ok := w.open[src.Key()]
	delete(w.open, src.Key())
	w.mu.Unlock()
	if !ok {
		return nil
	}
	_ = sf.tmp.Close()
	if err := os.Remove(sf.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Prune removes the year's output files for stations not in keep (keyed by "USAF-WBAN")
// and returns the removed paths.
func (w *Writer) Prune(year int, keep map[string]bool) ([]string, error) {
	return archive.Prune(filepath.Join(w.dir, strconv.Itoa(year)), ".csv", keep)
}

func (w *Writer) staged(src domain.SourceFile) (*stagedFile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sf, ok := w.open[src.Key()]; ok {
		return sf, nil
	}

	final := w.Path(src)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), "."+filepath.Base(final)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", final, err)
	}
	sf := &stagedFile{tmp: tmp, w: csv.NewWriter(tmp)}
	if err := sf.w.Write(domain.ColumnNames()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	w.open[src.Key()] = sf
	return sf, nil
}

func (w *Writer) forget(src domain.SourceFile) {
	w.mu.Lock()
	delete(w.open, src.Key())
	w.mu.Unlock()
}
