// Package arrowfile writes station-days as Arrow IPC files, one per source file, under
// <dir>/<year>/<USAF>-<WBAN>.arrow.
package arrowfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// Schema is the Arrow schema derived from the tabular columns. Measurements are nullable.
var Schema = newSchema()

func newSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(domain.Columns))
	for i, c := range domain.Columns {
		f := arrow.Field{Name: c.Name}
		switch c.Kind {
		case domain.KindFloat:
			f.Type, f.Nullable = arrow.PrimitiveTypes.Float64, true
		case domain.KindInt:
			f.Type = arrow.PrimitiveTypes.Int64
		case domain.KindBool:
			f.Type = arrow.FixedWidthTypes.Boolean
		default:
			f.Type = arrow.BinaryTypes.String
		}
		fields[i] = f
	}
	return arrow.NewSchema(fields, nil)
}

// Writer implements pipeline.Loader. Each LoadBatch becomes one record batch in a staged
// IPC file that Commit renames into place.
type Writer struct {
	dir  string
	mem  memory.Allocator
	mu   sync.Mutex
	open map[string]*stagedFile
}

type stagedFile struct {
	tmp *os.File
	fw  *ipc.FileWriter
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, mem: memory.DefaultAllocator, open: map[string]*stagedFile{}}
}

// Name implements pipeline.Loader.
func (w *Writer) Name() string { return "arrow" }

// Path returns the final output path for src.
func (w *Writer) Path(src domain.SourceFile) string {
	return filepath.Join(w.dir, strconv.Itoa(src.Year), src.StationID()+".arrow")
}

// LoadBatch appends days to the staged file as one record batch.
func (w *Writer) LoadBatch(_ context.Context, src domain.SourceFile, days []domain.StationDay) error {
	sf, err := w.staged(src)
	if err != nil {
		return err
	}
	rec := w.record(days)
	defer rec.Release()
	if err := sf.fw.Write(rec); err != nil {
		return fmt.Errorf("write arrow batch: %w", err)
	}
	return nil
}

func (w *Writer) record(days []domain.StationDay) arrow.Record {
	b := array.NewRecordBuilder(w.mem, Schema)
	defer b.Release()

	for i, c := range domain.Columns {
		fb := b.Field(i)
		for _, d := range days {
			switch v := c.Value(d).(type) {
			case string:
				fb.(*array.StringBuilder).Append(v)
			case *float64:
				if v == nil {
					fb.AppendNull()
				} else {
					fb.(*array.Float64Builder).Append(*v)
				}
			case int:
				fb.(*array.Int64Builder).Append(int64(v))
			case bool:
				fb.(*array.BooleanBuilder).Append(v)
			default:
				fb.AppendNull()
			}
		}
	}
	return b.NewRecord()
}

// Commit closes the staged file and renames it into place.
func (w *Writer) Commit(_ context.Context, src domain.SourceFile) error {
	sf, err := w.staged(src)
	if err != nil {
		return err
	}
	w.forget(src)

	err = sf.fw.Close()
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

// Abort drops the staged file.
func (w *Writer) Abort(_ context.Context, src domain.SourceFile) error {
	w.mu.Lock()
	sf, ok := w.open[src.Key()]
	delete(w.open, src.Key())
	w.mu.Unlock()
	if !ok {
		return nil
	}
	_ = sf.fw.Close()
	_ = sf.tmp.Close()
	if err := os.Remove(sf.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Prune removes the year's output files for stations not in keep (keyed by "USAF-WBAN")
// and returns the removed paths.
func (w *Writer) Prune(year int, keep map[string]bool) ([]string, error) {
	return archive.Prune(filepath.Join(w.dir, strconv.Itoa(year)), ".arrow", keep)
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
	fw, err := ipc.NewFileWriter(tmp, ipc.WithSchema(Schema), ipc.WithAllocator(w.mem))
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("open arrow writer: %w", err)
	}
	sf := &stagedFile{tmp: tmp, fw: fw}
	w.open[src.Key()] = sf
	return sf, nil
}

func (w *Writer) forget(src domain.SourceFile) {
	w.mu.Lock()
	delete(w.open, src.Key())
	w.mu.Unlock()
}
