package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/observability"
)

// Extractor yields the data lines of a source file in order. Header lines are skipped;
// lineNo is 1-based and counts every physical line of the file.
type Extractor interface {
	Extract(ctx context.Context, src domain.SourceFile, fn func(lineNo int, line string) error) error
}

// Transformer converts one data line into a station-day record.
type Transformer interface {
	Transform(ctx context.Context, line string) (domain.StationDay, error)
}

// Loader writes station-days for one source file. LoadBatch may be called several times
// per file and must not retain days after it returns; Commit publishes the file's output
// and Abort discards whatever was written for it.
type Loader interface {
	Name() string
	LoadBatch(ctx context.Context, src domain.SourceFile, days []domain.StationDay) error
	Commit(ctx context.Context, src domain.SourceFile) error
	Abort(ctx context.Context, src domain.SourceFile) error
}

// Options tunes batching and concurrency.
type Options struct {
	BatchSize int
	Workers   int
	Clock     clockwork.Clock
}

const (
	loadAttempts   = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline decodes source files and hands the records to the loaders.
type Pipeline struct {
	extractor   Extractor
	transformer Transformer
	loaders     []Loader
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
	workers     int
	clock       clockwork.Clock
	ready       atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, t Transformer, loaders []Loader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loaders:     loaders,
		logger:      logger,
		metrics:     metrics,
		batchSize:   opts.BatchSize,
		workers:     opts.Workers,
		clock:       opts.Clock,
	}
}

// CheckReadiness returns nil once the pipeline has unpacked at least one file.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any files yet")
	}
	return nil
}

// Run processes files on a bounded worker pool. Every file is attempted independently; a
// failure is recorded in its FileResult and never stops the others. Files not started
// before ctx is cancelled are reported with the context error.
func (p *Pipeline) Run(ctx context.Context, files []domain.SourceFile) Report {
	results := make([]FileResult, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(p.workers, len(files)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.ProcessFile(ctx, files[i])
			}
		}()
	}

	next := 0
dispatch:
	for ; next < len(files); next++ {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(files); i++ {
		results[i] = FileResult{Source: files[i], Err: ctx.Err()}
	}
	return newReport(results)
}

// ProcessFile decodes one source file and loads its records.
func (p *Pipeline) ProcessFile(ctx context.Context, src domain.SourceFile) FileResult {
	start := p.clock.Now()
	res := FileResult{
		Source:    src,
		Inventory: domain.NewInventory(src.USAF, src.WBAN, src.Year),
	}

	batch := make([]domain.StationDay, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, l := range p.loaders {
			if err := p.loadWithRetry(ctx, l, src, batch); err != nil {
				return fmt.Errorf("load %s: %w", l.Name(), err)
			}
			p.metrics.RowsLoaded.WithLabelValues(l.Name()).Add(float64(len(batch)))
		}
		res.Rows += len(batch)
		batch = batch[:0]
		return nil
	}

	err := p.extractor.Extract(ctx, src, func(lineNo int, line string) error {
		day, err := p.transformer.Transform(ctx, line)
		if err != nil {
			p.metrics.MalformedLines.Inc()
			p.logger.Warn("skipping malformed line", "file", src.Path, "line", lineNo, "error", err)
			res.Malformed = append(res.Malformed, LineError{Path: src.Path, Line: lineNo, Err: err})
			return nil
		}
		p.metrics.LinesDecoded.Inc()
		res.Inventory.Add(day)
		batch = append(batch, day)
		if len(batch) >= p.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err == nil {
		err = p.commit(ctx, src)
	}

	res.Duration = p.clock.Since(start)
	p.metrics.FileDuration.Observe(res.Duration.Seconds())
	if err != nil {
		p.abort(ctx, src)
		p.metrics.FileFailures.Inc()
		p.logger.Error("file failed", "file", src.Path, "error", err)
		res.Err = err
		return res
	}

	p.ready.Store(true)
	p.logger.Debug("file unpacked", "file", src.Path, "rows", res.Rows, "malformed", len(res.Malformed))
	return res
}

func (p *Pipeline) commit(ctx context.Context, src domain.SourceFile) error {
	for _, l := range p.loaders {
		if err := l.Commit(ctx, src); err != nil {
			return fmt.Errorf("commit %s: %w", l.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) abort(ctx context.Context, src domain.SourceFile) {
	// Cleanup must run even when ctx is what failed the file.
	ctx = context.WithoutCancel(ctx)
	for _, l := range p.loaders {
		if err := l.Abort(ctx, src); err != nil {
			p.logger.Warn("abort failed", "sink", l.Name(), "file", src.Path, "error", err)
		}
	}
}

// loadWithRetry retries a failing batch with exponential backoff: start at 200ms,
// double each retry, cap at 5s.
func (p *Pipeline) loadWithRetry(ctx context.Context, l Loader, src domain.SourceFile, batch []domain.StationDay) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		if err = l.LoadBatch(ctx, src, batch); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == loadAttempts {
			break
		}
		p.logger.Warn("load batch failed, retrying", "sink", l.Name(), "file", src.Path, "attempt", attempt, "error", err)
		if !p.sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	return err
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
