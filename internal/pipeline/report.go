package pipeline

import (
	"fmt"
	"time"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// LineError reports a line that could not be decoded.
type LineError struct {
	Path string
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// FileResult is the outcome of unpacking one source file.
type FileResult struct {
	Source    domain.SourceFile
	Rows      int
	Malformed []LineError
	Inventory domain.Inventory
	Duration  time.Duration
	Err       error
}

// OK reports whether the file was fully processed. Malformed lines do not fail a file.
func (r FileResult) OK() bool { return r.Err == nil }

// Report aggregates the results of a run.
type Report struct {
	Files     []FileResult
	Rows      int
	Malformed int
	Failed    int
}

func newReport(results []FileResult) Report {
	rep := Report{Files: results}
	for _, r := range results {
		rep.Rows += r.Rows
		rep.Malformed += len(r.Malformed)
		if !r.OK() {
			rep.Failed++
		}
	}
	return rep
}

// Failures returns the results of files that could not be processed.
func (r Report) Failures() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}
