// Command validate checks a CSV produced by `gsod unpack` against its source station file.
// It re-decodes the .op file, verifies that every valid line re-encodes to itself, and
// compares the expected rows with the CSV cell by cell.
//
// Usage:
//
//	go run ./cmd/validate \
//	  --source data/raw/2010/010010-99999-2010.op \
//	  --csv data/out/2010/010010-99999.csv \
//	  --stations data/state/isd-history.csv
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/gsod-etl/internal/adapter/archive"
	"github.com/couchcryptid/gsod-etl/internal/adapter/isd"
	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// maxErrors caps the details printed per phase.
const maxErrors = 20

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// sourceLine is one data line of the station file with its decode result.
type sourceLine struct {
	lineNo int
	raw    string
	day    domain.StationDay
	err    error
}

func main() {
	sourcePath := flag.String("source", "", "station file (.op or .op.gz)")
	csvPath := flag.String("csv", "", "CSV written for the station file")
	stationsPath := flag.String("stations", "", "isd-history.csv used when the CSV was written (optional)")
	flag.Parse()

	if *sourcePath == "" || *csvPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*sourcePath, *csvPath, *stationsPath))
}

func run(sourcePath, csvPath, stationsPath string) int {
	fmt.Println("=== GSOD Unpack Validation ===")
	fmt.Println()

	src, err := domain.ParseSourcePath(sourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	lines, err := loadSource(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read source: %v\n", err)
		return 1
	}
	rows, err := loadCSV(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read CSV: %v\n", err)
		return 1
	}
	var stations *domain.StationIndex
	if stationsPath != "" {
		list, err := isd.Load(stationsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load stations: %v\n", err)
			return 1
		}
		stations = domain.NewStationIndex(list)
	}

	phases := []*phase{
		validateRoundTrip(lines),
		validateStation(src, lines),
		validateHeader(rows),
		validateRows(lines, rows, stations),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	valid, malformed := 0, 0
	for _, l := range lines {
		if l.err != nil {
			malformed++
			continue
		}
		valid++
	}
	fmt.Println()
	fmt.Printf("Lines: %d valid, %d malformed; CSV rows: %d\n", valid, malformed, max(len(rows)-1, 0))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrors {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxErrors)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadSource(src domain.SourceFile) ([]sourceLine, error) {
	var out []sourceLine
	err := archive.LineReader{}.Extract(context.Background(), src, func(lineNo int, line string) error {
		day, err := domain.DecodeLine(line)
		out = append(out, sourceLine{lineNo: lineNo, raw: line, day: day, err: err})
		return nil
	})
	return out, err
}

func loadCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.NewReader(f).ReadAll()
}

// ── Validation phases ──

// validateRoundTrip checks that re-encoding a decoded line reproduces it exactly.
func validateRoundTrip(lines []sourceLine) *phase {
	p := &phase{name: "Decode/encode round trip"}
	for _, l := range lines {
		if l.err != nil {
			continue
		}
		want := strings.TrimRight(l.raw, " \t\r\n")
		if got := domain.EncodeLine(l.day); got != want {
			p.errorf("line %d: re-encoded as\n      %q\n    want %q", l.lineNo, got, want)
		}
	}
	return p
}

// validateStation checks that every record belongs to the station-year in the file name.
func validateStation(src domain.SourceFile, lines []sourceLine) *phase {
	p := &phase{name: "Records match file station and year"}
	for _, l := range lines {
		if l.err != nil {
			continue
		}
		if l.day.StationID() != src.StationID() || l.day.Date.Year() != src.Year {
			p.errorf("line %d: %s on %s in file for %s", l.lineNo, l.day.StationID(), l.day.Date.Format("2006-01-02"), src.Key())
		}
	}
	return p
}

func validateHeader(rows [][]string) *phase {
	p := &phase{name: "CSV header"}
	if len(rows) == 0 {
		p.errorf("CSV is empty")
		return p
	}
	want := domain.ColumnNames()
	if len(rows[0]) != len(want) {
		p.errorf("header has %d columns, want %d", len(rows[0]), len(want))
		return p
	}
	for i, name := range want {
		if rows[0][i] != name {
			p.errorf("column %d is %q, want %q", i+1, rows[0][i], name)
		}
	}
	return p
}

// validateRows compares the expected row of each valid line with the CSV, in order.
// Malformed lines must not appear in the output.
func validateRows(lines []sourceLine, rows [][]string, stations *domain.StationIndex) *phase {
	p := &phase{name: "CSV rows match decoded source"}
	if len(rows) == 0 {
		return p
	}
	data := rows[1:]

	i := 0
	for _, l := range lines {
		if l.err != nil {
			continue
		}
		if i >= len(data) {
			p.errorf("line %d: missing from CSV", l.lineNo)
			i++
			continue
		}
		want := domain.Row(domain.Enrich(l.day, stations))
		got := data[i]
		for c, col := range domain.Columns {
			if c >= len(got) {
				p.errorf("line %d: CSV row %d has only %d cells", l.lineNo, i+2, len(got))
				break
			}
			if got[c] != want[c] {
				p.errorf("line %d: %s is %q, want %q", l.lineNo, col.Name, got[c], want[c])
			}
		}
		i++
	}
	if extra := len(data) - i; extra > 0 {
		p.errorf("CSV has %d rows with no valid source line", extra)
	}
	return p
}
