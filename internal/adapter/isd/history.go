// Package isd reads and writes NOAA's isd-history.csv station list.
package isd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// Header is the column layout NOAA publishes.
var Header = []string{"USAF", "WBAN", "STATION NAME", "CTRY", "STATE", "ICAO", "LAT", "LON", "ELEV(M)", "BEGIN", "END"}

// Read parses isd-history.csv. Columns are located by header name, so extra or reordered
// columns are tolerated; USAF and WBAN are required.
func Read(r io.Reader) ([]domain.StationMeta, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read station header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, h := range head {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"USAF", "WBAN"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("station list: missing %s column", required)
		}
	}

	var stations []domain.StationMeta
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return stations, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read station list line %d: %w", line, err)
		}
		field := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		stations = append(stations, domain.StationMeta{
			USAF:      field("USAF"),
			WBAN:      field("WBAN"),
			Name:      field("STATION NAME"),
			Country:   field("CTRY"),
			State:     field("STATE"),
			ICAO:      field("ICAO"),
			Latitude:  parseFloat(field("LAT")),
			Longitude: parseFloat(field("LON")),
			Elevation: parseFloat(field("ELEV(M)")),
			Begin:     field("BEGIN"),
			End:       field("END"),
		})
	}
}

// Load reads the station list at path.
func Load(path string) ([]domain.StationMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open station list: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write renders stations in isd-history.csv layout. Missing numbers are empty cells.
func Write(w io.Writer, stations []domain.StationMeta) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, s := range stations {
		rec := []string{
			s.USAF, s.WBAN, s.Name, s.Country, s.State, s.ICAO,
			formatFloat(s.Latitude, 3), formatFloat(s.Longitude, 3), formatFloat(s.Elevation, 1),
			s.Begin, s.End,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes stations to path atomically.
func Save(path string, stations []domain.StationMeta) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".isd-history.*.part")
	if err != nil {
		return fmt.Errorf("save station list: %w", err)
	}
	err = Write(tmp, stations)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save station list: %w", err)
	}
	return nil
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func formatFloat(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
