// Package statefile persists incremental update state as CSV files in a local directory:
// the per station-year inventory and the log of processed years.
package statefile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

const (
	inventoryFile = "isd-inventory.csv"
	yearLogFile   = "annual_update_log.csv"
	stationsFile  = "isd-history.csv"
	noaaStations  = "isd-history-noaa.csv"
)

var months = []string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// Store reads and writes state files under one directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// StationsPath is where the reconciled station list is kept.
func (s *Store) StationsPath() string {
	return filepath.Join(s.dir, stationsFile)
}

// NOAAStationsPath is where the unmodified station list downloaded from NOAA is kept.
func (s *Store) NOAAStationsPath() string {
	return filepath.Join(s.dir, noaaStations)
}

// LoadInventory returns the saved inventory keyed by "USAF-WBAN-YYYY". A missing file
// yields an empty inventory.
func (s *Store) LoadInventory() (map[string]domain.Inventory, error) {
	out := map[string]domain.Inventory{}
	err := s.read(inventoryFile, func(rec []string) error {
		if len(rec) != 5+len(months) {
			return fmt.Errorf("want %d fields, got %d", 5+len(months), len(rec))
		}
		year, err := strconv.Atoi(rec[3])
		if err != nil {
			return fmt.Errorf("year %q: %w", rec[3], err)
		}
		inv := domain.NewInventory(rec[1], rec[2], year)
		if rec[4] != "" {
			if inv.LastUpdated, err = time.Parse(time.RFC3339, rec[4]); err != nil {
				return fmt.Errorf("last updated %q: %w", rec[4], err)
			}
		}
		for i := range months {
			if inv.Months[i], err = strconv.Atoi(rec[5+i]); err != nil {
				return fmt.Errorf("%s count %q: %w", months[i], rec[5+i], err)
			}
		}
		out[inv.Key()] = inv
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	return out, nil
}

// SaveInventory replaces the inventory file. Rows are sorted by key.
func (s *Store) SaveInventory(inv map[string]domain.Inventory) error {
	keys := make([]string, 0, len(inv))
	for k := range inv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := append([]string{"ID", "USAF", "WBAN", "YEAR", "Last_Updated"}, months...)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		v := inv[k]
		row := []string{v.StationID(), v.USAF, v.WBAN, strconv.Itoa(v.Year), ""}
		if !v.LastUpdated.IsZero() {
			row[4] = v.LastUpdated.UTC().Format(time.RFC3339)
		}
		for _, n := range v.Months {
			row = append(row, strconv.Itoa(n))
		}
		rows = append(rows, row)
	}
	if err := s.write(inventoryFile, header, rows); err != nil {
		return fmt.Errorf("save inventory: %w", err)
	}
	return nil
}

// LoadYearLog returns, per year, the server modification time that was last fully
// processed. A missing file yields an empty log.
func (s *Store) LoadYearLog() (map[int]time.Time, error) {
	out := map[int]time.Time{}
	err := s.read(yearLogFile, func(rec []string) error {
		if len(rec) != 2 {
			return fmt.Errorf("want 2 fields, got %d", len(rec))
		}
		year, err := strconv.Atoi(rec[0])
		if err != nil {
			return fmt.Errorf("year %q: %w", rec[0], err)
		}
		t, err := time.Parse(time.RFC3339, rec[1])
		if err != nil {
			return fmt.Errorf("modified %q: %w", rec[1], err)
		}
		out[year] = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load year log: %w", err)
	}
	return out, nil
}

// SaveYearLog replaces the year log file.
func (s *Store) SaveYearLog(log map[int]time.Time) error {
	years := make([]int, 0, len(log))
	for y := range log {
		years = append(years, y)
	}
	sort.Ints(years)

	rows := make([][]string, 0, len(years))
	for _, y := range years {
		rows = append(rows, []string{strconv.Itoa(y), log[y].UTC().Format(time.RFC3339)})
	}
	if err := s.write(yearLogFile, []string{"Year", "Modified"}, rows); err != nil {
		return fmt.Errorf("save year log: %w", err)
	}
	return nil
}

func (s *Store) read(name string, row func([]string) error) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := row(rec); err != nil {
			return fmt.Errorf("%s line %d: %w", name, line, err)
		}
	}
}

func (s *Store) write(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.part")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(tmp)
	_ = cw.Write(header)
	_ = cw.WriteAll(rows)
	err = cw.Error()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(s.dir, name))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
	}
	return err
}
