package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Extensions of GSOD station files.
const (
	ExtOp   = ".op"
	ExtOpGz = ".op.gz"
)

// SourceFile is a local .op or .op.gz file for one station-year.
type SourceFile struct {
	Path string
	USAF string
	WBAN string
	Year int
}

// StationID returns the combined "USAF-WBAN" identifier.
func (s SourceFile) StationID() string {
	return StationID(s.USAF, s.WBAN)
}

// Key identifies the station-year as "USAF-WBAN-YYYY".
func (s SourceFile) Key() string {
	return fmt.Sprintf("%s-%d", s.StationID(), s.Year)
}

// IsSourceName reports whether name looks like a GSOD station file.
func IsSourceName(name string) bool {
	return strings.HasSuffix(name, ExtOp) || strings.HasSuffix(name, ExtOpGz)
}

// ParseSourcePath reads station and year from a path like ".../010010-99999-2010.op.gz".
func ParseSourcePath(path string) (SourceFile, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ExtOp)
	if stem == base || !IsSourceName(base) {
		return SourceFile{}, fmt.Errorf("parse source name %q: not a .op file", base)
	}
	parts := strings.Split(stem, "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return SourceFile{}, fmt.Errorf("parse source name %q: want USAF-WBAN-YEAR", base)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil || len(parts[2]) != 4 {
		return SourceFile{}, fmt.Errorf("parse source name %q: invalid year %q", base, parts[2])
	}
	return SourceFile{Path: path, USAF: parts[0], WBAN: parts[1], Year: year}, nil
}

// SourceName returns the remote file name for a station-year.
func SourceName(usaf, wban string, year int) string {
	return fmt.Sprintf("%s-%s-%d%s", usaf, wban, year, ExtOpGz)
}

// Listing is one entry of a NOAA directory index.
type Listing struct {
	Name     string
	Modified time.Time
	Size     string
}
