package domain

import (
	"sort"
	"strings"
	"sync/atomic"
)

// StationMeta is one row of NOAA's isd-history station list.
type StationMeta struct {
	USAF      string   `json:"usaf"`
	WBAN      string   `json:"wban"`
	Name      string   `json:"name,omitempty"`
	Country   string   `json:"country,omitempty"`
	State     string   `json:"state,omitempty"`
	ICAO      string   `json:"icao,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Elevation *float64 `json:"elevation,omitempty"`
	Begin     string   `json:"begin,omitempty"`
	End       string   `json:"end,omitempty"`
}

// ID returns the combined "USAF-WBAN" identifier.
func (m StationMeta) ID() string {
	return StationID(m.USAF, m.WBAN)
}

// Lowest dry land on Earth (Dead Sea shore) in metres.
const minElevation = -418.0

var placeholderNames = map[string]bool{
	"NAME/LOCATION UNKN":   true,
	"NAME UNKNOWN (ONC)":   true,
	"APPROXIMATE LOCATIO":  true,
	"APPROXIMATE LOCALE":   true,
	"APPROXIMATE LOCATION": true,
	"NAME AND LOC UNKN":    true,
	"NAME UNKNOWN":         true,
	"NAME0LOCATION UNKN":   true,
	`NAME\LOCATION UNKN`:   true,
}

// CleanStationMeta clears values that cannot be real: elevations below the Dead Sea shore,
// coordinates on or beyond the poles and antimeridian, and placeholder station names.
func CleanStationMeta(m StationMeta) StationMeta {
	m.Name = strings.TrimSpace(m.Name)
	if placeholderNames[m.Name] || strings.Contains(m.Name, "BOGUS") || strings.Contains(m.Name, "UNKNOWN") {
		m.Name = ""
	}
	if m.Elevation != nil && *m.Elevation < minElevation {
		m.Elevation = nil
	}
	if m.Latitude != nil && (*m.Latitude <= -90 || *m.Latitude >= 90) {
		m.Latitude = nil
	}
	if m.Longitude != nil && (*m.Longitude <= -180 || *m.Longitude >= 180) {
		m.Longitude = nil
	}
	return m
}

// StationLookup resolves station metadata by "USAF-WBAN" identifier.
type StationLookup interface {
	Lookup(id string) (StationMeta, bool)
}

// StationIndex is an in-memory StationLookup. It is not safe for concurrent mutation;
// build it once and share it read-only.
type StationIndex struct {
	byID map[string]StationMeta
}

// NewStationIndex cleans and indexes the given stations. Later duplicates win.
func NewStationIndex(stations []StationMeta) *StationIndex {
	idx := &StationIndex{byID: make(map[string]StationMeta, len(stations))}
	for _, s := range stations {
		idx.byID[s.ID()] = CleanStationMeta(s)
	}
	return idx
}

// Lookup implements StationLookup.
func (idx *StationIndex) Lookup(id string) (StationMeta, bool) {
	if idx == nil {
		return StationMeta{}, false
	}
	m, ok := idx.byID[id]
	return m, ok
}

// Len returns the number of indexed stations.
func (idx *StationIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byID)
}

// Stations returns the indexed stations sorted by ID.
func (idx *StationIndex) Stations() []StationMeta {
	out := make([]StationMeta, 0, idx.Len())
	if idx == nil {
		return out
	}
	for _, m := range idx.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Reconcile returns a new index holding exactly the stations in ids. Known stations keep their
// metadata; unknown ones get a bare entry with only USAF and WBAN set.
func (idx *StationIndex) Reconcile(ids []string) *StationIndex {
	out := &StationIndex{byID: make(map[string]StationMeta, len(ids))}
	for _, id := range ids {
		if m, ok := idx.Lookup(id); ok {
			out.byID[id] = m
			continue
		}
		usaf, wban, ok := strings.Cut(id, "-")
		if !ok {
			continue
		}
		out.byID[id] = StationMeta{USAF: usaf, WBAN: wban}
	}
	return out
}

// StationDirectory is a StationLookup whose index can be swapped while lookups are running,
// so a long-lived pipeline picks up a refreshed station list.
type StationDirectory struct {
	idx atomic.Pointer[StationIndex]
}

// NewStationDirectory returns a directory serving idx, which may be nil.
func NewStationDirectory(idx *StationIndex) *StationDirectory {
	d := &StationDirectory{}
	d.idx.Store(idx)
	return d
}

// Set replaces the served index.
func (d *StationDirectory) Set(idx *StationIndex) {
	d.idx.Store(idx)
}

// Lookup implements StationLookup.
func (d *StationDirectory) Lookup(id string) (StationMeta, bool) {
	return d.idx.Load().Lookup(id)
}

// Len returns the number of stations currently served.
func (d *StationDirectory) Len() int {
	return d.idx.Load().Len()
}

// Enrich attaches station metadata to day when lookup knows the station.
func Enrich(day StationDay, lookup StationLookup) StationDay {
	if lookup == nil {
		return day
	}
	if m, ok := lookup.Lookup(day.StationID()); ok {
		day.Station = &m
	}
	return day
}
