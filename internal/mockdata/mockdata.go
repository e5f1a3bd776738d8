// Package mockdata generates deterministic synthetic GSOD station files for tests and demos.
package mockdata

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// Station is a synthetic station with a base climate.
type Station struct {
	USAF     string
	WBAN     string
	BaseTemp float64 // annual mean in °F
	Swing    float64 // half the summer/winter difference in °F

	Name      string
	Country   string
	Latitude  float64
	Longitude float64
	Elevation float64
}

// DefaultStations are used when no stations are given.
var DefaultStations = []Station{
	{USAF: "010010", WBAN: "99999", BaseTemp: 30, Swing: 12, Name: "JAN MAYEN(NOR-NAVY)", Country: "NO", Latitude: 70.933, Longitude: -8.667, Elevation: 9},
	{USAF: "722950", WBAN: "23174", BaseTemp: 64, Swing: 6, Name: "LOS ANGELES INTERNATIONAL AIRPORT", Country: "US", Latitude: 33.938, Longitude: -118.389, Elevation: 29.6},
	{USAF: "725300", WBAN: "94846", BaseTemp: 50, Swing: 25, Name: "CHICAGO O'HARE INTERNATIONAL AIRPORT", Country: "US", Latitude: 41.995, Longitude: -87.934, Elevation: 201.8},
}

// Meta returns the isd-history entry for the station.
func (st Station) Meta() domain.StationMeta {
	return domain.StationMeta{
		USAF:      st.USAF,
		WBAN:      st.WBAN,
		Name:      st.Name,
		Country:   st.Country,
		Latitude:  ptr(st.Latitude),
		Longitude: ptr(st.Longitude),
		Elevation: ptr(st.Elevation),
	}
}

// Year returns one station-day per calendar day of year. The same seed always yields the
// same records. Values are rounded to the precision GSOD files carry.
func Year(st Station, year int, seed uint64) []domain.StationDay {
	rng := rand.New(rand.NewPCG(seed, uint64(year)))
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	var days []domain.StationDay
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		season := math.Cos(2 * math.Pi * float64(d.YearDay()-200) / 365)
		mean := st.BaseTemp + st.Swing*season + rng.NormFloat64()*4
		day := domain.StationDay{
			USAF: st.USAF,
			WBAN: st.WBAN,
			Date: d,

			MeanTemp:             measured(round1(mean), rng),
			MeanDewpoint:         measured(round1(mean-5-rng.Float64()*10), rng),
			MeanSeaLevelPressure: measured(round1(1013+rng.NormFloat64()*8), rng),
			MeanVisibility:       measured(round1(5+rng.Float64()*5), rng),
			MeanWindSpeed:        measured(round1(rng.Float64()*15), rng),

			MaxWindSpeed:      ptr(round1(15 + rng.Float64()*20)),
			MaxTemp:           ptr(round1(mean + 5 + rng.Float64()*5)),
			MaxTempFromHourly: rng.IntN(4) == 0,
			MinTemp:           ptr(round1(mean - 5 - rng.Float64()*5)),
			MinTempFromHourly: rng.IntN(4) == 0,
		}
		if rng.IntN(3) == 0 {
			day.MaxGust = ptr(round1(*day.MaxWindSpeed + rng.Float64()*10))
		}
		if rng.IntN(5) > 0 {
			day.Precipitation = ptr(math.Round(rng.ExpFloat64()*10) / 100)
			day.PrecipFlag = string(rune('A' + rng.IntN(9)))
			day.RainOrDrizzle = *day.Precipitation > 0
		}
		if mean < 32 && rng.IntN(2) == 0 {
			day.SnowDepth = ptr(round1(rng.Float64() * 20))
			day.SnowOrIce = true
		}
		day.Fog = rng.IntN(10) == 0
		day.Thunder = mean > 60 && rng.IntN(8) == 0
		days = append(days, day)
	}
	return days
}

// WriteOp writes days as a GSOD .op file, header included. When corruptEvery is positive,
// every corruptEvery-th data line is truncated so decoders have malformed input to skip.
func WriteOp(w io.Writer, days []domain.StationDay, corruptEvery int) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, domain.Header); err != nil {
		return err
	}
	for i, d := range days {
		line := domain.EncodeLine(d)
		if corruptEvery > 0 && (i+1)%corruptEvery == 0 {
			line = line[:len(line)/2]
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func measured(v float64, rng *rand.Rand) domain.Mean {
	return domain.Mean{Value: ptr(v), Count: 4 + rng.IntN(21)}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func ptr(v float64) *float64 { return &v }
