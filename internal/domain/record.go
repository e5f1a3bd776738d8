package domain

import (
	"fmt"
	"time"
)

// Mean is a daily mean together with the number of observations behind it.
type Mean struct {
	Value *float64 `json:"value"`
	Count int      `json:"count"`
}

// StationDay is one station's summary for one calendar day.
type StationDay struct {
	USAF string    `json:"usaf"`
	WBAN string    `json:"wban"`
	Date time.Time `json:"date"`

	MeanTemp             Mean `json:"mean_temp"`
	MeanDewpoint         Mean `json:"mean_dewpoint"`
	MeanSeaLevelPressure Mean `json:"mean_sea_level_pressure"`
	MeanStationPressure  Mean `json:"mean_station_pressure"`
	MeanVisibility       Mean `json:"mean_visibility"`
	MeanWindSpeed        Mean `json:"mean_wind_speed"`

	MaxWindSpeed *float64 `json:"max_wind_speed"`
	MaxGust      *float64 `json:"max_gust"`

	MaxTemp           *float64 `json:"max_temp"`
	MaxTempFromHourly bool     `json:"max_temp_from_hourly"`
	MinTemp           *float64 `json:"min_temp"`
	MinTempFromHourly bool     `json:"min_temp_from_hourly"`

	Precipitation *float64 `json:"precipitation"`
	PrecipFlag    string   `json:"precip_flag,omitempty"`
	SnowDepth     *float64 `json:"snow_depth"`

	Fog           bool `json:"fog"`
	RainOrDrizzle bool `json:"rain_or_drizzle"`
	SnowOrIce     bool `json:"snow_or_ice"`
	Hail          bool `json:"hail"`
	Thunder       bool `json:"thunder"`
	Tornado       bool `json:"tornado"`

	// Station is filled in by enrichment when isd-history metadata is available.
	Station *StationMeta `json:"station,omitempty"`
}

// StationID returns the combined "USAF-WBAN" identifier.
func (d StationDay) StationID() string {
	return StationID(d.USAF, d.WBAN)
}

// Key identifies the record uniquely across the corpus.
func (d StationDay) Key() string {
	return fmt.Sprintf("%s-%s", d.StationID(), d.Date.Format("20060102"))
}

// StationID joins the two NOAA identifiers the way GSOD file names do.
func StationID(usaf, wban string) string {
	return usaf + "-" + wban
}

func float64Ptr(v float64) *float64 { return &v }
