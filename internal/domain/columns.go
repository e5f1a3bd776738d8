package domain

import (
	"strconv"
)

// ColumnKind is the logical type of a tabular column.
type ColumnKind int

const (
	KindString ColumnKind = iota
	KindFloat
	KindInt
	KindBool
)

// Column is one column of the tabular export. Value returns a string, *float64 (nil when
// missing), int or bool depending on Kind.
type Column struct {
	Name      string
	Kind      ColumnKind
	Precision int // decimals used when formatting KindFloat
	Value     func(StationDay) any
}

func stringCol(name string, fn func(StationDay) string) Column {
	return Column{Name: name, Kind: KindString, Value: func(d StationDay) any { return fn(d) }}
}

func floatCol(name string, precision int, fn func(StationDay) *float64) Column {
	return Column{Name: name, Kind: KindFloat, Precision: precision, Value: func(d StationDay) any { return fn(d) }}
}

func intCol(name string, fn func(StationDay) int) Column {
	return Column{Name: name, Kind: KindInt, Value: func(d StationDay) any { return fn(d) }}
}

func boolCol(name string, fn func(StationDay) bool) Column {
	return Column{Name: name, Kind: KindBool, Value: func(d StationDay) any { return fn(d) }}
}

func meta(d StationDay) StationMeta {
	if d.Station == nil {
		return StationMeta{}
	}
	return *d.Station
}

// Columns lists the export columns in output order. Names follow the established GSOD
// CSV export so existing consumers keep working.
var Columns = []Column{
	stringCol("ID_Code", StationDay.StationID),
	stringCol("USAF_ID_Code", func(d StationDay) string { return d.USAF }),
	stringCol("WBAN_ID_Code", func(d StationDay) string { return d.WBAN }),
	stringCol("Station_Name", func(d StationDay) string { return meta(d).Name }),
	floatCol("Elevation", 1, func(d StationDay) *float64 { return meta(d).Elevation }),
	stringCol("Country_Code", func(d StationDay) string { return meta(d).Country }),
	floatCol("Latitude", 3, func(d StationDay) *float64 { return meta(d).Latitude }),
	floatCol("Longitude", 3, func(d StationDay) *float64 { return meta(d).Longitude }),
	stringCol("Date", func(d StationDay) string { return d.Date.Format("2006-01-02") }),
	stringCol("Year", func(d StationDay) string { return d.Date.Format("2006") }),
	stringCol("Month", func(d StationDay) string { return d.Date.Format("01") }),
	stringCol("Day", func(d StationDay) string { return d.Date.Format("02") }),
	floatCol("Mean_Temp", 1, func(d StationDay) *float64 { return d.MeanTemp.Value }),
	intCol("Mean_Temp_Count", func(d StationDay) int { return d.MeanTemp.Count }),
	floatCol("Mean_Dewpoint", 1, func(d StationDay) *float64 { return d.MeanDewpoint.Value }),
	intCol("Mean_Dewpoint_Count", func(d StationDay) int { return d.MeanDewpoint.Count }),
	floatCol("Mean_Sea_Level_Pressure", 1, func(d StationDay) *float64 { return d.MeanSeaLevelPressure.Value }),
	intCol("Mean_Sea_Level_Pressure_Count", func(d StationDay) int { return d.MeanSeaLevelPressure.Count }),
	floatCol("Mean_Station_Pressure", 1, func(d StationDay) *float64 { return d.MeanStationPressure.Value }),
	intCol("Mean_Station_Pressure_Count", func(d StationDay) int { return d.MeanStationPressure.Count }),
	floatCol("Mean_Visibility", 1, func(d StationDay) *float64 { return d.MeanVisibility.Value }),
	intCol("Mean_Visibility_Count", func(d StationDay) int { return d.MeanVisibility.Count }),
	floatCol("Mean_Windspeed", 1, func(d StationDay) *float64 { return d.MeanWindSpeed.Value }),
	intCol("Mean_Windspeed_Count", func(d StationDay) int { return d.MeanWindSpeed.Count }),
	floatCol("Max_Windspeed", 1, func(d StationDay) *float64 { return d.MaxWindSpeed }),
	floatCol("Max_Gust", 1, func(d StationDay) *float64 { return d.MaxGust }),
	floatCol("Max_Temp", 1, func(d StationDay) *float64 { return d.MaxTemp }),
	boolCol("Max_Temp_Quality_Flag", func(d StationDay) bool { return d.MaxTempFromHourly }),
	floatCol("Min_Temp", 1, func(d StationDay) *float64 { return d.MinTemp }),
	boolCol("Min_Temp_Quality_Flag", func(d StationDay) bool { return d.MinTempFromHourly }),
	floatCol("Precipitation", 2, func(d StationDay) *float64 { return d.Precipitation }),
	stringCol("Precip_Flag", func(d StationDay) string { return d.PrecipFlag }),
	floatCol("Snow_Depth", 1, func(d StationDay) *float64 { return d.SnowDepth }),
	boolCol("Fog", func(d StationDay) bool { return d.Fog }),
	boolCol("Rain_or_Drizzle", func(d StationDay) bool { return d.RainOrDrizzle }),
	boolCol("Snow_or_Ice", func(d StationDay) bool { return d.SnowOrIce }),
	boolCol("Hail", func(d StationDay) bool { return d.Hail }),
	boolCol("Thunder", func(d StationDay) bool { return d.Thunder }),
	boolCol("Tornado", func(d StationDay) bool { return d.Tornado }),
}

// ColumnNames returns the header row for tabular output.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// Row renders a StationDay as text cells. Missing values are empty strings.
func Row(d StationDay) []string {
	row := make([]string, len(Columns))
	for i, c := range Columns {
		row[i] = c.Format(d)
	}
	return row
}

// Format renders the column's value for d as text.
func (c Column) Format(d StationDay) string {
	switch v := c.Value(d).(type) {
	case string:
		return v
	case *float64:
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', c.Precision, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}
