package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LineLength is the width of a GSOD data line.
const LineLength = 138

// Header is the first line NOAA writes into every .op file.
const Header = "STN--- WBAN   YEARMODA    TEMP       DEWP      SLP        STP       VISIB      WDSP     MXSPD   GUST    MAX     MIN   PRCP   SNDP   FRSHTT"

const dateLayout = "20060102"

// ErrMalformedLine is wrapped by every decode failure.
var ErrMalformedLine = errors.New("malformed GSOD line")

// ParseError describes which part of a line could not be decoded.
type ParseError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrMalformedLine }

type span struct {
	name       string
	start, end int
}

func (s span) width() int { return s.end - s.start }

var (
	colUSAF      = span{"STN", 0, 6}
	colWBAN      = span{"WBAN", 7, 12}
	colDate      = span{"YEARMODA", 14, 22}
	colTemp      = span{"TEMP", 24, 30}
	colTempN     = span{"TEMP count", 31, 33}
	colDewp      = span{"DEWP", 35, 41}
	colDewpN     = span{"DEWP count", 42, 44}
	colSLP       = span{"SLP", 46, 52}
	colSLPN      = span{"SLP count", 53, 55}
	colSTP       = span{"STP", 57, 63}
	colSTPN      = span{"STP count", 64, 66}
	colVisib     = span{"VISIB", 68, 73}
	colVisibN    = span{"VISIB count", 74, 76}
	colWdsp      = span{"WDSP", 78, 83}
	colWdspN     = span{"WDSP count", 84, 86}
	colMxspd     = span{"MXSPD", 88, 93}
	colGust      = span{"GUST", 95, 100}
	colMax       = span{"MAX", 102, 108}
	colMaxFlag   = span{"MAX flag", 108, 109}
	colMin       = span{"MIN", 110, 116}
	colMinFlag   = span{"MIN flag", 116, 117}
	colPrcp      = span{"PRCP", 118, 123}
	colPrcpFlag  = span{"PRCP flag", 123, 124}
	colSndp      = span{"SNDP", 125, 130}
	colFRSHTT    = span{"FRSHTT", 132, 138}
	recordLayout = []span{
		colUSAF, colWBAN, colDate,
		colTemp, colTempN, colDewp, colDewpN, colSLP, colSLPN, colSTP, colSTPN,
		colVisib, colVisibN, colWdsp, colWdspN, colMxspd, colGust,
		colMax, colMaxFlag, colMin, colMinFlag, colPrcp, colPrcpFlag, colSndp, colFRSHTT,
	}
)

// sentinel describes how a missing value is written for a measurement column.
type sentinel struct {
	value     float64
	precision int
}

var (
	missingTemp  = sentinel{9999.9, 1}
	missingSpeed = sentinel{999.9, 1}
	missingPrcp  = sentinel{99.99, 2}
)

const precipFlags = "ABCDEFGHI"

// IsHeader reports whether line is the column header NOAA puts at the top of a file.
func IsHeader(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "STN---")
}

// DecodeLine parses one fixed-width GSOD data line. Errors wrap ErrMalformedLine.
func DecodeLine(line string) (StationDay, error) {
	line = strings.TrimRight(line, " \t\r\n")
	if len(line) != LineLength {
		return StationDay{}, &ParseError{
			Field:  "line",
			Value:  truncate(line, 40),
			Reason: fmt.Sprintf("length %d, want %d", len(line), LineLength),
		}
	}

	d := decoder{line: line}
	d.checkGaps()

	day := StationDay{
		USAF: d.id(colUSAF),
		WBAN: d.id(colWBAN),
		Date: d.date(colDate),

		MeanTemp:             d.mean(colTemp, colTempN, missingTemp),
		MeanDewpoint:         d.mean(colDewp, colDewpN, missingTemp),
		MeanSeaLevelPressure: d.mean(colSLP, colSLPN, missingTemp),
		MeanStationPressure:  d.mean(colSTP, colSTPN, missingTemp),
		MeanVisibility:       d.mean(colVisib, colVisibN, missingSpeed),
		MeanWindSpeed:        d.mean(colWdsp, colWdspN, missingSpeed),

		MaxWindSpeed: d.measure(colMxspd, missingSpeed),
		MaxGust:      d.measure(colGust, missingSpeed),

		MaxTemp:           d.measure(colMax, missingTemp),
		MaxTempFromHourly: d.hourlyFlag(colMaxFlag),
		MinTemp:           d.measure(colMin, missingTemp),
		MinTempFromHourly: d.hourlyFlag(colMinFlag),

		Precipitation: d.measure(colPrcp, missingPrcp),
		PrecipFlag:    d.precipFlag(colPrcpFlag),
		SnowDepth:     d.measure(colSndp, missingSpeed),
	}
	ind := d.indicators(colFRSHTT)
	day.Fog, day.RainOrDrizzle, day.SnowOrIce = ind[0], ind[1], ind[2]
	day.Hail, day.Thunder, day.Tornado = ind[3], ind[4], ind[5]

	if d.err != nil {
		return StationDay{}, d.err
	}
	return day, nil
}

// EncodeLine renders a StationDay in the fixed-width GSOD layout. Values are expected to fit
// their columns, which always holds for records produced by DecodeLine.
func EncodeLine(day StationDay) string {
	buf := []byte(strings.Repeat(" ", LineLength))
	put := func(s span, v string) {
		if len(v) > s.width() {
			v = v[len(v)-s.width():]
		}
		copy(buf[s.end-len(v):s.end], v)
	}

	put(colUSAF, day.USAF)
	put(colWBAN, day.WBAN)
	put(colDate, day.Date.Format(dateLayout))

	putMean := func(val, count span, m Mean, miss sentinel) {
		put(val, formatMeasure(m.Value, miss, val.width()))
		put(count, strconv.Itoa(m.Count))
	}
	putMean(colTemp, colTempN, day.MeanTemp, missingTemp)
	putMean(colDewp, colDewpN, day.MeanDewpoint, missingTemp)
	putMean(colSLP, colSLPN, day.MeanSeaLevelPressure, missingTemp)
	putMean(colSTP, colSTPN, day.MeanStationPressure, missingTemp)
	putMean(colVisib, colVisibN, day.MeanVisibility, missingSpeed)
	putMean(colWdsp, colWdspN, day.MeanWindSpeed, missingSpeed)

	put(colMxspd, formatMeasure(day.MaxWindSpeed, missingSpeed, colMxspd.width()))
	put(colGust, formatMeasure(day.MaxGust, missingSpeed, colGust.width()))
	put(colMax, formatMeasure(day.MaxTemp, missingTemp, colMax.width()))
	if day.MaxTempFromHourly {
		put(colMaxFlag, "*")
	}
	put(colMin, formatMeasure(day.MinTemp, missingTemp, colMin.width()))
	if day.MinTempFromHourly {
		put(colMinFlag, "*")
	}
	put(colPrcp, formatMeasure(day.Precipitation, missingPrcp, colPrcp.width()))
	if day.PrecipFlag != "" {
		put(colPrcpFlag, day.PrecipFlag)
	}
	put(colSndp, formatMeasure(day.SnowDepth, missingSpeed, colSndp.width()))

	var frshtt [6]byte
	for i, set := range []bool{day.Fog, day.RainOrDrizzle, day.SnowOrIce, day.Hail, day.Thunder, day.Tornado} {
		frshtt[i] = '0'
		if set {
			frshtt[i] = '1'
		}
	}
	put(colFRSHTT, string(frshtt[:]))

	return string(buf)
}

func formatMeasure(v *float64, miss sentinel, width int) string {
	value := miss.value
	if v != nil {
		value = *v
	}
	return fmt.Sprintf("%*.*f", width, miss.precision, value)
}

// decoder keeps the first error so DecodeLine can read all columns without checking each.
type decoder struct {
	line string
	err  error
}

func (d *decoder) fail(s span, raw, reason string) {
	if d.err == nil {
		d.err = &ParseError{Field: s.name, Value: raw, Reason: reason}
	}
}

func (d *decoder) raw(s span) string {
	return d.line[s.start:s.end]
}

func (d *decoder) checkGaps() {
	pos := 0
	for _, s := range recordLayout {
		if gap := d.line[pos:s.start]; strings.TrimSpace(gap) != "" {
			d.fail(span{"separator before " + s.name, pos, s.start}, gap, "expected blanks")
			return
		}
		pos = s.end
	}
}

func (d *decoder) id(s span) string {
	v := d.raw(s)
	if strings.ContainsAny(v, " \t") {
		d.fail(s, v, "identifier contains blanks")
	}
	return v
}

func (d *decoder) date(s span) time.Time {
	v := d.raw(s)
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		d.fail(s, v, "invalid date")
		return time.Time{}
	}
	return t
}

func (d *decoder) measure(s span, miss sentinel) *float64 {
	v := d.raw(s)
	if !isFixedPoint(v, miss.precision) {
		d.fail(s, v, fmt.Sprintf("want right-aligned number with %d decimals", miss.precision))
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimLeft(v, " "), 64)
	if err != nil {
		d.fail(s, v, "invalid number")
		return nil
	}
	if f == miss.value {
		return nil
	}
	return float64Ptr(f)
}

func (d *decoder) count(s span) int {
	v := d.raw(s)
	digits := strings.TrimLeft(v, " ")
	if !isCanonicalInt(digits) {
		d.fail(s, v, "invalid observation count")
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		d.fail(s, v, "invalid observation count")
		return 0
	}
	return n
}

func (d *decoder) mean(val, count span, miss sentinel) Mean {
	return Mean{Value: d.measure(val, miss), Count: d.count(count)}
}

func (d *decoder) hourlyFlag(s span) bool {
	switch v := d.raw(s); v {
	case "*":
		return true
	case " ":
		return false
	default:
		d.fail(s, v, `want "*" or blank`)
		return false
	}
}

func (d *decoder) precipFlag(s span) string {
	v := d.raw(s)
	if v == " " {
		return ""
	}
	if !strings.Contains(precipFlags, v) {
		d.fail(s, v, "unknown precipitation flag")
		return ""
	}
	return v
}

func (d *decoder) indicators(s span) [6]bool {
	var out [6]bool
	v := d.raw(s)
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '1':
			out[i] = true
		case '0':
		default:
			d.fail(s, v, "indicators must be 0 or 1")
			return out
		}
	}
	return out
}

// isFixedPoint reports whether v is written the way EncodeLine writes it: leading blanks, an
// optional minus sign, an integer part without leading zeros, a point and exactly precision
// decimals.
func isFixedPoint(v string, precision int) bool {
	num := strings.TrimLeft(v, " ")
	num = strings.TrimPrefix(num, "-")
	intPart, frac, ok := strings.Cut(num, ".")
	if !ok || len(frac) != precision || !isCanonicalInt(intPart) {
		return false
	}
	return isDigits(frac)
}

// isCanonicalInt reports whether s is a non-empty run of digits without a leading zero.
func isCanonicalInt(s string) bool {
	if !isDigits(s) {
		return false
	}
	return len(s) == 1 || s[0] != '0'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
