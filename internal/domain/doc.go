// Package domain models NOAA Global Surface Summary of the Day (GSOD) data.
//
// # Data Source
//
// GSOD files are published per station and year under
// https://www1.ncdc.noaa.gov/pub/data/gsod/<year>/ as gzip-compressed ".op" files named
// "<USAF>-<WBAN>-<year>.op.gz", and as one tarball per year ("gsod_<year>.tar") bundling
// all of them. Station metadata lives in the separate isd-history.csv file.
//
// # Record Format
//
// Each ".op" file starts with a header line ("STN--- WBAN   YEARMODA ...") followed by one
// fixed-width line per station-day, 138 characters long:
//
//	010010 99999  20100101    22.1 24    13.2 24  1003.8 24  9999.9  0   11.3  6   20.3 24   27.0   34.0    26.4*   17.6*  0.00I 999.9  001000
//
// Mean temperature, dew point, sea level pressure, station pressure, visibility and wind
// speed are each followed by the number of observations used to compute the mean.
//
// Flags:
//
//	MAX/MIN: a trailing "*" means the extreme was derived from hourly data rather than
//	         reported explicitly.
//	PRCP:    one letter A–I describing how the total was assembled (e.g. "I" means the
//	         station did not report precipitation and the value is an incomplete estimate).
//	FRSHTT:  six 0/1 digits for fog, rain or drizzle, snow or ice pellets, hail, thunder,
//	         and tornado or funnel cloud.
//
// Missing values:
//
//	9999.9  temperature, dew point, pressures, max/min temperature
//	999.9   visibility, wind speeds, gust, snow depth
//	99.99   precipitation
//
// Missing values decode to nil and encode back to the same sentinel, so DecodeLine and
// EncodeLine are exact inverses for every valid line.
//
// # Station Metadata
//
// isd-history.csv carries names, country codes, coordinates and elevation. Obviously bad
// values are cleared by [CleanStationMeta]: elevations below the Dead Sea shore, latitudes
// and longitudes outside the globe, and the placeholder names NOAA uses for unknown
// stations (anything containing "BOGUS" or "UNKNOWN", among others).
package domain
