// Package influx writes station-days to InfluxDB as one point per station and day.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influx "github.com/influxdata/influxdb/client/v2"

	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
)

type pointWriter interface {
	Ping(timeout time.Duration) (time.Duration, string, error)
	Write(bp influx.BatchPoints) error
	Close() error
}

// Writer implements pipeline.Loader. Each batch is written as it arrives; InfluxDB
// upserts on (measurement, tags, time) so re-running a file is harmless.
type Writer struct {
	client      pointWriter
	database    string
	measurement string
	logger      *slog.Logger

	mu      sync.Mutex
	written map[string]int // points written per source file key
}

// NewWriter creates an InfluxDB HTTP client from the configuration.
func NewWriter(cfg *config.Config, logger *slog.Logger) (*Writer, error) {
	c, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     cfg.InfluxAddr,
		Username: cfg.InfluxUser,
		Password: cfg.InfluxPassword,
		Timeout:  cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create influx client: %w", err)
	}
	return &Writer{client: c, database: cfg.InfluxDatabase, measurement: cfg.InfluxMeasurement, logger: logger}, nil
}

// Name implements pipeline.Loader.
func (w *Writer) Name() string { return "influx" }

// Ping checks that the server is reachable.
func (w *Writer) Ping(timeout time.Duration) error {
	if _, _, err := w.client.Ping(timeout); err != nil {
		return fmt.Errorf("ping influx: %w", err)
	}
	return nil
}

// LoadBatch writes one point per station-day.
func (w *Writer) LoadBatch(_ context.Context, src domain.SourceFile, days []domain.StationDay) error {
	if len(days) == 0 {
		return nil
	}
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  w.database,
		Precision: "s",
	})
	if err != nil {
		return err
	}
	for _, d := range days {
		p, err := newPoint(w.measurement, d)
		if err != nil {
			return err
		}
		bp.AddPoint(p)
	}
	if err := w.client.Write(bp); err != nil {
		return fmt.Errorf("write influx points: %w", err)
	}
	w.mu.Lock()
	if w.written == nil {
		w.written = map[string]int{}
	}
	w.written[src.Key()] += len(days)
	w.mu.Unlock()
	return nil
}

// Commit implements pipeline.Loader.
func (w *Writer) Commit(_ context.Context, src domain.SourceFile) error {
	w.settle(src)
	return nil
}

// Abort implements pipeline.Loader. Points already written stay in the database.
func (w *Writer) Abort(_ context.Context, src domain.SourceFile) error {
	if n := w.settle(src); n > 0 {
		w.logger.Warn("file aborted after partial influx write", "file", src.Path, "points", n)
	}
	return nil
}

func (w *Writer) settle(src domain.SourceFile) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.written[src.Key()]
	delete(w.written, src.Key())
	return n
}

func (w *Writer) Close() error {
	return w.client.Close()
}

func newPoint(measurement string, d domain.StationDay) (*influx.Point, error) {
	tags := map[string]string{
		"station": d.StationID(),
		"usaf":    d.USAF,
		"wban":    d.WBAN,
	}
	if d.Station != nil && d.Station.Country != "" {
		tags["country"] = d.Station.Country
	}

	fields := map[string]interface{}{}
	addMean := func(name string, m domain.Mean) {
		if m.Value != nil {
			fields[name] = *m.Value
			fields[name+"_count"] = m.Count
		}
	}
	addValue := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	addMean("mean_temp", d.MeanTemp)
	addMean("mean_dewpoint", d.MeanDewpoint)
	addMean("mean_sea_level_pressure", d.MeanSeaLevelPressure)
	addMean("mean_station_pressure", d.MeanStationPressure)
	addMean("mean_visibility", d.MeanVisibility)
	addMean("mean_wind_speed", d.MeanWindSpeed)
	addValue("max_wind_speed", d.MaxWindSpeed)
	addValue("max_gust", d.MaxGust)
	addValue("max_temp", d.MaxTemp)
	addValue("min_temp", d.MinTemp)
	addValue("precipitation", d.Precipitation)
	addValue("snow_depth", d.SnowDepth)
	if d.PrecipFlag != "" {
		fields["precip_flag"] = d.PrecipFlag
	}
	fields["fog"] = d.Fog
	fields["rain_or_drizzle"] = d.RainOrDrizzle
	fields["snow_or_ice"] = d.SnowOrIce
	fields["hail"] = d.Hail
	fields["thunder"] = d.Thunder
	fields["tornado"] = d.Tornado

	return influx.NewPoint(measurement, tags, fields, d.Date)
}
