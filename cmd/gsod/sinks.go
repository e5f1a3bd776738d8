package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/gsod-etl/internal/adapter/arrowfile"
	"github.com/couchcryptid/gsod-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/gsod-etl/internal/adapter/influx"
	"github.com/couchcryptid/gsod-etl/internal/adapter/isd"
	kafkaadapter "github.com/couchcryptid/gsod-etl/internal/adapter/kafka"
	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/pipeline"
	"github.com/couchcryptid/gsod-etl/internal/update"
)

// fileSink is a loader that owns files under OUT_DIR.
type fileSink interface {
	pipeline.Loader
	update.Pruner
}

type sinks struct {
	file    fileSink
	loaders []pipeline.Loader
	closers []func() error
}

// buildSinks creates the file sink selected by OUTPUT_FORMAT plus the optional Kafka and
// InfluxDB sinks.
func buildSinks(cfg *config.Config, logger *slog.Logger) (*sinks, error) {
	s := &sinks{}
	switch cfg.OutputFormat {
	case config.FormatArrow:
		s.file = arrowfile.NewWriter(cfg.OutDir)
	default:
		s.file = csvfile.NewWriter(cfg.OutDir)
	}
	s.loaders = append(s.loaders, s.file)

	if cfg.KafkaEnabled {
		w := kafkaadapter.NewWriter(cfg, logger)
		s.loaders = append(s.loaders, w)
		s.closers = append(s.closers, w.Close)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.InfluxEnabled() {
		w, err := influx.NewWriter(cfg, logger)
		if err != nil {
			s.close(logger)
			return nil, err
		}
		if err := w.Ping(5 * time.Second); err != nil {
			_ = w.Close()
			s.close(logger)
			return nil, err
		}
		s.loaders = append(s.loaders, w)
		s.closers = append(s.closers, w.Close)
		logger.Info("influx sink enabled", "addr", cfg.InfluxAddr, "database", cfg.InfluxDatabase)
	}
	return s, nil
}

func (s *sinks) close(logger *slog.Logger) {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Error("sink close error", "error", err)
		}
	}
}

// loadStations reads the station list used for enrichment, downloading it first when asked.
// A missing list is not an error; rows are then written without station metadata.
func loadStations(ctx context.Context, a *app, path string, download bool) (*domain.StationIndex, error) {
	if download {
		if _, err := a.client.DownloadStationHistory(ctx, path); err != nil {
			return nil, fmt.Errorf("download station list: %w", err)
		}
	}
	stations, err := isd.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.Info("no station list, rows will not be enriched", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	idx := domain.NewStationIndex(stations)
	a.logger.Info("station list loaded", "path", path, "stations", idx.Len())
	return idx, nil
}
