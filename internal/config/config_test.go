package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://www1.ncdc.noaa.gov/pub/data/gsod/", cfg.BaseURL)
	assert.Equal(t, "https://www1.ncdc.noaa.gov/pub/data/noaa/isd-history.csv", cfg.StationsURL)
	assert.Equal(t, "data/raw", cfg.DataDir)
	assert.Equal(t, "data/out", cfg.OutDir)
	assert.Equal(t, "data/state", cfg.StateDir)
	assert.Equal(t, ModeBulk, cfg.DownloadMode)
	assert.Equal(t, FormatCSV, cfg.OutputFormat)
	assert.Equal(t, 4, cfg.FetchWorkers)
	assert.Equal(t, 4, cfg.UnpackWorkers)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, time.Second, cfg.RetryInitialInterval)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxInterval)
	assert.Equal(t, 5, cfg.BreakerMaxFailures)
	assert.Equal(t, 30*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.UpdateInterval)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "gsod-station-days", cfg.KafkaTopic)
	assert.False(t, cfg.InfluxEnabled())
	assert.Equal(t, "gsod", cfg.InfluxDatabase)
	assert.Equal(t, "station_day", cfg.InfluxMeasurement)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("GSOD_BASE_URL", "http://mirror.local/gsod")
	t.Setenv("DATA_DIR", "/srv/gsod/raw")
	t.Setenv("DOWNLOAD_MODE", "station")
	t.Setenv("OUTPUT_FORMAT", "arrow")
	t.Setenv("DOWNLOAD_WORKERS", "8")
	t.Setenv("RETRY_MAX", "5")
	t.Setenv("HTTP_TIMEOUT", "2m")
	t.Setenv("UPDATE_INTERVAL", "6h")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-topic")
	t.Setenv("INFLUX_ADDR", "http://influx:8086")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://mirror.local/gsod/", cfg.BaseURL)
	assert.Equal(t, "/srv/gsod/raw", cfg.DataDir)
	assert.Equal(t, ModeStation, cfg.DownloadMode)
	assert.Equal(t, FormatArrow, cfg.OutputFormat)
	assert.Equal(t, 8, cfg.FetchWorkers)
	assert.Equal(t, 5, cfg.RetryMax)
	assert.Equal(t, 2*time.Minute, cfg.HTTPTimeout)
	assert.Equal(t, 6*time.Hour, cfg.UpdateInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-topic", cfg.KafkaTopic)
	assert.True(t, cfg.InfluxEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration"},
		{"SHUTDOWN_TIMEOUT", "-1s"},
		{"BATCH_SIZE", "0"},
		{"BATCH_SIZE", "9999"},
		{"HTTP_TIMEOUT", "soon"},
		{"HTTP_TIMEOUT", "0s"},
		{"DOWNLOAD_WORKERS", "many"},
		{"DOWNLOAD_WORKERS", "0"},
		{"UNPACK_WORKERS", "1000"},
		{"DOWNLOAD_MODE", "ftp"},
		{"OUTPUT_FORMAT", "xlsx"},
		{"LOG_LEVEL", "verbose"},
		{"KAFKA_ENABLED", "maybe"},
		{"GSOD_BASE_URL", "not a url"},
		{"RETRY_MAX_INTERVAL", "10ms"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_KafkaEnabledWithoutTopic(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.KafkaEnabled = true
	cfg.KafkaTopic = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_TOPIC")
}

func TestParseYears(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"", nil},
		{"2001", []int{2001}},
		{"1929-1931", []int{1929, 1930, 1931}},
		{"2001, 1929-1930,2001", []int{1929, 1930, 2001}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseYears(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"19", "abcd", "1931-1929", "1900", "2001-"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParseYears(bad)
			assert.Error(t, err)
		})
	}
}
