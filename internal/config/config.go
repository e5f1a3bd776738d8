package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Download modes.
const (
	ModeBulk    = "bulk"
	ModeStation = "station"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatArrow = "arrow"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	BaseURL       string `env:"GSOD_BASE_URL" validate:"required,url"`
	StationsURL   string `env:"ISD_HISTORY_URL" validate:"required,url"`
	DataDir       string `env:"DATA_DIR" validate:"required"`
	OutDir        string `env:"OUT_DIR" validate:"required"`
	StateDir      string `env:"STATE_DIR" validate:"required"`
	DownloadMode  string `env:"DOWNLOAD_MODE" validate:"oneof=bulk station"`
	OutputFormat  string `env:"OUTPUT_FORMAT" validate:"oneof=csv arrow"`
	FetchWorkers  int    `env:"DOWNLOAD_WORKERS" validate:"min=1,max=64"`
	UnpackWorkers int    `env:"UNPACK_WORKERS" validate:"min=1,max=64"`

	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT" validate:"gt=0"`
	RetryMax             int           `env:"RETRY_MAX" validate:"min=0,max=10"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" validate:"gt=0"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" validate:"gtefield=RetryInitialInterval"`
	BreakerMaxFailures   int           `env:"BREAKER_MAX_FAILURES" validate:"min=1"`
	BreakerTimeout       time.Duration `env:"BREAKER_TIMEOUT" validate:"gt=0"`

	BatchSize      int           `env:"BATCH_SIZE"`
	UpdateInterval time.Duration `env:"UPDATE_INTERVAL" validate:"gte=0"`

	HTTPAddr        string        `env:"HTTP_ADDR" validate:"required"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	KafkaEnabled bool     `env:"KAFKA_ENABLED"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" validate:"required_if=KafkaEnabled true"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" validate:"required_if=KafkaEnabled true"`

	// InfluxDB sink, disabled while InfluxAddr is empty.
	InfluxAddr        string `env:"INFLUX_ADDR" validate:"omitempty,url"`
	InfluxDatabase    string `env:"INFLUX_DB" validate:"required_with=InfluxAddr"`
	InfluxUser        string `env:"INFLUX_USER"`
	InfluxPassword    string `env:"INFLUX_PASSWORD"`
	InfluxMeasurement string `env:"INFLUX_MEASUREMENT" validate:"required_with=InfluxAddr"`
}

// InfluxEnabled reports whether the InfluxDB sink is configured.
func (c *Config) InfluxEnabled() bool { return c.InfluxAddr != "" }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report environment variable names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is read first if present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		BaseURL:       withTrailingSlash(sharedcfg.EnvOrDefault("GSOD_BASE_URL", "https://www1.ncdc.noaa.gov/pub/data/gsod/")),
		StationsURL:   sharedcfg.EnvOrDefault("ISD_HISTORY_URL", "https://www1.ncdc.noaa.gov/pub/data/noaa/isd-history.csv"),
		DataDir:       sharedcfg.EnvOrDefault("DATA_DIR", "data/raw"),
		OutDir:        sharedcfg.EnvOrDefault("OUT_DIR", "data/out"),
		StateDir:      sharedcfg.EnvOrDefault("STATE_DIR", "data/state"),
		DownloadMode:  sharedcfg.EnvOrDefault("DOWNLOAD_MODE", ModeBulk),
		OutputFormat:  sharedcfg.EnvOrDefault("OUTPUT_FORMAT", FormatCSV),
		FetchWorkers:  p.int("DOWNLOAD_WORKERS", 4),
		UnpackWorkers: p.int("UNPACK_WORKERS", 4),

		HTTPTimeout:          p.duration("HTTP_TIMEOUT", "60s"),
		RetryMax:             p.int("RETRY_MAX", 3),
		RetryInitialInterval: p.duration("RETRY_INITIAL_INTERVAL", "1s"),
		RetryMaxInterval:     p.duration("RETRY_MAX_INTERVAL", "30s"),
		BreakerMaxFailures:   p.int("BREAKER_MAX_FAILURES", 5),
		BreakerTimeout:       p.duration("BREAKER_TIMEOUT", "30s"),

		BatchSize:      batchSize,
		UpdateInterval: p.duration("UPDATE_INTERVAL", "24h"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,

		KafkaEnabled: p.bool("KAFKA_ENABLED", false),
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "gsod-station-days"),

		InfluxAddr:        os.Getenv("INFLUX_ADDR"),
		InfluxDatabase:    sharedcfg.EnvOrDefault("INFLUX_DB", "gsod"),
		InfluxUser:        os.Getenv("INFLUX_USER"),
		InfluxPassword:    os.Getenv("INFLUX_PASSWORD"),
		InfluxMeasurement: sharedcfg.EnvOrDefault("INFLUX_MEASUREMENT", "station_day"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings after flags have been applied on top of the environment.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("invalid %s: %q fails %q", fe.Field(), fmt.Sprint(fe.Value()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// parser reads typed environment values and keeps the first error.
type parser struct {
	err error
}

func (p *parser) fail(key, val string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, val)
	}
}

func (p *parser) int(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return n
}

func (p *parser) duration(key, def string) time.Duration {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, s)
		return 0
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return b
}

func withTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
