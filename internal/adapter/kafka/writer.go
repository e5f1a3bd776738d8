package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes one JSON message per station-day.
// It implements pipeline.Loader. Messages are sent as batches arrive, so Commit and Abort
// have nothing to publish or retract; they only settle the per-file message count.
type Writer struct {
	writer messageWriter
	logger *slog.Logger

	mu   sync.Mutex
	sent map[string]int // messages published per source file key
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Name implements pipeline.Loader.
func (w *Writer) Name() string { return "kafka" }

// LoadBatch serializes and publishes the station-days in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, src domain.SourceFile, days []domain.StationDay) error {
	if len(days) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(days))
	for i := range days {
		msg, err := serializeToMessage(src, days[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.track(src, len(msgs))
	return nil
}

// Commit implements pipeline.Loader.
func (w *Writer) Commit(_ context.Context, src domain.SourceFile) error {
	w.logger.Debug("kafka messages published", "file", src.Path, "messages", w.settle(src))
	return nil
}

// Abort implements pipeline.Loader. Messages already written stay on the topic; consumers
// deduplicate by key.
func (w *Writer) Abort(_ context.Context, src domain.SourceFile) error {
	if n := w.settle(src); n > 0 {
		w.logger.Warn("file aborted after partial kafka publish", "file", src.Path, "messages", n)
	}
	return nil
}

func (w *Writer) track(src domain.SourceFile, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sent == nil {
		w.sent = map[string]int{}
	}
	w.sent[src.Key()] += n
}

// settle forgets src and returns how many messages were published for it.
func (w *Writer) settle(src domain.SourceFile) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.sent[src.Key()]
	delete(w.sent, src.Key())
	return n
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a StationDay into a Kafka message keyed by station and date.
func serializeToMessage(src domain.SourceFile, day domain.StationDay) (kafkago.Message, error) {
	data, err := json.Marshal(day)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize station day: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(day.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station", Value: []byte(day.StationID())},
			{Key: "date", Value: []byte(day.Date.Format("2006-01-02"))},
			{Key: "source_file", Value: []byte(src.Key())},
		},
	}, nil
}
