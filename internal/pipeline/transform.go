package pipeline

import (
	"context"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// StationDayTransformer implements Transformer by decoding the fixed-width line and
// attaching station metadata when a lookup is configured.
type StationDayTransformer struct {
	stations domain.StationLookup
}

// NewTransformer creates a StationDayTransformer. Pass a nil lookup to skip enrichment.
func NewTransformer(stations domain.StationLookup) *StationDayTransformer {
	return &StationDayTransformer{stations: stations}
}

func (t *StationDayTransformer) Transform(_ context.Context, line string) (domain.StationDay, error) {
	day, err := domain.DecodeLine(line)
	if err != nil {
		return domain.StationDay{}, err
	}
	return domain.Enrich(day, t.stations), nil
}
