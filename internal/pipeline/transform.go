package pipeline

import (
	"context"

	"github.com/couchcryptid/sentinel-ingest/internal/domain"
)

// PostTransformer implements Transformer by decoding the payload, normalizing
// it, and resolving its location.
type PostTransformer struct{}

// NewTransformer creates a PostTransformer.
func NewTransformer() *PostTransformer {
	return &PostTransformer{}
}

// Transform returns a Record or one of domain.ErrMalformedEvent,
// domain.ErrMissingID, domain.ErrNoLocation. Nothing partial is returned.
func (t *PostTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.Record, error) {
	post, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.Record{}, err
	}

	partial, ok := domain.NormalizeEvent(post)
	if !ok {
		return domain.Record{}, domain.ErrMissingID
	}

	loc, ok := domain.ResolveLocation(post)
	if !ok {
		return domain.Record{}, domain.ErrNoLocation
	}

	return domain.NewRecord(partial, loc), nil
}
