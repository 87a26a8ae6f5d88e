package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	"github.com/couchcryptid/sentinel-ingest/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestPostTransformer_Transform(t *testing.T) {
	ingested := time.Date(2018, time.October, 10, 21, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(ingested))
	t.Cleanup(func() { domain.SetClock(nil) })

	tests := []struct {
		name    string
		payload string
		want    domain.Record
		wantErr error
	}{
		{
			name:    "precise point",
			payload: pointPost,
			want: domain.Record{
				ID: "1", Text: "a b", Longitude: 10, Latitude: 20, Exact: true, AuthorID: "9", CreatedAt: ingested,
			},
		},
		{
			name:    "bounding box centroid",
			payload: polygonPost,
			want: domain.Record{
				ID: "2", Text: "box", Longitude: 1, Latitude: 1, Exact: false, AuthorID: "9", CreatedAt: ingested,
			},
		},
		{
			name:    "source timestamp is kept",
			payload: `{"id_str":"5","text":"t","created_at":"Wed Oct 10 20:19:24 +0000 2018","coordinates":{"coordinates":[1,2]}}`,
			want: domain.Record{
				ID: "5", Text: "t", Longitude: 1, Latitude: 2, Exact: true,
				CreatedAt: time.Date(2018, time.October, 10, 20, 19, 24, 0, time.UTC),
			},
		},
		{name: "malformed", payload: "{", wantErr: domain.ErrMalformedEvent},
		{name: "control message", payload: deleteMsg, wantErr: domain.ErrMissingID},
		{name: "no location", payload: noGeoPost, wantErr: domain.ErrNoLocation},
	}

	tr := pipeline.NewTransformer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Transform(context.Background(), rawEvent(tt.payload))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, domain.Record{}, got)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
