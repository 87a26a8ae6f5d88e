package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message delivered by a stream transport.
// Value holds the untrusted JSON payload exactly as received.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Post is the subset of a streamed status payload the ingestion path reads.
// Every field is optional; stream control messages decode to an empty Post.
type Post struct {
	IDStr         string         `json:"id_str"`
	Text          string         `json:"text"`
	CreatedAt     string         `json:"created_at"`
	ExtendedTweet *ExtendedTweet `json:"extended_tweet"`
	Coordinates   *PointGeometry `json:"coordinates"`
	Place         *Place         `json:"place"`
	User          *User          `json:"user"`
}

// ExtendedTweet carries the untruncated body of posts longer than the
// legacy text limit.
type ExtendedTweet struct {
	FullText string `json:"full_text"`
}

// PointGeometry is a GeoJSON Point. Coordinates are [longitude, latitude].
type PointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// PolygonGeometry is a GeoJSON Polygon: a list of linear rings, each a list
// of [longitude, latitude] vertices. The first ring is the outer boundary.
type PolygonGeometry struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// Place is the named area a post was tagged with.
type Place struct {
	ID          string           `json:"id"`
	FullName    string           `json:"full_name"`
	BoundingBox *PolygonGeometry `json:"bounding_box"`
}

// User identifies the post author.
type User struct {
	IDStr string `json:"id_str"`
}

// Location is a resolved point. Exact is false when the point is the
// vertex centroid of a place's bounding polygon.
type Location struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Exact     bool    `json:"exact"`
}

// PartialRecord holds the normalized, non-geographic fields of a post.
type PartialRecord struct {
	ID        string
	Text      string
	AuthorID  string
	CreatedAt time.Time
}

// Record is the normalized, persisted form of an accepted post. It is only
// built when both an ID and a location were resolved.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Exact     bool      `json:"exact"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord joins the normalized fields with a resolved location.
func NewRecord(p PartialRecord, loc Location) Record {
	return Record{
		ID:        p.ID,
		Text:      p.Text,
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
		Exact:     loc.Exact,
		AuthorID:  p.AuthorID,
		CreatedAt: p.CreatedAt,
	}
}
