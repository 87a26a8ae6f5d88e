package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedEvent is returned when a payload is not a decodable JSON object.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrMissingID is returned for payloads without a usable id_str. Stream
	// control messages (delete, limit, warning) land here.
	ErrMissingID = errors.New("event has no id")

	// ErrNoLocation is returned when neither a point nor a usable bounding
	// polygon is present.
	ErrNoLocation = errors.New("event has no resolvable location")
)

// createdAtLayout is the timestamp format used by the status stream,
// e.g. "Wed Oct 10 20:19:24 +0000 2018".
const createdAtLayout = time.RubyDate

// ParseRawEvent decodes a RawEvent's value into a Post.
func ParseRawEvent(raw RawEvent) (Post, error) {
	var p Post
	if err := json.Unmarshal(raw.Value, &p); err != nil {
		return Post{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return p, nil
}

// NormalizeEvent extracts the identifier, collapsed text, and author of a
// post. It reports false only when the post has no usable identifier; all
// other fields are optional.
func NormalizeEvent(p Post) (PartialRecord, bool) {
	id := strings.TrimSpace(p.IDStr)
	if id == "" {
		return PartialRecord{}, false
	}

	text := p.Text
	if p.ExtendedTweet != nil && p.ExtendedTweet.FullText != "" {
		text = p.ExtendedTweet.FullText
	}

	var author string
	if p.User != nil {
		author = strings.TrimSpace(p.User.IDStr)
	}

	return PartialRecord{
		ID:        id,
		Text:      NormalizeText(text),
		AuthorID:  author,
		CreatedAt: parseCreatedAt(p.CreatedAt),
	}, true
}

// NormalizeText replaces every run of whitespace, newlines included, with a
// single space and trims both ends. NormalizeText(NormalizeText(s)) equals
// NormalizeText(s) for every s.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseCreatedAt reads the stream timestamp, falling back to the ingestion
// clock when it is absent or unparseable.
func parseCreatedAt(s string) time.Time {
	s = strings.TrimSpace(s)
	if s != "" {
		if t, err := time.Parse(createdAtLayout, s); err == nil {
			return t.UTC()
		}
	}
	return clock.Now().UTC()
}
