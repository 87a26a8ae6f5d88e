// Package domain models geotagged posts from the public status stream.
//
// # Payloads
//
// Each stream message is a JSON object. Statuses carry an "id_str"; control
// messages such as {"delete": ...} or {"limit": ...} do not and are rejected
// by [NormalizeEvent]. Any other field may be missing.
//
// Text:
//
//	"text" holds the legacy (possibly truncated) body. When
//	"extended_tweet.full_text" is present it is used instead. Whitespace runs
//	are collapsed to a single space and the result is trimmed.
//
// Timestamps:
//
//	"created_at" uses the Ruby date layout, e.g. "Wed Oct 10 20:19:24 +0000 2018".
//	Posts without a parseable timestamp are stamped with the ingestion clock.
//
// # Geometry
//
// Two mutually exclusive representations may appear:
//
//	"coordinates":           {"type":"Point","coordinates":[lon, lat]}
//	"place.bounding_box":    {"type":"Polygon","coordinates":[[[lon, lat], ...]]}
//
// Both use GeoJSON order, longitude first. A point yields an exact location.
// A polygon yields the arithmetic mean of the first ring's vertices, flagged
// inexact. See [ResolveLocation].
//
// A [Record] is only built once both [NormalizeEvent] and [ResolveLocation]
// succeed; partial records never leave this package.
package domain
