package domain

// ResolveLocation picks a single point for a post.
//
// A precise point wins whenever present, even if a place polygon is also
// attached; such posts may fall outside the tracked area but are kept since
// they are usually still on topic. Otherwise the vertex centroid of the
// place's first ring is used and Exact is false. Coordinates are passed
// through without range checks.
func ResolveLocation(p Post) (Location, bool) {
	if p.Coordinates != nil && len(p.Coordinates.Coordinates) >= 2 {
		return Location{
			Longitude: p.Coordinates.Coordinates[0],
			Latitude:  p.Coordinates.Coordinates[1],
			Exact:     true,
		}, true
	}

	if p.Place == nil || p.Place.BoundingBox == nil || len(p.Place.BoundingBox.Coordinates) == 0 {
		return Location{}, false
	}

	lon, lat, ok := Centroid(p.Place.BoundingBox.Coordinates[0])
	if !ok {
		return Location{}, false
	}
	return Location{Longitude: lon, Latitude: lat, Exact: false}, true
}

// Centroid returns the unweighted mean of a ring's vertex longitudes and
// latitudes. This is a vertex average, not an area-weighted centroid. It
// reports false for an empty ring or a vertex with fewer than two
// components.
func Centroid(ring [][]float64) (lon, lat float64, ok bool) {
	if len(ring) == 0 {
		return 0, 0, false
	}
	for _, v := range ring {
		if len(v) < 2 {
			return 0, 0, false
		}
		lon += v[0]
		lat += v[1]
	}
	n := float64(len(ring))
	return lon / n, lat / n, true
}
