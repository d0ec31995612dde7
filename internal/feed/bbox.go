package feed

import (
	"net/url"
	"strconv"

	"github.com/paulmach/orb"
)

// BBoxQuery scopes a polling request to a geographic box.
type BBoxQuery struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	// Limit caps the records returned; zero omits the parameter.
	Limit int
}

// BBoxFromBound converts a view bound. A bound whose longitudes wrap past
// the antimeridian is widened to the full longitude range.
func BBoxFromBound(b orb.Bound, limit int) BBoxQuery {
	q := BBoxQuery{
		MinLat: clamp(b.Min.Lat(), -90, 90),
		MaxLat: clamp(b.Max.Lat(), -90, 90),
		MinLon: b.Min.Lon(),
		MaxLon: b.Max.Lon(),
		Limit:  limit,
	}
	if q.MinLon < -180 || q.MaxLon > 180 || q.MaxLon-q.MinLon >= 360 {
		q.MinLon, q.MaxLon = -180, 180
	}
	return q
}

// Values encodes the query as lamin/lamax/lomin/lomax/limit parameters.
func (q BBoxQuery) Values() url.Values {
	v := url.Values{}
	v.Set("lamin", formatCoord(q.MinLat))
	v.Set("lamax", formatCoord(q.MaxLat))
	v.Set("lomin", formatCoord(q.MinLon))
	v.Set("lomax", formatCoord(q.MaxLon))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Apply returns endpoint with the query parameters merged in.
func (q BBoxQuery) Apply(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	v := u.Query()
	for k, vals := range q.Values() {
		v[k] = vals
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// Bound returns the query box as an orb bound.
func (q BBoxQuery) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{q.MinLon, q.MinLat}, Max: orb.Point{q.MaxLon, q.MaxLat}}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
