package fare

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

const earthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned when a coordinate is NaN or outside
// the valid latitude/longitude range.
type ErrInvalidCoordinate struct {
	Point Point
}

func (e *ErrInvalidCoordinate) Error() string {
	return fmt.Sprintf("invalid coordinate (%v, %v)", e.Point.Lat, e.Point.Lon)
}

func validPoint(p Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// ValidatePoint checks a coordinate without computing anything.
func ValidatePoint(p Point) error {
	if !validPoint(p) {
		return &ErrInvalidCoordinate{Point: p}
	}
	return nil
}

// DistanceKm returns the great-circle (haversine) distance between two
// points in kilometers. Pure, no side effects.
func DistanceKm(a, b Point) (float64, error) {
	if !validPoint(a) {
		return 0, &ErrInvalidCoordinate{Point: a}
	}
	if !validPoint(b) {
		return 0, &ErrInvalidCoordinate{Point: b}
	}

	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c, nil
}

// Tier maps a distance band to a fixed fare in cents. MaxKm is the
// inclusive upper bound of the band; a negative MaxKm marks the final
// open-ended tier.
type Tier struct {
	MaxKm float64
	Fare  int64
}

// Table is an ordered fare tier table. Tiers are kept sorted by MaxKm
// ascending with the open-ended tier last, and fares are non-decreasing,
// so FareFor is monotonic in distance.
type Table struct {
	tiers []Tier
}

// DefaultTableSpec is the canonical tier configuration: R12 up to 5 km,
// R18 up to 10 km, R25 beyond.
const DefaultTableSpec = "5=1200,10=1800,*=2500"

// ParseTable parses a tier spec of the form "5=1200,10=1800,*=2500"
// (distance-km upper bound = fare in cents, '*' for the open-ended tier).
// The spec must contain exactly one open-ended tier and fares must be
// non-decreasing with distance.
func ParseTable(spec string) (*Table, error) {
	parts := strings.Split(spec, ",")
	var tiers []Tier
	var open *Tier

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed fare tier %q", part)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("malformed fare amount in tier %q", part)
		}
		if strings.TrimSpace(kv[0]) == "*" {
			if open != nil {
				return nil, fmt.Errorf("duplicate open-ended fare tier")
			}
			open = &Tier{MaxKm: -1, Fare: amount}
			continue
		}
		bound, err := strconv.ParseFloat(strings.TrimSpace(kv[0]), 64)
		if err != nil || bound <= 0 {
			return nil, fmt.Errorf("malformed distance bound in tier %q", part)
		}
		tiers = append(tiers, Tier{MaxKm: bound, Fare: amount})
	}

	if open == nil {
		return nil, fmt.Errorf("fare table needs an open-ended tier (\"*=<cents>\")")
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxKm < tiers[j].MaxKm })
	tiers = append(tiers, *open)

	for i := 1; i < len(tiers); i++ {
		if tiers[i].Fare < tiers[i-1].Fare {
			return nil, fmt.Errorf("fare table not monotonic: tier %.1f km cheaper than previous", tiers[i].MaxKm)
		}
	}

	return &Table{tiers: tiers}, nil
}

// DefaultTable returns the table built from DefaultTableSpec.
func DefaultTable() *Table {
	t, err := ParseTable(DefaultTableSpec)
	if err != nil {
		panic(err)
	}
	return t
}

// FareFor maps a trip distance to a fare in cents: the first tier whose
// upper bound covers the distance wins, falling through to the open-ended
// tier.
func (t *Table) FareFor(distanceKm float64) int64 {
	for _, tier := range t.tiers {
		if tier.MaxKm >= 0 && distanceKm <= tier.MaxKm {
			return tier.Fare
		}
	}
	return t.tiers[len(t.tiers)-1].Fare
}

// Tiers returns a copy of the ordered tier table.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
