// pkg/core/geo.go
package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Datum identifies the geodetic reference a coordinate is expressed in.
type Datum uint8

const (
	// DatumWGS84 is the standard geodetic datum.
	DatumWGS84 Datum = iota
	// DatumGCJ02 is the regionally obfuscated datum used by Chinese map providers.
	DatumGCJ02
)

func (d Datum) String() string {
	switch d {
	case DatumWGS84:
		return "WGS84"
	case DatumGCJ02:
		return "GCJ02"
	default:
		return fmt.Sprintf("Datum(%d)", uint8(d))
	}
}

// ParseDatum maps a config or wire name to a Datum. An empty name means WGS84.
func ParseDatum(name string) (Datum, error) {
	switch name {
	case "", "WGS84", "wgs84", "EPSG:4326":
		return DatumWGS84, nil
	case "GCJ02", "gcj02":
		return DatumGCJ02, nil
	default:
		return 0, fmt.Errorf("unknown datum %q", name)
	}
}

// GeoCoordinate is an immutable latitude/longitude pair in a named datum.
type GeoCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Datum     Datum   `json:"datum"`
}

// NewGeoCoordinate validates and builds a GeoCoordinate.
func NewGeoCoordinate(lat, lon float64, datum Datum) (GeoCoordinate, error) {
	c := GeoCoordinate{Latitude: lat, Longitude: lon, Datum: datum}
	if err := c.Validate(); err != nil {
		return GeoCoordinate{}, err
	}
	return c, nil
}

// Validate checks latitude is within [-90, 90] and longitude within [-180, 180].
func (c GeoCoordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidCoordinate, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

func (c GeoCoordinate) String() string {
	return fmt.Sprintf("%.7f,%.7f (%s)", c.Latitude, c.Longitude, c.Datum)
}
