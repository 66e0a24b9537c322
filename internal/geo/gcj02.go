package geo

import (
	"fmt"
	"math"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// Krasovsky 1940 ellipsoid used by the GCJ-02 offset.
const (
	krasovskyA  = 6378245.0
	krasovskyEE = 0.00669342162296594323
)

// coarse GCJ-02 coverage box
const (
	chinaMinLon = 72.004
	chinaMaxLon = 137.8347
	chinaMinLat = 0.8293
	chinaMaxLat = 55.8271
)

// GCJ02ToWGS84 converts an obfuscated coordinate to WGS84 in a single pass.
// WGS84 input is returned unchanged. Outside China the result is only approximate.
func GCJ02ToWGS84(c core.GeoCoordinate) (core.GeoCoordinate, error) {
	if err := c.Validate(); err != nil {
		return core.GeoCoordinate{}, err
	}
	switch c.Datum {
	case core.DatumWGS84:
		return c, nil
	case core.DatumGCJ02:
	default:
		return core.GeoCoordinate{}, fmt.Errorf("cannot convert from datum %s", c.Datum)
	}
	return core.GeoCoordinate{
		Latitude:  WGSLatitude(c.Latitude, c.Longitude),
		Longitude: WGSLongitude(c.Latitude, c.Longitude),
		Datum:     core.DatumWGS84,
	}, nil
}

// InChina reports whether c falls inside the region the GCJ-02 offset is defined for.
func InChina(c core.GeoCoordinate) bool {
	return c.Longitude >= chinaMinLon && c.Longitude <= chinaMaxLon &&
		c.Latitude >= chinaMinLat && c.Latitude <= chinaMaxLat
}

// WGSLatitude returns the WGS84 latitude for a GCJ-02 lat/lon pair.
func WGSLatitude(lat, lon float64) float64 {
	dLat := transformLat(lon-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - krasovskyEE*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((krasovskyA * (1 - krasovskyEE)) / (magic * sqrtMagic) * math.Pi)
	return lat - dLat
}

// WGSLongitude returns the WGS84 longitude for a GCJ-02 lat/lon pair.
func WGSLongitude(lat, lon float64) float64 {
	dLon := transformLon(lon-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - krasovskyEE*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLon = (dLon * 180.0) / (krasovskyA / sqrtMagic * math.Cos(radLat) * math.Pi)
	return lon - dLon
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLon(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
