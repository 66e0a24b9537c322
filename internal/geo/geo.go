package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Journal rows always store positions as EPSG:3857 WKB, so SQLite can hold
// them without spatial extensions and web maps can draw them directly.

// Coords3857From4326 creates a web mercator point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	var x, y float64
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(longitude, latitude, 0)
	point = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	return point, nil
}

// PointFromCoordinate validates c and projects it to EPSG:3857.
// GCJ02 input is converted to WGS84 first.
func PointFromCoordinate(c core.GeoCoordinate) (geom.Point, error) {
	wgs, err := GCJ02ToWGS84(c)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), err
	}
	return Coords3857From4326(wgs.Longitude, wgs.Latitude)
}
