package geo

import (
	"encoding/json"
	"fmt"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// ParsePolyline parses a JSON array of [longitude, latitude] pairs into
// coordinates of the given datum.
// Input format: "[[lon1,lat1],[lon2,lat2],...]"
func ParsePolyline(input string, datum core.Datum) ([]core.GeoCoordinate, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}

	if len(coords) < 2 {
		return nil, fmt.Errorf("polyline must have at least 2 points, got %d", len(coords))
	}

	track := make([]core.GeoCoordinate, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		c, err := core.NewGeoCoordinate(coord[1], coord[0], datum)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i, err)
		}
		track[i] = c
	}

	return track, nil
}
