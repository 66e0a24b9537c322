package gormjournal

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// Models is every table the journal migrates.
var Models = []interface{}{
	&Session{},
	&FixRecord{},
	&PlacementRecord{},
}

// Session is one run of the scene.
type Session struct {
	ID        string     `json:"id" gorm:"size:36;primaryKey"`
	StartedAt time.Time  `json:"startedAt" gorm:"index:idx_session_started"`
	EndedAt   *time.Time `json:"endedAt"`
	Provider  string     `json:"provider" gorm:"size:64"`
	Host      string     `json:"host" gorm:"size:127"`
	Version   string     `json:"version" gorm:"size:64"`
	Markers   int        `json:"markers"`
}

func (*Session) TableName() string {
	return "sessions"
}

// FixRecord is one published fix.
type FixRecord struct {
	ID           uint           `json:"id" gorm:"primarykey;autoIncrement"`
	SessionID    string         `json:"sessionId" gorm:"size:36;index:idx_fix_session_id"`
	Time         time.Time      `json:"time" gorm:"index:idx_fix_time"`
	ProviderTime time.Time      `json:"providerTime"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Position     geom.Point     `json:"position" gorm:"type:bytes"`
	Accuracy     float64        `json:"accuracy"`
	Address      string         `json:"address" gorm:"size:255"`
	LocationType int            `json:"locationType"`
	Provider     string         `json:"provider" gorm:"size:64"`
	Raw          datatypes.JSON `json:"raw"`
}

func (*FixRecord) TableName() string {
	return "fixes"
}

// PlacementRecord is one marker's placement on one sampled frame.
type PlacementRecord struct {
	ID            uint       `json:"id" gorm:"primarykey;autoIncrement"`
	SessionID     string     `json:"sessionId" gorm:"size:36;index:idx_placement_session_id"`
	Time          time.Time  `json:"time" gorm:"index:idx_placement_time"`
	MarkerID      string     `json:"markerId" gorm:"size:64;index:idx_placement_marker_id"`
	Name          string     `json:"name" gorm:"size:127"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Position      geom.Point `json:"position" gorm:"type:bytes"`
	DistanceInGPS int        `json:"distanceInGps"`
	DistanceInAR  float64    `json:"distanceInAr"`
	Scale         float64    `json:"scale"`
	Offset        float64    `json:"offset"`
	SceneX        float64    `json:"sceneX"`
	SceneY        float64    `json:"sceneY"`
	SceneZ        float64    `json:"sceneZ"`
}

func (*PlacementRecord) TableName() string {
	return "placements"
}
