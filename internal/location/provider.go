package location

import (
	"context"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// ErrCodeNone is the provider error code for a successful update.
const ErrCodeNone = 0

// RawFix is one provider update. Platform providers in mainland China report
// DatumGCJ02 and must say so; the feed only corrects GCJ-02 positions.
type RawFix struct {
	Latitude     float64
	Longitude    float64
	Datum        core.Datum
	Accuracy     float64
	Address      string
	LocationType int
	Provider     string
	Time         time.Time
}

// Listener receives provider updates. raw is nil or errCode is non-zero when
// the provider could not produce a position.
type Listener func(raw *RawFix, errCode int)

// Provider is a platform positioning source. Start begins delivering updates
// to l on a provider-owned goroutine until Stop is called or ctx is done.
type Provider interface {
	Start(ctx context.Context, l Listener) error
	Stop() error
}
