package location

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/silverbullet1472/Amap-GPS-ARLocation/internal/location"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
