package journal

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
