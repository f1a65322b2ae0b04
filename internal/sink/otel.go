package sink

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/uvtwin/telemetry-sim/internal/sink"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
