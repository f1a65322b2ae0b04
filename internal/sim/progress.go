package sim

import (
	"log/slog"
	"sync/atomic"
)

// Progress exposes the current lap and tick to other goroutines, mainly the
// logging context handler.
type Progress struct {
	Model string

	lap  atomic.Int64
	tick atomic.Int64
}

func (p *Progress) update(lap, tick int) {
	p.lap.Store(int64(lap))
	p.tick.Store(int64(tick))
}

func (p *Progress) Lap() int {
	return int(p.lap.Load())
}

func (p *Progress) Tick() int {
	return int(p.tick.Load())
}

// Attrs returns the attributes stamped on every log record.
func (p *Progress) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("model", p.Model),
		slog.Int("lap", p.Lap()),
		slog.Int("tick", p.Tick()),
	}
}
