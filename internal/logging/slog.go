package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationScope = "uvtwin-sim"

// Outputs selects where records go. Nil writers are skipped.
type Outputs struct {
	Console io.Writer
	File    io.Writer
	// Graylog receives JSON records, typically a GELF writer.
	Graylog     io.Writer
	LogProvider *sdklog.LoggerProvider
	// Context stamps every record with live session attributes.
	Context ContextProvider
}

// SlogManager owns the process logger and the OTel provider it flushes.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

var levels = map[string]slog.Level{
	"TRACE":   slog.LevelDebug,
	"DEBUG":   slog.LevelDebug,
	"INFO":    slog.LevelInfo,
	"WARN":    slog.LevelWarn,
	"WARNING": slog.LevelWarn,
	"ERROR":   slog.LevelError,
}

// parseLevel maps a profile log level to slog; unknown names mean info.
func parseLevel(level string) slog.Level {
	if lvl, ok := levels[strings.ToUpper(level)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// utcTime renders record times as RFC3339 in UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

func buildHandlers(out Outputs, opts *slog.HandlerOptions) []slog.Handler {
	text := func(w io.Writer) slog.Handler {
		if w == nil {
			return nil
		}
		return slog.NewTextHandler(w, opts)
	}

	handlers := []slog.Handler{text(out.Console), text(out.File)}
	if out.Graylog != nil {
		handlers = append(handlers, slog.NewJSONHandler(out.Graylog, opts))
	}
	if out.LogProvider != nil {
		handlers = append(handlers, otelslog.NewHandler(instrumentationScope, otelslog.WithLoggerProvider(out.LogProvider)))
	}
	return handlers
}

// Setup builds the logger from out. Calling it again replaces the logger.
func (m *SlogManager) Setup(out Outputs, level string) {
	lvl := parseLevel(level)
	m.logProvider = out.LogProvider

	var h slog.Handler = NewMultiHandler(buildHandlers(out, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: utcTime,
	})...)
	if out.Context != nil {
		h = NewContextHandler(h, out.Context)
	}

	m.logger = slog.New(h)
	m.logger.Debug("Logging initialized", "level", lvl.String())
}

// Logger falls back to slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records; it is a no-op without a provider.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}

// DialGraylog opens a GELF UDP writer to addr.
func DialGraylog(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("dial graylog %s: %w", addr, err)
	}
	w.Facility = instrumentationScope
	return w, nil
}
