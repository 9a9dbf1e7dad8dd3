package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// fingerprintKeys are the tag keys that take part in event grouping.
var fingerprintKeys = []string{"operation", "state", "event"}

// ReporterConfig holds configuration for the crash reporter.
type ReporterConfig struct {
	// DSN is the Sentry project DSN. Empty keeps every event in process.
	DSN string

	Environment string
	Release     string

	// BeforeSend inspects or drops events before they are sent (optional).
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// Reporter records breadcrumbs and reports errors to Sentry. It owns its hub
// so several reporters can live in one process.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter creates a reporter bound to a dedicated Sentry client.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Breadcrumb records a trail entry attached to the next reported error.
func (r *Reporter) Breadcrumb(category, message string, data map[string]interface{}) {
	r.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Data:      data,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

// Report sends err with tags. Tags named in fingerprintKeys refine grouping.
func (r *Reporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.CaptureEvent(newEvent(sentry.LevelError, err, tags))
}

// Flush waits up to timeout for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Close flushes pending events.
func (r *Reporter) Close() {
	r.hub.Flush(2 * time.Second)
}

// LogHook returns a zerolog hook that turns warn and error log lines into
// breadcrumbs.
func (r *Reporter) LogHook() zerolog.Hook {
	return zerolog.HookFunc(func(_ *zerolog.Event, level zerolog.Level, msg string) {
		if level < zerolog.WarnLevel || msg == "" {
			return
		}
		r.hub.AddBreadcrumb(&sentry.Breadcrumb{
			Category:  "log",
			Message:   msg,
			Level:     sentryLevel(level),
			Timestamp: time.Now(),
		}, nil)
	})
}

func newEvent(level sentry.Level, err error, tags map[string]string) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       errorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}"}

	if len(tags) > 0 {
		event.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			event.Tags[k] = v
		}
		for _, key := range fingerprintKeys {
			if v, ok := tags[key]; ok {
				event.Fingerprint = append(event.Fingerprint, key+": "+v)
			}
		}
	}
	return event
}

// errorTitle is the message up to its first period, comma or colon.
func errorTitle(err error) string {
	msg := err.Error()
	if idx := strings.IndexAny(msg, ".,:"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 100 {
		msg = msg[:97] + "..."
	}
	return msg
}

func sentryLevel(level zerolog.Level) sentry.Level {
	switch level {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return sentry.LevelDebug
	case zerolog.InfoLevel:
		return sentry.LevelInfo
	case zerolog.WarnLevel:
		return sentry.LevelWarning
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}
