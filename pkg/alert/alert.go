// Package alert reports configuration-class and integrity failures that need
// operator attention, such as webhook signature mismatches.
package alert

import (
	"context"
	"time"

	"consult-platform/pkg/logger"

	"github.com/getsentry/sentry-go"
)

// Init configures the Sentry client. An empty DSN leaves Sentry disabled and
// alerts only reach the logs.
func Init(dsn, env string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	})
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// Operators logs err at error level with alert=true and forwards it to Sentry
// tagged with the given attributes.
func Operators(ctx context.Context, msg string, err error, attrs ...any) {
	l := logger.From(ctx)
	l.Error(msg, append([]any{"alert", true, "err", err}, attrs...)...)

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("alert", msg)
		for i := 0; i+1 < len(attrs); i += 2 {
			k, ok := attrs[i].(string)
			if !ok {
				continue
			}
			scope.SetExtra(k, attrs[i+1])
		}
		if err != nil {
			hub.CaptureException(err)
			return
		}
		hub.CaptureMessage(msg)
	})
}
