package app

import (
	"fmt"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/getsentry/sentry-go"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/version"
)

// goSafe runs fn in a goroutine and reports a panic to Sentry before letting it crash the process.
func goSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sentryRecover(r)
				panic(r)
			}
		}()
		fn()
	}()
}

// sentryRecover is a no-op when Sentry was never initialized.
func sentryRecover(rec interface{}) {
	sentry.CurrentHub().Recover(rec)
}

func sentryFlushSafely(timeout time.Duration) {
	_ = sentry.Flush(timeout)
}

func initSentry(c *config.Config) error {
	if c.SentryDsn == "" {
		return nil
	}

	env := "production"
	if c.Environment == sdklogging.Development {
		env = "development"
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              c.SentryDsn,
		ServerName:       c.ServerName,
		Environment:      env,
		Release:          version.Release(),
		AttachStacktrace: true,
		TracesSampleRate: 0.2,
	}); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	return nil
}
