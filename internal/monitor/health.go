package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// maxGoroutines fails liveness when goroutines leak past this count.
const maxGoroutines = 1000

var (
	// ErrBrokerDisconnected is reported by the readiness check.
	ErrBrokerDisconnected = errors.New("INDI server not connected")

	// ErrTickStale is reported by the liveness check.
	ErrTickStale = errors.New("reconciliation sweep stalled")
)

// StatusSource is the part of the supervisor the health checks read.
type StatusSource interface {
	BrokerConnected() bool
	ConnectedSince() time.Time
	LastTick() time.Time
}

// NewHealth builds liveness and readiness checks for src and exports their
// results on reg.
//
// Ready means the INDI session is connected. Live fails only when the
// session is connected but no sweep finished within staleAfter; a watchdog
// that is still retrying the server is alive.
func NewHealth(src StatusSource, reg prometheus.Registerer, staleAfter time.Duration) healthcheck.Handler {
	return newHealth(src, reg, staleAfter, time.Now)
}

func newHealth(src StatusSource, reg prometheus.Registerer, staleAfter time.Duration, now func() time.Time) healthcheck.Handler {
	h := healthcheck.NewMetricsHandler(reg, namespace)

	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	h.AddLivenessCheck("sweep", sweepCheck(src, staleAfter, now))
	h.AddReadinessCheck("indi-session", func() error {
		if !src.BrokerConnected() {
			return ErrBrokerDisconnected
		}
		return nil
	})
	return h
}

func sweepCheck(src StatusSource, staleAfter time.Duration, now func() time.Time) healthcheck.Check {
	return func() error {
		if !src.BrokerConnected() {
			return nil
		}
		last := src.LastTick()
		if since := src.ConnectedSince(); since.After(last) {
			last = since
		}
		if last.IsZero() {
			return nil
		}
		if age := now().Sub(last); age > staleAfter {
			return fmt.Errorf("%w: last sweep %s ago", ErrTickStale, age.Truncate(time.Second))
		}
		return nil
	}
}
