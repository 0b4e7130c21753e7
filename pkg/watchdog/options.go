package watchdog

import (
	"log/slog"
	"time"
)

// Defaults.
const (
	DefaultStartupTimeout  = 5 * time.Second
	DefaultStartupInterval = 250 * time.Millisecond
	DefaultLiveInterval    = time.Second
	DefaultMaxFailures     = 1
	DefaultTailLines       = 30
	DefaultProbeTimeout    = time.Second
)

// Option configures a Watchdog
type Option func(*Watchdog)

// WithStartupTimeout bounds how long a node may take to become live
func WithStartupTimeout(d time.Duration) Option {
	return func(w *Watchdog) {
		w.startupTimeout = d
	}
}

// WithStartupInterval sets the probe interval while starting
func WithStartupInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		w.startupInterval = d
	}
}

// WithLiveInterval sets the probe interval once live
func WithLiveInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		w.liveInterval = d
	}
}

// WithMaxFailures sets how many consecutive failed live probes mean death
func WithMaxFailures(n int) Option {
	return func(w *Watchdog) {
		if n > 0 {
			w.maxFailures = n
		}
	}
}

// WithProbeTimeout bounds a single probe call
func WithProbeTimeout(d time.Duration) Option {
	return func(w *Watchdog) {
		w.probeTimeout = d
	}
}

// WithLiveProbe uses a different probe once the node is live
func WithLiveProbe(p Probe) Option {
	return func(w *Watchdog) {
		w.liveProbe = p
	}
}

// WithExited makes the watchdog declare death as soon as ch is closed
func WithExited(ch <-chan struct{}) Option {
	return func(w *Watchdog) {
		w.exited = ch
	}
}

// WithLogTail sets how the log tail is read on death
func WithLogTail(fn func() []string) Option {
	return func(w *Watchdog) {
		w.logTail = fn
	}
}

// WithOnDeath sets the cleanup run once on death
func WithOnDeath(fn func(err error)) Option {
	return func(w *Watchdog) {
		w.onDeath = fn
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(w *Watchdog) {
		w.metrics = mc
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		w.logger = logger
	}
}
