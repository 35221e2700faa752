package fieldsync

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// OnlineState tracks whether the remote authority is believed reachable.
type OnlineState struct {
	online atomic.Bool
}

// Online reports the current state.
func (o *OnlineState) Online() bool { return o.online.Load() }

// Set records the state and reports whether this call moved it from
// offline to online.
func (o *OnlineState) Set(online bool) (becameOnline bool) {
	prev := o.online.Swap(online)
	return online && !prev
}

// ConnectivityMonitor probes a HealthChecker and reports each result.
type ConnectivityMonitor struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	report   func(online bool)
	log      *log.Logger
}

// NewConnectivityMonitor returns a monitor that probes checker every
// interval and passes the outcome to report.
func NewConnectivityMonitor(checker HealthChecker, interval time.Duration, report func(online bool), logger *log.Logger) *ConnectivityMonitor {
	if logger == nil {
		logger = discardLogger()
	}
	timeout := interval
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &ConnectivityMonitor{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		report:   report,
		log:      logger,
	}
}

// Run probes immediately and then on every tick until ctx is done.
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *ConnectivityMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.checker.HealthCheck(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.WithField("err", err).Debug("connectivity: probe failed")
	}
	m.report(err == nil)
}
