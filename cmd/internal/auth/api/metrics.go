package api

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts account API outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   *prometheus.CounterVec
	reuse     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filmdoms",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result code.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filmdoms",
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh token rotations by result code.",
		}, []string{"result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filmdoms",
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Logout requests by scope.",
		}, []string{"scope"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filmdoms",
			Subsystem: "auth",
			Name:      "refresh_reuse_detected_total",
			Help:      "Rotated refresh tokens presented again.",
		}),
	}

	for _, c := range []prometheus.Collector{m.logins, m.refreshes, m.logouts, m.reuse} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) logout(scope string) {
	if m != nil {
		m.logouts.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) reuseDetected() {
	if m != nil {
		m.reuse.Inc()
	}
}
