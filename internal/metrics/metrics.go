// Package metrics counts engine operations and key derivation time in a private
// Prometheus registry. The CLI has no server, so the registry is written out in the
// node_exporter textfile format when metrics_file is configured.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/illarion/credvault/internal/crypto"
)

// Login outcomes reported through ObserveLogin.
const (
	LoginOK        = "ok"
	LoginDenied    = "denied"
	LoginThrottled = "throttled"
)

type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	kdfDuration *prometheus.HistogramVec
	logins      *prometheus.CounterVec
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credvault",
			Name:      "crypto_operations_total",
			Help:      "Engine operations by operation, envelope version and result.",
		}, []string{"op", "version", "result"}),
		kdfDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credvault",
			Name:      "kdf_duration_seconds",
			Help:      "Wall time of Argon2id derivations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credvault",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.operations, m.kdfDuration, m.logins)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return crypto.KindOf(err).String()
}

func versionLabel(v crypto.Version) string {
	if !v.Valid() {
		return "none"
	}
	return v.String()
}

// ObserveOperation implements crypto.Observer.
func (m *Metrics) ObserveOperation(op string, v crypto.Version, err error) {
	m.operations.WithLabelValues(op, versionLabel(v), resultLabel(err)).Inc()
}

// ObserveDerive implements crypto.Observer.
func (m *Metrics) ObserveDerive(elapsed time.Duration, err error) {
	m.kdfDuration.WithLabelValues(resultLabel(err)).Observe(elapsed.Seconds())
}

// ObserveLogin counts one login attempt.
func (m *Metrics) ObserveLogin(result string) {
	m.logins.WithLabelValues(result).Inc()
}

// WriteTextfile writes all metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
