// SPDX-License-Identifier: Apache-2.0

// Package metrics records authentication attempts in Prometheus.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/saslnet"
)

const namespace = "sasl"

// Recorder counts negotiations by mechanism, side and result, and tracks
// how many rounds they took.  It implements saslnet.Observer.
type Recorder struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	rounds   *prometheus.HistogramVec
}

// NewRecorder returns a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "SASL negotiations by mechanism, side and result.",
		}, []string{"mech", "side", "result"}),
		rounds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_rounds",
			Help:      "Tokens received per SASL negotiation.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}, []string{"mech", "side"}),
	}

	r.registry.MustRegister(r.attempts, r.rounds)

	return r
}

// Observe implements saslnet.Observer.
func (r *Recorder) Observe(mech string, side saslnet.Side, rounds int, err error) {
	mech = strings.ToUpper(mech)

	r.attempts.WithLabelValues(mech, string(side), Result(err)).Inc()
	r.rounds.WithLabelValues(mech, string(side)).Observe(float64(rounds))
}

// Handler serves the recorded metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Result maps a negotiation error to a metric label: "success", the error
// kind with spaces replaced, or "error" for transport failures.
func Result(err error) string {
	if err == nil {
		return "success"
	}

	kind := sasl.KindOf(err)
	if kind == nil {
		return "error"
	}

	return strings.ReplaceAll(kind.Error(), " ", "_")
}

var _ saslnet.Observer = (*Recorder)(nil)
