// Package metrics counts client events on a private Prometheus registry.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is safe to use as a nil pointer; every method is then a no-op.
type Registry struct {
	reg *prometheus.Registry

	requestsStarted    *prometheus.CounterVec
	requestsSuperseded *prometheus.CounterVec
	staleDiscarded     *prometheus.CounterVec
	cacheRefreshes     *prometheus.CounterVec
	cacheMutations     *prometheus.CounterVec
	sessionEvents      *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requestsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labportal",
			Name:      "requests_started_total",
			Help:      "Remote requests started, by call-site.",
		}, []string{"site"}),
		requestsSuperseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labportal",
			Name:      "requests_superseded_total",
			Help:      "In-flight requests cancelled by a newer request at the same call-site.",
		}, []string{"site"}),
		staleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labportal",
			Name:      "requests_stale_discarded_total",
			Help:      "Results dropped because a newer generation was current.",
		}, []string{"site"}),
		cacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labportal",
			Name:      "feedback_refreshes_total",
			Help:      "Feedback cache refreshes, by result.",
		}, []string{"result"}),
		cacheMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labportal",
			Name:      "feedback_mutations_total",
			Help:      "Feedback create/remove attempts, by operation and result.",
		}, []string{"op", "result"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labportal",
			Name:      "session_events_total",
			Help:      "Session state transitions.",
		}, []string{"event"}),
	}
	r.reg.MustRegister(
		r.requestsStarted,
		r.requestsSuperseded,
		r.staleDiscarded,
		r.cacheRefreshes,
		r.cacheMutations,
		r.sessionEvents,
	)
	return r
}

// Gatherer exposes the registry, e.g. for promhttp.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) RequestStarted(site string) {
	if r == nil {
		return
	}
	r.requestsStarted.WithLabelValues(site).Inc()
}

func (r *Registry) RequestSuperseded(site string) {
	if r == nil {
		return
	}
	r.requestsSuperseded.WithLabelValues(site).Inc()
}

func (r *Registry) StaleDiscarded(site string) {
	if r == nil {
		return
	}
	r.staleDiscarded.WithLabelValues(site).Inc()
}

func (r *Registry) CacheRefresh(result string) {
	if r == nil {
		return
	}
	r.cacheRefreshes.WithLabelValues(result).Inc()
}

func (r *Registry) CacheMutation(op, result string) {
	if r == nil {
		return
	}
	r.cacheMutations.WithLabelValues(op, result).Inc()
}

func (r *Registry) SessionEvent(event string) {
	if r == nil {
		return
	}
	r.sessionEvents.WithLabelValues(event).Inc()
}

type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// Samples flattens every counter into sorted name/labels/value rows.
func (r *Registry) Samples() ([]Sample, error) {
	if r == nil {
		return nil, nil
	}
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []Sample
	for _, family := range families {
		for _, m := range family.GetMetric() {
			pairs := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				pairs = append(pairs, lp.GetName()+"="+lp.GetValue())
			}
			out = append(out, Sample{
				Name:   family.GetName(),
				Labels: strings.Join(pairs, ","),
				Value:  m.GetCounter().GetValue(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}
