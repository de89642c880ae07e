// Package metrics exports registry and resolver outcomes to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// Recorder counts deployments, registrations and resolutions. It implements
// interfaces.RegistryObserver and interfaces.ResolverObserver.
type Recorder struct {
	deployments     *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
}

var (
	_ interfaces.RegistryObserver = (*Recorder)(nil)
	_ interfaces.ResolverObserver = (*Recorder)(nil)
)

// NewRecorder creates a recorder and registers its collectors with reg.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_deployments_total",
			Help:      "Registry contract deployments by contract and result.",
		}, []string{"contract", "result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_registrations_total",
			Help:      "Server node registrations by chain and result.",
		}, []string{"chain", "result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_resolutions_total",
			Help:      "Chain data resolutions by chain and result.",
		}, []string{"chain", "result"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_resolution_duration_seconds",
			Help:      "Time spent resolving chain data.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_data_cache_lookups_total",
			Help:      "Chain data cache lookups by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{r.deployments, r.registrations, r.resolutions, r.resolveDuration, r.cacheLookups} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveDeployment(contract string, err error) {
	r.deployments.WithLabelValues(contract, Result(err)).Inc()
}

func (r *Recorder) ObserveRegistration(chain interfaces.ChainID, err error) {
	r.registrations.WithLabelValues(chain.String(), Result(err)).Inc()
}

func (r *Recorder) ObserveResolve(chain interfaces.ChainID, duration time.Duration, err error) {
	r.resolutions.WithLabelValues(chain.String(), Result(err)).Inc()
	r.resolveDuration.WithLabelValues(chain.String()).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a chain data cache hit or miss.
func (r *Recorder) ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.cacheLookups.WithLabelValues(outcome).Inc()
}

// Result maps an operation error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interfaces.ErrTransport):
		return "transport"
	case errors.Is(err, interfaces.ErrVerification):
		return "verification"
	case errors.Is(err, interfaces.ErrChainNotFound):
		return "chain_not_found"
	case errors.Is(err, interfaces.ErrTxReverted):
		return "reverted"
	case errors.Is(err, interfaces.ErrConfirmationTimeout):
		return "timeout"
	case errors.Is(err, interfaces.ErrInvalidNode),
		errors.Is(err, interfaces.ErrInvalidChainID),
		errors.Is(err, interfaces.ErrInvalidConfig):
		return "invalid"
	default:
		return "error"
	}
}
