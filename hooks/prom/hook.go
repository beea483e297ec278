// Package promhook exports cache events as Prometheus metrics. Keys are
// deliberately never used as labels; per-key cardinality would blow up the
// series space.
//
// usage:
//
//	hooks := promhook.New("myapp")
//	if err := hooks.Register(prometheus.DefaultRegisterer); err != nil { ... }
//
//	cache, _ := tiercache.New[User](tiercache.Options[User]{Hooks: hooks})
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/tier"
)

type Hooks struct {
	tierUp      *prometheus.GaugeVec
	hits        *prometheus.CounterVec
	misses      prometheus.Counter
	promotions  *prometheus.CounterVec
	putRejected *prometheus.CounterVec
	selfHeals   *prometheus.CounterVec
	tierErrors  *prometheus.CounterVec
	swept       prometheus.Counter
}

var _ tiercache.Hooks = (*Hooks)(nil)

// New builds the metric set under the given namespace ("" => "tiercache").
// Nothing is registered yet; call Register.
func New(namespace string) *Hooks {
	ns := namespace
	if ns == "" {
		ns = "tiercache"
	}
	return &Hooks{
		tierUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "tier_up",
			Help:      "Discovery outcome per tier: 1 admitted, 0 failed the probe.",
		}, []string{"tier"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "hits_total",
			Help:      "Reads served, by serving tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "misses_total",
			Help:      "Reads that missed every tier.",
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "promotions_total",
			Help:      "Hits copied into a faster tier.",
		}, []string{"from", "to"}),
		putRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "put_rejected_total",
			Help:      "Writes a tier declined without a hard error.",
		}, []string{"tier"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "self_heals_total",
			Help:      "Entries deleted by the cache on read.",
		}, []string{"tier", "reason"}),
		tierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tier_errors_total",
			Help:      "Tier operations that failed at runtime.",
		}, []string{"tier", "op"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "swept_entries_total",
			Help:      "Dead entries removed by cleanup passes.",
		}),
	}
}

// Register registers every metric with reg. Call it once at startup; a
// name collision (double registration) comes back as an error.
func (h *Hooks) Register(reg prometheus.Registerer) error {
	cs := []prometheus.Collector{
		h.tierUp, h.hits, h.misses, h.promotions,
		h.putRejected, h.selfHeals, h.tierErrors, h.swept,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) TierProbed(id tier.ID, err error) {
	up := 0.0
	if err == nil {
		up = 1.0
	}
	h.tierUp.WithLabelValues(string(id)).Set(up)
}

func (h *Hooks) Hit(_ string, id tier.ID) { h.hits.WithLabelValues(string(id)).Inc() }
func (h *Hooks) Miss(string)              { h.misses.Inc() }

func (h *Hooks) Promoted(_ string, from, to tier.ID) {
	h.promotions.WithLabelValues(string(from), string(to)).Inc()
}

func (h *Hooks) PutRejected(_ string, id tier.ID) {
	h.putRejected.WithLabelValues(string(id)).Inc()
}

func (h *Hooks) SelfHeal(_ string, id tier.ID, reason string) {
	h.selfHeals.WithLabelValues(string(id), reason).Inc()
}

func (h *Hooks) TierError(id tier.ID, op string, _ error) {
	h.tierErrors.WithLabelValues(string(id), op).Inc()
}

func (h *Hooks) Swept(removed int) { h.swept.Add(float64(removed)) }
