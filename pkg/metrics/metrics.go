package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rxd"

// Claim outcomes.
const (
	ClaimClaimed  = "claimed"
	ClaimConflict = "conflict"
	ClaimNotFound = "not_found"
)

// Response outcomes.
const (
	ResponseConfirmed = "confirmed"
	ResponseNoStock   = "no_stock"
	ResponseLate      = "late_confirmation"
	ResponseDeduped   = "deduped"
	ResponseRefused   = "refused_duplicate"
)

// Domain records the business counters of the service. A nil *Domain is a
// valid no-op recorder.
type Domain struct {
	claims      *prometheus.CounterVec
	responses   *prometheus.CounterVec
	moderation  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewDomain registers the domain metrics on the provided registerer.
func NewDomain(reg prometheus.Registerer) *Domain {
	if reg == nil {
		return &Domain{}
	}
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rider_claims_total",
		Help:      "Rider claim attempts by outcome.",
	}, []string{"outcome"})
	responses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pharmacy_responses_total",
		Help:      "Pharmacy responses by outcome.",
	}, []string{"outcome"})
	moderation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_actions_total",
		Help:      "Admin moderation actions by audit action.",
	}, []string{"action"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prescription_transitions_total",
		Help:      "Prescription status transitions by target status.",
	}, []string{"to"})
	reg.MustRegister(claims, responses, moderation, transitions)
	return &Domain{
		claims:      claims,
		responses:   responses,
		moderation:  moderation,
		transitions: transitions,
	}
}

func (d *Domain) IncClaim(outcome string) {
	if d == nil || d.claims == nil {
		return
	}
	d.claims.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (d *Domain) IncResponse(outcome string) {
	if d == nil || d.responses == nil {
		return
	}
	d.responses.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (d *Domain) IncModeration(action string) {
	if d == nil || d.moderation == nil {
		return
	}
	d.moderation.WithLabelValues(normalizeLabel(action)).Inc()
}

func (d *Domain) IncTransition(to string) {
	if d == nil || d.transitions == nil {
		return
	}
	d.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}

// Realtime tracks the change feed.
type Realtime struct {
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
	delivered   prometheus.Counter
}

func NewRealtime(reg prometheus.Registerer) *Realtime {
	if reg == nil {
		return &Realtime{}
	}
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_events_total",
		Help:      "Change events dropped because a subscriber buffer was full.",
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_subscriptions",
		Help:      "Open change feed subscriptions.",
	})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_delivered_events_total",
		Help:      "Change events handed to subscribers.",
	})
	reg.MustRegister(dropped, subscribers, delivered)
	return &Realtime{dropped: dropped, subscribers: subscribers, delivered: delivered}
}

func (r *Realtime) IncDropped() {
	if r == nil || r.dropped == nil {
		return
	}
	r.dropped.Inc()
}

func (r *Realtime) IncDelivered() {
	if r == nil || r.delivered == nil {
		return
	}
	r.delivered.Inc()
}

func (r *Realtime) AddSubscribers(delta float64) {
	if r == nil || r.subscribers == nil {
		return
	}
	r.subscribers.Add(delta)
}

// Outbox outcomes for rxd_outbox_events_total.
const (
	OutboxPublished    = "published"
	OutboxDeduped      = "deduped"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// Outbox records relay batches and what happened to each event.
type Outbox struct {
	duration prometheus.Histogram
	events   *prometheus.CounterVec
}

func NewOutbox(reg prometheus.Registerer) *Outbox {
	if reg == nil {
		return &Outbox{}
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outbox_batch_duration_seconds",
		Help:      "Duration of outbox relay batches in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox events handled by the relay, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(duration, events)
	return &Outbox{duration: duration, events: events}
}

func (o *Outbox) ObserveBatch(d time.Duration) {
	if o == nil || o.duration == nil {
		return
	}
	o.duration.Observe(d.Seconds())
}

func (o *Outbox) AddOutcome(outcome string, n int) {
	if o == nil || o.events == nil || n <= 0 {
		return
	}
	o.events.WithLabelValues(outcome).Add(float64(n))
}

// Cron records maintenance job runs.
type Cron struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

func NewCron(reg prometheus.Registerer) *Cron {
	if reg == nil {
		return &Cron{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cron_job_duration_seconds",
		Help:      "Duration of cron job runs in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cron_job_runs_total",
		Help:      "Cron job runs by job and result.",
	}, []string{"job", "result"})
	reg.MustRegister(duration, runs)
	return &Cron{duration: duration, runs: runs}
}

func (c *Cron) ObserveDuration(job string, d time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func (c *Cron) IncSuccess(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), "success").Inc()
}

func (c *Cron) IncFailure(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), "failure").Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
