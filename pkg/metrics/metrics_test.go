package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestDomainMetricsExportCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDomain(reg)
	m.IncClaim(ClaimClaimed)
	m.IncClaim(ClaimConflict)
	m.IncClaim(ClaimConflict)
	m.IncResponse(ResponseConfirmed)
	m.IncModeration("USER_BLOCKED")
	m.IncTransition("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "rxd_rider_claims_total", "outcome", ClaimConflict); err != nil {
		t.Fatalf("fetch claims: %v", err)
	} else if got != 2 {
		t.Fatalf("expected conflict=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "rxd_pharmacy_responses_total", "outcome", ResponseConfirmed); err != nil || got != 1 {
		t.Fatalf("expected confirmed=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "rxd_moderation_actions_total", "action", "USER_BLOCKED"); err != nil || got != 1 {
		t.Fatalf("expected USER_BLOCKED=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "rxd_prescription_transitions_total", "to", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unknown label=1, got %f (%v)", got, err)
	}
}

func TestOutboxMetricsExportHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutbox(reg)
	m.ObserveBatch(250 * time.Millisecond)
	m.AddOutcome(OutboxPublished, 1)
	m.AddOutcome(OutboxRetried, 2)
	m.AddOutcome(OutboxDeadLettered, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "rxd_outbox_batch_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected outbox batch duration to be recorded")
	}
	if got, err := fetchCounterValue(mfs, "rxd_outbox_events_total", "outcome", OutboxRetried); err != nil || got != 2 {
		t.Fatalf("expected retried=2, got %f (%v)", got, err)
	}
}

func TestCronMetricsSplitResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCron(reg)
	m.IncSuccess("outbox-retention")
	m.IncFailure("outbox-retention")
	m.IncFailure("outbox-retention")
	m.ObserveDuration("outbox-retention", time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "rxd_cron_job_runs_total", "result", "failure"); err != nil || got != 2 {
		t.Fatalf("expected failure=2, got %f (%v)", got, err)
	}
	if findMetricFamily(mfs, "rxd_cron_job_duration_seconds") == nil {
		t.Fatalf("expected cron duration histogram")
	}
}

func TestNilRecordersAreNoops(t *testing.T) {
	var d *Domain
	d.IncClaim(ClaimClaimed)
	var r *Realtime
	r.IncDropped()
	r.AddSubscribers(1)
	var o *Outbox
	o.ObserveBatch(time.Second)
	o.AddOutcome(OutboxPublished, 1)

	var c *Cron
	c.IncFailure("outbox-retention")

	unregistered := NewRealtime(nil)
	unregistered.IncDelivered()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
