package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			return metric
		}
	}
	return nil
}

func TestRunRecordsOutcomeAndLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	clock := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	require.NoError(t, m.Track("reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("reconcile").End(boom), boom)

	ok := find(t, reg, "budgetguard_jobs_total", map[string]string{"job": "reconcile", "status": "success"})
	require.NotNil(t, ok)
	assert.Equal(t, 1.0, ok.GetCounter().GetValue())
	failed := find(t, reg, "budgetguard_jobs_total", map[string]string{"job": "reconcile", "status": "failure"})
	require.NotNil(t, failed)
	assert.Equal(t, 1.0, failed.GetCounter().GetValue())

	last := find(t, reg, "budgetguard_job_last_success_timestamp_seconds", map[string]string{"job": "reconcile"})
	require.NotNil(t, last)
	assert.Equal(t, float64(clock.Unix()), last.GetGauge().GetValue())
}

func TestFailedRunLeavesLastSuccessUnset(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("idempotency_cleanup").End(errors.New("db down"))
	assert.Nil(t, find(t, reg, "budgetguard_job_last_success_timestamp_seconds", map[string]string{"job": "idempotency_cleanup"}))
}

func TestSetBreachesReflectsLatestScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetBreaches("execution", 3)
	m.SetBreaches("execution", 0)
	gauge := find(t, reg, "budgetguard_reconcile_open_breaches", map[string]string{"kind": "execution"})
	require.NotNil(t, gauge)
	assert.Zero(t, gauge.GetGauge().GetValue())
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	m.SetBreaches("consumption", 1)
	assert.NoError(t, m.Track("reconcile").End(nil))
}
