package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)
	assert.Same(t, registry, m.Registry())

	_, err = New(registry)
	assert.Error(t, err, "registering the same collectors twice must fail")
}

func TestRecordResolution(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordResolution("matched", "slug")
	m.RecordResolution("matched", "slug")
	m.RecordResolution("ambiguous", "fuzzy-name")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("matched", "slug")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("ambiguous", "fuzzy-name")))
}

func TestRecordMergeAndGroups(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordMerge("merged")
	m.RecordMerge("skipped")
	m.SetDuplicateGroups(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.mergesTotal.WithLabelValues("merged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mergesTotal.WithLabelValues("skipped")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.duplicateGroups))
}

func TestRecordLookup(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordLookup("hit", 0.01)
	m.RecordLookup("miss", 0.2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.lookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.lookupDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordResolution("created", "")
		m.RecordProjection("inserted")
		m.RecordLookup("error", 1)
		m.RecordMerge("failed")
		m.SetDuplicateGroups(1)
		m.RecordVenueCandidate("noise")
		m.RecordRun("resolve", 1)
	})
	assert.Nil(t, m.Registry())
}
