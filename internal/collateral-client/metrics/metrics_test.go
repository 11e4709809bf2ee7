package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NotPanics(t, func() { c.MustRegister(reg) })

	c.Submitted("open")
	c.Submitted("open")
	c.Outcome("open", "success", time.Now().Add(-time.Second))
	c.Epoch(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.TxSubmitted.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TxOutcome.WithLabelValues("open", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SessionEpoch))
}

func TestNilCollectorsAreNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.Submitted("x")
		c.Outcome("x", "error", time.Time{})
		c.ReadFailed("loans")
		c.Request("/", "200")
		c.Epoch(1)
	})
}
