package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := New("test")
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	c.ObserveBurst(OutcomeSuccess, "burst", time.Millisecond)
	c.ObserveBurst(OutcomeAborted, "burst", time.Millisecond)
	c.ObserveBurst(OutcomeSuccess, "burst", time.Millisecond)
	c.ObserveItem("permit", OutcomeTolerated)
	c.ObserveDispatch("remote")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.bursts.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bursts.WithLabelValues(OutcomeAborted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.items.WithLabelValues("permit", OutcomeTolerated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bridgeDispatch.WithLabelValues("remote")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.burstDuration))
}

func TestCollector_DoubleRegisterFails(t *testing.T) {
	c := New("")
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))
	assert.Error(t, c.Register(reg))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveBurst(OutcomeSuccess, "burst", time.Second)
		c.ObserveItem("vault", OutcomeSuccess)
		c.ObserveDispatch("local")
	})
}
