package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordingIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Invocation("echo", "success", "user", 50*time.Millisecond)
	m.Invocation("echo", "success", "user", 30*time.Millisecond)
	m.Rejection("RATE_LIMITED")
	m.TaskCreated("echo", "normal")
	m.TaskFinished("echo", "completed", time.Second)
	m.Timeout("echo")
	m.QueueDepth("normal", 1)
	m.QueueDepth("normal", -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invocations.WithLabelValues("echo", "success", "user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("RATE_LIMITED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts.WithLabelValues("echo")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("normal")))
}

func TestNilSinkIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Invocation("x", "success", "user", time.Millisecond)
		m.Timeout("x")
		m.Rejection("PERMISSION_DENIED")
		m.TaskCreated("x", "high")
		m.TaskFinished("x", "failed", time.Second)
		m.QueueDepth("high", 1)
		m.CapabilitiesLoaded(3)
	})
}

func TestIsolatedRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.Rejection("PAYLOAD_TOO_LARGE")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.rejections.WithLabelValues("PAYLOAD_TOO_LARGE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rejections.WithLabelValues("PAYLOAD_TOO_LARGE")))
}
