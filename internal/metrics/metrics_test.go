package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.Wake("posted")
	m.Publish(time.Second, nil)
	m.LogAppendError("wake")
	m.Webhook("ok")
	m.Reply(errors.New("x"))
	m.SetupAttempt(nil)
	m.SetRunning(true)
	m.LogsPruned(3)
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New()

	m.Wake("posted")
	m.Wake("posted")
	m.Wake("not_due")
	m.SetRunning(true)
	m.Webhook("duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WakeCount("posted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WakeCount("not_due")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunningGauge()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookCount("duplicate")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["wakebot_wake_total"])
	assert.True(t, names["wakebot_bot_running"])
}
