package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saddammed/Saddam48/internal/eventbus"
	"github.com/Saddammed/Saddam48/internal/metrics"
	"github.com/Saddammed/Saddam48/internal/storage"
)

func fill(t *testing.T, st storage.LogSink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := st.AppendLog(context.Background(), storage.LogEntry{Message: fmt.Sprintf("m%d", i), Direction: storage.Outbound})
		require.NoError(t, err)
	}
}

func TestRunOnce_KeepsNewest(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	fill(t, st, 12)
	m := metrics.New()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(2)
	defer unsub()

	j := New(st, Config{Enabled: true, Keep: 5}, WithMetrics(m), WithEventBus(bus))
	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	left, err := st.RecentLogs(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, left, 5)
	assert.Equal(t, "m11", left[0].Message)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.LogsPrunedCounter()))
	assert.Equal(t, eventbus.TypeLogsPruned, (<-events).Type)

	n, err = j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_FiresOnSchedule(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	fill(t, st, 4)
	j := New(st, Config{Enabled: true, Keep: 1, Schedule: "@every 1s"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool {
		left, _ := st.RecentLogs(context.Background(), 100)
		return len(left) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestApply_RejectsBadSchedule(t *testing.T) {
	t.Parallel()
	j := New(storage.NewMemory(), Config{Enabled: true})
	assert.Error(t, j.Apply(Config{Enabled: true, Schedule: "every tuesday"}))
	assert.NoError(t, j.Apply(Config{Enabled: true, Schedule: "0 3 * * *"}))
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"@hourly", "@every 90m", "0 */6 * * *", "30 0 3 * * *"} {
		assert.NoError(t, ValidateSchedule(ok), ok)
	}
	for _, bad := range []string{"", "nope", "61 * * * *"} {
		assert.Error(t, ValidateSchedule(bad), bad)
	}
}
