package control_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/control"
)

func TestMetrics_CountersAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg)

	m.Tick()
	m.Tick()
	m.Delivered("sub1")
	m.ReceiveFailed("sub1")
	m.ListenerFailed("text")
	m.DecodeSkipped()
	m.SetEndpoints(3)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	count, err := testutil.GatherAndCount(reg, "hioload_mq_ticks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *control.Metrics
	assert.NotPanics(t, func() {
		m.Tick()
		m.Delivered("x")
		m.ReceiveFailed("x")
		m.ListenerFailed("binary")
		m.DecodeSkipped()
		m.SetEndpoints(1)
	})
}

func TestDebugProbes_DumpState(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("endpoints", func() any { return 2 })
	dp.RegisterProbe("polling", func() any { return true })
	dp.RegisterProbe("endpoints", func() any { return 5 })

	state := dp.DumpState()
	assert.Equal(t, 5, state["endpoints"])
	assert.Equal(t, true, state["polling"])
	assert.Len(t, state, 2)
}

func TestConfigStore_NotifiesOnlyChanges(t *testing.T) {
	cs := control.NewConfigStore(map[string]any{"log.level": "info"})

	var got []map[string]any
	cs.OnReload(func(changed map[string]any) { got = append(got, changed) })

	changed := cs.SetConfig(map[string]any{"log.level": "info"})
	assert.Empty(t, changed)
	assert.Empty(t, got)

	changed = cs.SetConfig(map[string]any{"log.level": "debug", "extra": 1})
	assert.Equal(t, map[string]any{"log.level": "debug", "extra": 1}, changed)
	require.Len(t, got, 1)

	v, ok := cs.Get("log.level")
	require.True(t, ok)
	assert.Equal(t, "debug", v)

	snap := cs.GetSnapshot()
	snap["log.level"] = "mutated"
	v, _ = cs.Get("log.level")
	assert.Equal(t, "debug", v)
}

func TestRegisterPlatformProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)

	state := dp.DumpState()
	assert.Positive(t, state["platform.cpus"])
	assert.Positive(t, state["platform.pagesize"])
	assert.Contains(t, state, "platform.mmap_scratch")
}
