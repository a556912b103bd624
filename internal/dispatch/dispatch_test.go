package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/fake"
	"github.com/momentics/hioload-mq/internal/dispatch"
	"github.com/momentics/hioload-mq/internal/registry"
	"github.com/momentics/hioload-mq/internal/router"
	"github.com/momentics/hioload-mq/pool"
)

type harness struct {
	scratchMu sync.Mutex

	gw      *fake.Gateway
	reg     *registry.Registry
	router  *router.Router
	scratch *pool.Scratch
	loop    *dispatch.Loop
	metrics *control.Metrics
	promReg *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{gw: fake.NewGateway(), promReg: prometheus.NewRegistry()}
	h.metrics = control.NewMetrics(h.promReg)
	h.reg = registry.New(h.gw, log)
	h.router = router.New(log, h.metrics)
	var err error
	h.scratch, err = pool.NewScratch(0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.scratch.Close() })
	h.loop = dispatch.NewLoop(h.reg, h.gw, h.scratch, &h.scratchMu, h.router, log, h.metrics)
	return h
}

func (h *harness) add(t *testing.T, name string) api.Handle {
	t.Helper()
	require.NoError(t, h.reg.Register(name, api.NewEndpointSpec(api.Puller, "inproc://"+name)))
	ep, ok := h.reg.Lookup(name)
	require.True(t, ok)
	return ep.Handle
}

type delivery struct {
	name string
	data string
}

func (h *harness) record() *[]delivery {
	var got []delivery
	h.router.OnBinary(func(name string, data []byte) error {
		got = append(got, delivery{name, string(data)})
		return nil
	})
	return &got
}

func TestLoop_AtMostOnePerEndpointPerTick(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	b := h.add(t, "b")
	h.gw.Enqueue(a, []byte("a1"), []byte("a2"), []byte("a3"))
	h.gw.Enqueue(b, []byte("b1"))
	got := h.record()

	assert.Equal(t, 2, h.loop.Tick())
	assert.Equal(t, []delivery{{"a", "a1"}, {"b", "b1"}}, *got)

	assert.Equal(t, 1, h.loop.Tick())
	assert.Equal(t, 1, h.loop.Tick())
	assert.Equal(t, 0, h.loop.Tick())
	assert.Equal(t, []delivery{{"a", "a1"}, {"b", "b1"}, {"a", "a2"}, {"a", "a3"}}, *got)
}

func TestLoop_ScratchLockIsReleasedBeforeDelivery(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	h.gw.Enqueue(a, []byte("x"))

	var heldDuringDelivery bool
	h.router.OnBinary(func(string, []byte) error {
		if h.scratchMu.TryLock() {
			h.scratchMu.Unlock()
		} else {
			heldDuringDelivery = true
		}
		return nil
	})

	require.Equal(t, 1, h.loop.Tick())
	assert.False(t, heldDuringDelivery)
}

func TestLoop_EmptyRegistryIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0, h.loop.Tick())
	assert.Equal(t, 0, h.gw.Polls())
}

func TestLoop_IdleEndpointIsNotReceived(t *testing.T) {
	h := newHarness(t)
	h.add(t, "idle")
	assert.Equal(t, 0, h.loop.Tick())
	assert.Equal(t, 1, h.gw.Polls())
	assert.Equal(t, 0, h.gw.Receives())
}

func TestLoop_RaceBetweenPollAndReceiveIsSilent(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	h.gw.InjectRace(a)
	got := h.record()

	var errs int
	h.router.OnError(func(string, error) { errs++ })

	assert.Equal(t, 0, h.loop.Tick())
	assert.Empty(t, *got)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, h.gw.Receives())
}

func TestLoop_ReceiveErrorIsRoutedAndOthersStillDrain(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	b := h.add(t, "b")
	h.gw.FailReceive(a, errors.New("Resource temporarily unavailable"))
	h.gw.Enqueue(b, []byte("ok"))
	got := h.record()

	var errName string
	var errVal error
	h.router.OnError(func(name string, err error) { errName, errVal = name, err })

	assert.Equal(t, 1, h.loop.Tick())
	assert.Equal(t, []delivery{{"b", "ok"}}, *got)
	assert.Equal(t, "a", errName)
	assert.ErrorIs(t, errVal, api.ErrReceiveFailed)
	assert.Equal(t, api.StatusErrReceive, api.StatusOf(errVal))

	expected := `
# HELP hioload_mq_receive_failures_total Poll or receive failures reported by the gateway.
# TYPE hioload_mq_receive_failures_total counter
hioload_mq_receive_failures_total{socket="a"} 1
`
	require.NoError(t, testutil.GatherAndCompare(h.promReg, strings.NewReader(expected), "hioload_mq_receive_failures_total"))
}

func TestLoop_PollErrorIsRouted(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	h.gw.FailPoll(a, errors.New("context terminated"))

	var errs int
	h.router.OnError(func(string, error) { errs++ })

	assert.Equal(t, 0, h.loop.Tick())
	assert.Equal(t, 1, errs)
}

func TestLoop_ClosedHandleIsSkipped(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	require.NoError(t, h.gw.Close(a))

	var errs int
	h.router.OnError(func(string, error) { errs++ })

	assert.Equal(t, 0, h.loop.Tick())
	assert.Equal(t, 0, errs)
}

func TestLoop_DeliveredBytesDoNotAliasScratch(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	h.gw.Enqueue(a, []byte("first"), []byte("SECOND"))

	var kept [][]byte
	h.router.OnBinary(func(_ string, data []byte) error {
		kept = append(kept, data)
		return nil
	})

	h.loop.Tick()
	h.loop.Tick()
	require.Len(t, kept, 2)
	assert.Equal(t, "first", string(kept[0]))
	assert.Equal(t, "SECOND", string(kept[1]))
}

func TestLoop_EmptyPayloadIsDelivered(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	h.gw.Enqueue(a, []byte{})

	var text []string
	h.router.OnText(func(_ string, s string) error {
		text = append(text, s)
		return nil
	})

	assert.Equal(t, 1, h.loop.Tick())
	assert.Equal(t, []string{""}, text)
}

func TestLoop_OversizedMessageIsTruncated(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	big := make([]byte, pool.DefaultBinarySize+100)
	for i := range big {
		big[i] = 'x'
	}
	h.gw.Enqueue(a, big)

	var size int
	h.router.OnBinary(func(_ string, data []byte) error {
		size = len(data)
		return nil
	})

	h.loop.Tick()
	assert.Equal(t, pool.DefaultBinarySize, size)
}

func TestDriver_TicksOnClock(t *testing.T) {
	mock := clock.NewMock()
	var ticks atomic.Int64
	d := dispatch.NewDriver(func() int { ticks.Add(1); return 0 }, 10*time.Millisecond, mock, zaptest.NewLogger(t))

	assert.False(t, d.Running())
	d.Start(context.Background())
	d.Start(context.Background())
	assert.True(t, d.Running())

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Millisecond)
		return ticks.Load() >= 3
	}, time.Second, time.Millisecond)

	d.Stop()
	d.Stop()
	assert.False(t, d.Running())

	stopped := ticks.Load()
	mock.Add(100 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())
}

func TestDriver_StopsWithContext(t *testing.T) {
	mock := clock.NewMock()
	d := dispatch.NewDriver(func() int { return 0 }, 0, mock, nil)
	assert.Equal(t, dispatch.DefaultInterval, d.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !d.Running() }, time.Second, time.Millisecond)
	d.Stop()

	// Restartable after a context stop.
	d.Start(context.Background())
	assert.True(t, d.Running())
	d.Stop()
}

func TestDriver_StopFromInsideTickReturns(t *testing.T) {
	mock := clock.NewMock()
	var (
		d    *dispatch.Driver
		once sync.Once
	)
	stopped := make(chan struct{})
	d = dispatch.NewDriver(func() int {
		d.Stop()
		once.Do(func() { close(stopped) })
		return 0
	}, 10*time.Millisecond, mock, zaptest.NewLogger(t))
	d.Start(context.Background())

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Millisecond)
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	assert.False(t, d.Running())

	// The driver restarts and stops normally afterwards.
	d.Start(context.Background())
	assert.True(t, d.Running())
}
