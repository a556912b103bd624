package registry_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/fake"
	"github.com/momentics/hioload-mq/internal/registry"
)

func newRegistry(t *testing.T) (*registry.Registry, *fake.Gateway) {
	gw := fake.NewGateway()
	return registry.New(gw, zaptest.NewLogger(t)), gw
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r, gw := newRegistry(t)

	spec := api.NewEndpointSpec(api.Publisher, "tcp://*:5555")
	require.NoError(t, r.Register("pub1", spec))

	ep, ok := r.Lookup("pub1")
	require.True(t, ok)
	assert.Equal(t, "pub1", ep.Name)
	assert.Equal(t, api.Publisher, ep.Pattern())
	assert.True(t, gw.IsOpen(ep.Handle))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_LatestRegistrationWins(t *testing.T) {
	r, gw := newRegistry(t)

	patterns := []api.Pattern{api.Requester, api.Pusher, api.Subscriber, api.Requester}
	var handles []api.Handle
	for _, p := range patterns {
		require.NoError(t, r.Register("req1", api.NewEndpointSpec(p, "tcp://localhost:5556")))
		ep, ok := r.Lookup("req1")
		require.True(t, ok)
		assert.Equal(t, p, ep.Pattern())
		handles = append(handles, ep.Handle)
	}

	// Every replaced handle was closed exactly once; the live one never.
	for _, h := range handles[:len(handles)-1] {
		assert.Equal(t, 1, gw.Closes(h))
		assert.False(t, gw.IsOpen(h))
	}
	last := handles[len(handles)-1]
	assert.Equal(t, 0, gw.Closes(last))
	assert.True(t, gw.IsOpen(last))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CloseFailureDoesNotBlockReplacement(t *testing.T) {
	r, gw := newRegistry(t)

	require.NoError(t, r.Register("a", api.NewEndpointSpec(api.Puller, "inproc://a")))
	old, _ := r.Lookup("a")

	gw.FailClose(errors.New("linger timeout"))
	require.NoError(t, r.Register("a", api.NewEndpointSpec(api.Puller, "inproc://a")))

	cur, ok := r.Lookup("a")
	require.True(t, ok)
	assert.NotEqual(t, old.Handle, cur.Handle)
	assert.Equal(t, 1, gw.Closes(old.Handle))
}

func TestRegistry_CreationFailureLeavesNameUnregistered(t *testing.T) {
	r, gw := newRegistry(t)

	require.NoError(t, r.Register("sub", api.NewEndpointSpec(api.Subscriber, "tcp://localhost:1")))
	old, _ := r.Lookup("sub")

	gw.FailCreate(api.Replier, errors.New("Address already in use"))
	err := r.Register("sub", api.NewEndpointSpec(api.Replier, "tcp://*:1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrCreationFailed)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.Replier, apiErr.Pattern)
	assert.Contains(t, apiErr.Detail, "Address already in use")

	_, ok := r.Lookup("sub")
	assert.False(t, ok, "failed re-registration must not keep the old entry")
	assert.Equal(t, 1, gw.Closes(old.Handle))
}

func TestRegistry_RejectsInvalidInput(t *testing.T) {
	r, gw := newRegistry(t)

	err := r.Register("", api.NewEndpointSpec(api.Publisher, "x"))
	assert.Equal(t, api.CodeInvalidArgument, api.CodeOf(err))

	err = r.Register("bad", api.EndpointSpec{Pattern: api.Pattern(42)})
	assert.Equal(t, api.CodeInvalidArgument, api.CodeOf(err))
	assert.Empty(t, gw.Creates())
}

func TestRegistry_Unregister(t *testing.T) {
	r, gw := newRegistry(t)

	require.NoError(t, r.Register("push", api.NewEndpointSpec(api.Pusher, "tcp://localhost:5557")))
	ep, _ := r.Lookup("push")

	r.Unregister("push")
	_, ok := r.Lookup("push")
	assert.False(t, ok)
	assert.Equal(t, 1, gw.Closes(ep.Handle))

	// Absent names are a no-op.
	r.Unregister("push")
	r.Unregister("never")
	assert.Equal(t, 1, gw.Closes(ep.Handle))
}

func TestRegistry_SnapshotIsSorted(t *testing.T) {
	r, _ := newRegistry(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, api.NewEndpointSpec(api.Puller, "inproc://"+name)))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alpha", snap[0].Name)
	assert.Equal(t, "mid", snap[1].Name)
	assert.Equal(t, "zeta", snap[2].Name)
}

func TestRegistry_TeardownBestEffort(t *testing.T) {
	r, gw := newRegistry(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(name, api.NewEndpointSpec(api.Puller, "inproc://"+name)))
	}
	snap := r.Snapshot()

	gw.FailClose(errors.New("boom"))
	err := r.Teardown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	for _, ep := range snap {
		assert.Equal(t, 1, gw.Closes(ep.Handle), "every handle is closed even when one fails")
	}
	assert.Equal(t, 0, r.Len())

	// Idempotent.
	require.NoError(t, r.Teardown())
}

// gatedGateway holds Create for one address until gate is closed.
type gatedGateway struct {
	*fake.Gateway
	address string
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedGateway) Create(spec api.EndpointSpec) (api.Handle, error) {
	if spec.Address == g.address {
		g.once.Do(func() { close(g.entered) })
		<-g.gate
	}
	return g.Gateway.Create(spec)
}

func TestRegistry_SlowCreateDoesNotStallSnapshot(t *testing.T) {
	gw := &gatedGateway{
		Gateway: fake.NewGateway(),
		address: "tcp://slow:1",
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	r := registry.New(gw, zaptest.NewLogger(t))
	require.NoError(t, r.Register("fast", api.NewEndpointSpec(api.Puller, "inproc://fast")))

	registered := make(chan error, 1)
	go func() { registered <- r.Register("slow", api.NewEndpointSpec(api.Puller, "tcp://slow:1")) }()
	<-gw.entered

	snap := make(chan []api.Endpoint, 1)
	go func() { snap <- r.Snapshot() }()
	select {
	case eps := <-snap:
		require.Len(t, eps, 1)
		assert.Equal(t, "fast", eps[0].Name)
	case <-time.After(time.Second):
		t.Fatal("Snapshot waited on a pending create")
	}
	_, ok := r.Lookup("slow")
	assert.False(t, ok)

	close(gw.gate)
	require.NoError(t, <-registered)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentReplaceClosesEachHandleOnce(t *testing.T) {
	r, gw := newRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Register("req1", api.NewEndpointSpec(api.Requester, "tcp://localhost:5556")))
		}()
	}
	wg.Wait()

	ep, ok := r.Lookup("req1")
	require.True(t, ok)
	creates := gw.Creates()
	require.Len(t, creates, 8)

	open := 0
	for h := api.Handle(1); h <= 8; h++ {
		if gw.IsOpen(h) {
			open++
			assert.Equal(t, ep.Handle, h)
			continue
		}
		assert.Equal(t, 1, gw.Closes(h))
	}
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, r.Len())
}
