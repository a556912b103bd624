package gossip_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/gateway/gossip"
)

func newGateway(t *testing.T, peers ...string) *gossip.Gateway {
	t.Helper()
	g, err := gossip.New(context.Background(), gossip.Config{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Peers:       peers,
	}, gossip.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown() })
	return g
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, "sensors", gossip.TopicOf("gossip://sensors"))
	assert.Equal(t, "sensors", gossip.TopicOf("sensors"))
}

func TestOnlyPubSubPatterns(t *testing.T) {
	g := newGateway(t)
	for _, p := range []api.Pattern{api.Requester, api.Replier, api.Pusher, api.Puller} {
		_, err := g.Create(api.NewEndpointSpec(p, "gossip://jobs"))
		assert.ErrorIs(t, err, api.ErrNotSupported, p.String())
		assert.Equal(t, api.StatusErrSocket, api.StatusOf(err))
	}
}

func TestLocalPublishReachesLocalSubscriber(t *testing.T) {
	g := newGateway(t)
	pub, err := g.Create(api.NewEndpointSpec(api.Publisher, "gossip://sensors"))
	require.NoError(t, err)
	sub, err := g.Create(api.NewEndpointSpec(api.Subscriber, "gossip://sensors"))
	require.NoError(t, err)

	require.NoError(t, g.Send(pub, []byte("25.3")))

	ready, err := g.Poll(sub, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ready)
	buf := make([]byte, 16)
	n, err := g.Receive(sub, buf)
	require.NoError(t, err)
	assert.Equal(t, "25.3", string(buf[:n]))

	_, err = g.Receive(pub, buf)
	assert.ErrorIs(t, err, api.ErrNotSupported)
	assert.ErrorIs(t, g.Send(sub, []byte("x")), api.ErrNotSupported)
}

func TestSubscriberTopicOverridesAddress(t *testing.T) {
	g := newGateway(t)
	pub, err := g.Create(api.NewEndpointSpec(api.Publisher, "gossip://feed"))
	require.NoError(t, err)
	sub, err := g.Create(api.NewEndpointSpec(api.Subscriber, "gossip://feed", api.WithTopic("alerts")))
	require.NoError(t, err)

	require.NoError(t, g.Publish(pub, "alerts", []byte("fire")))

	ready, err := g.Poll(sub, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ready)
}

func TestTwoHosts(t *testing.T) {
	a := newGateway(t)
	b := newGateway(t, a.Addrs()...)
	require.Eventually(t, func() bool { return len(b.Peers()) > 0 }, 5*time.Second, 10*time.Millisecond)

	sub, err := a.Create(api.NewEndpointSpec(api.Subscriber, "gossip://sensors"))
	require.NoError(t, err)
	pub, err := b.Create(api.NewEndpointSpec(api.Publisher, "gossip://sensors"))
	require.NoError(t, err)

	// The mesh forms on the gossipsub heartbeat; keep publishing until it does.
	require.Eventually(t, func() bool {
		if err := b.Send(pub, []byte("hello")); err != nil {
			return false
		}
		ready, err := a.Poll(sub, 100*time.Millisecond)
		return err == nil && ready
	}, 15*time.Second, 50*time.Millisecond)
}

func TestCloseAndShutdown(t *testing.T) {
	g := newGateway(t)
	sub, err := g.Create(api.NewEndpointSpec(api.Subscriber, "gossip://x"))
	require.NoError(t, err)
	require.NoError(t, g.Close(sub))
	assert.ErrorIs(t, g.Close(sub), api.ErrInvalidHandle)

	assert.NoError(t, g.Shutdown())
	_, err = g.Create(api.NewEndpointSpec(api.Subscriber, "gossip://x"))
	assert.ErrorIs(t, err, api.ErrGatewayClosed)
}
