package simnet

import (
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/mainline/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryAndLog(t *testing.T) {
	n := NewNetwork()
	a := n.NewEndpoint()
	b := n.NewEndpoint()
	require.NotEqual(t, a.LocalAddr(), b.LocalAddr())

	require.NoError(t, a.Send([]byte("hello"), b.LocalAddr()))

	buf := make([]byte, 64)
	size, from, err := b.Receive(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:size]))
	assert.Equal(t, a.LocalAddr(), from)

	sent := n.SentFrom(a.LocalAddr())
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Delivered)
}

func TestUnreachableAndDropped(t *testing.T) {
	n := NewNetwork()
	a := n.NewEndpoint()
	b := n.NewEndpoint()

	require.NoError(t, a.Send([]byte("x"), netip.MustParseAddrPort("192.0.2.1:6881")))

	n.SetDropAll(true)
	require.NoError(t, a.Send([]byte("y"), b.LocalAddr()))
	n.SetDropAll(false)

	n.SetFilter(func(d Datagram) bool { return string(d.Data) != "z" })
	require.NoError(t, a.Send([]byte("z"), b.LocalAddr()))

	_, _, err := b.Receive(make([]byte, 8), 10*time.Millisecond)
	assert.True(t, transport.IsTimeout(err))

	for _, d := range n.Sent() {
		assert.False(t, d.Delivered, "datagram %q", d.Data)
	}
	assert.Len(t, n.Sent(), 3)
}

func TestListenConflictAndClose(t *testing.T) {
	n := NewNetwork()
	addr := netip.MustParseAddrPort("10.9.9.9:6881")
	a, err := n.Listen(addr)
	require.NoError(t, err)

	_, err = n.Listen(addr)
	assert.ErrorIs(t, err, ErrAddrInUse)

	require.NoError(t, a.Close())
	_, _, err = a.Receive(make([]byte, 8), time.Second)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, a.Send([]byte("x"), addr), transport.ErrClosed)

	_, err = n.Listen(addr)
	assert.NoError(t, err)
}

func TestServe(t *testing.T) {
	n := NewNetwork()
	client := n.NewEndpoint()
	server := n.NewEndpoint()

	done := make(chan struct{})
	defer close(done)
	go server.Serve(done, func(data []byte, _ netip.AddrPort) []byte {
		return append([]byte("echo:"), data...)
	})

	require.NoError(t, client.Send([]byte("ping"), server.LocalAddr()))
	buf := make([]byte, 64)
	size, from, err := client.Receive(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(buf[:size]))
	assert.Equal(t, server.LocalAddr(), from)
}
