package transport_test

import (
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wavemesh/dgram/transport"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	wrap := func(errno syscall.Errno) error {
		return &net.OpError{
			Op:   "read",
			Net:  "udp",
			Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000},
			Err:  os.NewSyscallError("recvfrom", errno),
		}
	}

	assert.Equal(t, transport.ClassTooLarge, transport.Classify(wrap(unix.EMSGSIZE)))
	assert.Equal(t, transport.ClassPeerReset, transport.Classify(wrap(unix.ECONNRESET)))
	assert.Equal(t, transport.ClassPeerReset, transport.Classify(wrap(unix.ECONNREFUSED)))
	assert.Equal(t, transport.ClassPeerAborted, transport.Classify(wrap(unix.ECONNABORTED)))
	assert.Equal(t, transport.ClassOther, transport.Classify(wrap(unix.EINTR)))
	assert.Equal(t, transport.ClassOther, transport.Classify(nil))
	assert.Equal(t, transport.ClassOther, transport.Classify(assert.AnError))
}

func TestPeerAddr(t *testing.T) {
	t.Parallel()

	err := &net.OpError{
		Op:   "read",
		Net:  "udp",
		Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000},
		Err:  os.NewSyscallError("recvfrom", unix.ECONNRESET),
	}

	addr := transport.PeerAddr(err)
	require.NotNil(t, addr)
	assert.Equal(t, "10.0.0.2:5000", addr.String())

	assert.Nil(t, transport.PeerAddr(assert.AnError))
}

func TestListenRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, false)
	require.NoError(t, err)
	defer a.Close()

	b, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, false)
	require.NoError(t, err)
	defer b.Close()

	sent := []byte{0x7e, 0xa0, 0x2b}
	n, err := a.WriteTo(sent, b.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, len(sent), n)

	buf := make([]byte, 64)
	n, src, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, sent, buf[:n])
	assert.Equal(t, a.LocalAddr().Port, src.Port)
}

func TestListenReuseAddress(t *testing.T) {
	t.Parallel()

	a, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, true)
	require.NoError(t, err)
	defer a.Close()

	b, err := transport.Listen(a.LocalAddr(), true)
	require.NoError(t, err)
	b.Close()
}

func TestSetBroadcast(t *testing.T) {
	t.Parallel()

	sock, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, false)
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.SetBroadcast(true))
	require.NoError(t, sock.SetBroadcast(true)) // idempotent
	require.NoError(t, sock.SetBroadcast(false))
}

func TestCloseUnblocksRead(t *testing.T) {
	t.Parallel()

	sock, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, _, err := sock.ReadFrom(buf)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sock.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock on close")
	}
}
