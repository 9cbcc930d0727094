package datachannel

import (
	"io"
	"net"
	"time"

	"github.com/lanikai/roomrtc/internal/demux"
)

// netConn adapts a demuxed stream of SCTP datagrams plus a shared UDP
// socket into a net.Conn, which is what pion/sctp's Association expects
// to read and write on. spec.md §4.8 runs SCTP over the same UDP socket
// used for everything else, after the demultiplexer has already pulled
// out the SCTP-classified packets — so Read drains demux's SCTP channel
// instead of the socket directly, while Write goes straight to the
// socket addressed at the remote peer.
type netConn struct {
	socket *net.UDPConn
	remote *net.UDPAddr
	in     <-chan demux.Packet

	pending []byte
}

func newNetConn(socket *net.UDPConn, remote *net.UDPAddr, in <-chan demux.Packet) *netConn {
	return &netConn{socket: socket, remote: remote, in: in}
}

func (c *netConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		pkt, ok := <-c.in
		if !ok {
			return 0, io.EOF
		}
		c.pending = pkt.Data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *netConn) Write(p []byte) (int, error) {
	return c.socket.WriteToUDP(p, c.remote)
}

func (c *netConn) Close() error                      { return nil } // socket outlives the SCTP association
func (c *netConn) LocalAddr() net.Addr               { return c.socket.LocalAddr() }
func (c *netConn) RemoteAddr() net.Addr              { return c.remote }
func (c *netConn) SetDeadline(t time.Time) error     { return nil }
func (c *netConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *netConn) SetWriteDeadline(t time.Time) error { return nil }
