package signaling

import (
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/xerrors"
)

// Client is a signaling connection to the server, delivering every
// parsed incoming Message on a channel for the call layer to consume.
//
// Grounded on the teacher's internal/signaling.Client interface shape
// (Listen/Shutdown over a long-lived connection with a callback/channel
// handing off incoming events) with the teacher's "one Client per
// browser session, server-side" roles collapsed into a single
// peer-side dialer, since spec.md's signaling server is a thin
// message router rather than a SessionHandler per browser tab.
type Client struct {
	conn net.Conn
	fr   *frameReader
	fw   *frameWriter

	mu     sync.Mutex
	closed bool

	incoming chan Message
}

// Dial connects to a signaling server at addr, framed with psk.
func Dial(addr, psk string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("signaling: dial: %w", err)
	}
	fr, err := newFrameReader(conn, psk)
	if err != nil {
		conn.Close()
		return nil, err
	}
	fw, err := newFrameWriter(conn, psk)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{conn: conn, fr: fr, fw: fw, incoming: make(chan Message, 32)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		record, err := c.fr.ReadRecord()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("signaling client read loop ended")
			}
			return
		}
		c.incoming <- ParseMessage(string(record))
	}
}

// Incoming returns the channel of messages received from the server,
// closed when the connection ends.
func (c *Client) Incoming() <-chan Message { return c.incoming }

// Send writes one message to the server.
func (c *Client) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return xerrors.New("signaling: client closed")
	}
	return c.fw.WriteRecord([]byte(m.Encode()))
}

// Register sends a REGISTER request.
func (c *Client) Register(username, password string) error {
	return c.Send(NewMessage(TypeRegister, "username", username, "password", password))
}

// Login sends a LOGIN request.
func (c *Client) Login(username, password string) error {
	return c.Send(NewMessage(TypeLogin, "username", username, "password", password))
}

// ListUsers requests the current roster.
func (c *Client) ListUsers() error {
	return c.Send(NewMessage(TypeListUsers))
}

// Invite sends a call invitation to to.
func (c *Client) Invite(to string) error {
	return c.Send(NewMessage(TypeInvite, "to", to))
}

// AcceptCall accepts an incoming call from from.
func (c *Client) AcceptCall(from string) error {
	return c.Send(NewMessage(TypeAcceptCall, "from", from))
}

// RejectCall rejects an incoming call from from.
func (c *Client) RejectCall(from string) error {
	return c.Send(NewMessage(TypeRejectCall, "from", from))
}

// EndCall tears down an active call with with.
func (c *Client) EndCall(with string) error {
	return c.Send(NewMessage(TypeEndCall, "with", with))
}

// SendOffer relays an SDP offer to to.
func (c *Client) SendOffer(to, sdp string) error {
	return c.Send(NewMessage(TypeSDPOffer, "to", to, "sdp", sdp))
}

// SendAnswer relays an SDP answer to to.
func (c *Client) SendAnswer(to, sdp string) error {
	return c.Send(NewMessage(TypeSDPAnswer, "to", to, "sdp", sdp))
}

// OfferFile announces an outgoing file transfer to to.
func (c *Client) OfferFile(to string, streamID uint16, name string, size uint64, sha256Hex string) error {
	return c.Send(NewMessage(TypeOfferFile,
		"to", to,
		"stream_id", itoa(streamID),
		"file_name", name,
		"file_size", uitoa(size),
		"file_sha256", sha256Hex,
	))
}

// AcceptFile accepts an incoming OFFER_FILE.
func (c *Client) AcceptFile(to string, streamID uint16) error {
	return c.Send(NewMessage(TypeAcceptFile, "to", to, "stream_id", itoa(streamID)))
}

// RejectFile rejects an incoming OFFER_FILE.
func (c *Client) RejectFile(to string, streamID uint16, reason string) error {
	return c.Send(NewMessage(TypeRejectFile, "to", to, "stream_id", itoa(streamID), "reason", reason))
}

// Close shuts down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
