// Package datachannel brings up the SCTP association of spec.md §4.8 on
// top of the demultiplexed UDP socket, using github.com/pion/sctp for
// the association and stream state machine itself — "a from-scratch
// SCTP is out of scope," per spec.md §9.
//
// Stream ID allocation, OFFER/ACCEPT bookkeeping shape, and the
// buffered-amount back-pressure check are grounded on the original
// implementation's protocols/data_channel.rs DataChannelManager; the
// SCTP wire protocol and association/stream lifecycle are pion/sctp's,
// not hand-rolled.
package datachannel

import (
	"net"
	"sync"

	"github.com/pion/sctp"
	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/demux"
	"github.com/lanikai/roomrtc/internal/rlog"
)

var log = rlog.For("datachannel")

const maxOutboundStreams = 65535

// ChannelState mirrors the lifecycle a single data channel moves
// through.
type ChannelState int

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosed
)

// Channel is one logical SCTP stream used for a single file transfer.
type Channel struct {
	StreamID uint16
	Label    string
	State    ChannelState
}

// Manager owns one SCTP association and the logical channels layered
// on top of it. The initiator allocates even stream IDs starting at 0;
// the acceptor uses odd IDs starting at 1 (spec.md §4.8).
type Manager struct {
	mu sync.Mutex

	isInitiator  bool
	nextStreamID uint32 // uint32 so we can detect overflow past 65535
	channels     map[uint16]*Channel

	assoc *sctp.Association
}

// New creates a Manager. The association is brought up separately via
// Connect (initiator) or Accept (acceptor) once DTLS has completed.
func New(isInitiator bool) *Manager {
	start := uint32(0)
	if !isInitiator {
		start = 1
	}
	return &Manager{
		isInitiator:  isInitiator,
		nextStreamID: start,
		channels:     make(map[uint16]*Channel),
	}
}

// Connect performs the SCTP client handshake as the initiator, over the
// shared UDP socket addressed at remote. sctpPackets is fed by the
// demultiplexer's SCTP-classified channel.
func (m *Manager) Connect(socket *net.UDPConn, remote *net.UDPAddr, sctpPackets <-chan demux.Packet) error {
	if !m.isInitiator {
		return xerrors.New("datachannel: only the initiator calls Connect")
	}
	conn := newNetConn(socket, remote, sctpPackets)
	assoc, err := sctp.Client(sctp.Config{NetConn: conn, LoggerFactory: rlog.SCTPLoggerFactory()})
	if err != nil {
		return xerrors.Errorf("datachannel: SCTP client handshake: %w", err)
	}
	m.mu.Lock()
	m.assoc = assoc
	m.mu.Unlock()
	return nil
}

// Accept performs the SCTP server handshake as the acceptor.
func (m *Manager) Accept(socket *net.UDPConn, remote *net.UDPAddr, sctpPackets <-chan demux.Packet) error {
	if m.isInitiator {
		return xerrors.New("datachannel: only the acceptor calls Accept")
	}
	conn := newNetConn(socket, remote, sctpPackets)
	assoc, err := sctp.Server(sctp.Config{NetConn: conn, LoggerFactory: rlog.SCTPLoggerFactory()})
	if err != nil {
		return xerrors.Errorf("datachannel: SCTP server handshake: %w", err)
	}
	m.mu.Lock()
	m.assoc = assoc
	m.mu.Unlock()
	return nil
}

// CreateChannel allocates a new outbound stream ID and registers a
// Channel for it, without yet opening the SCTP stream (OpenStream
// happens lazily on first send, matching the original implementation).
func (m *Manager) CreateChannel(label string) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nextStreamID > maxOutboundStreams {
		return 0, xerrors.New("datachannel: no stream IDs available")
	}
	id := uint16(m.nextStreamID)

	next := m.nextStreamID + 2
	if next > maxOutboundStreams {
		m.nextStreamID = maxOutboundStreams + 1 // mark exhausted
	} else {
		m.nextStreamID = next
	}

	m.channels[id] = &Channel{StreamID: id, Label: label, State: ChannelConnecting}
	return id, nil
}

// SendFileData opens (if necessary) the outbound stream for streamID and
// writes data with the Binary PPID, per spec.md §4.8.
func (m *Manager) SendFileData(streamID uint16, data []byte) error {
	if len(data) == 0 {
		return xerrors.New("datachannel: cannot send empty data")
	}

	m.mu.Lock()
	assoc := m.assoc
	m.mu.Unlock()
	if assoc == nil {
		return xerrors.New("datachannel: no active SCTP association")
	}

	stream, err := assoc.OpenStream(streamID, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		return xerrors.Errorf("datachannel: open stream %d: %w", streamID, err)
	}

	m.mu.Lock()
	if ch, ok := m.channels[streamID]; ok {
		ch.State = ChannelOpen
	}
	m.mu.Unlock()

	if _, err := stream.WriteSCTP(data, sctp.PayloadTypeWebRTCBinary); err != nil {
		return xerrors.Errorf("datachannel: write to stream %d: %w", streamID, err)
	}
	return nil
}

// AcceptStream blocks until the peer opens a new inbound stream and
// returns its ID.
func (m *Manager) AcceptStream() (uint16, error) {
	m.mu.Lock()
	assoc := m.assoc
	m.mu.Unlock()
	if assoc == nil {
		return 0, xerrors.New("datachannel: no active SCTP association")
	}

	stream, err := assoc.AcceptStream()
	if err != nil {
		return 0, xerrors.Errorf("datachannel: accept stream: %w", err)
	}
	id := stream.StreamIdentifier()

	m.mu.Lock()
	m.channels[id] = &Channel{StreamID: id, State: ChannelOpen}
	m.mu.Unlock()
	return id, nil
}

// ReadStream reads one chunk of data from an already-open inbound
// stream, up to len(buf) bytes.
func (m *Manager) ReadStream(streamID uint16, buf []byte) (int, error) {
	m.mu.Lock()
	assoc := m.assoc
	m.mu.Unlock()
	if assoc == nil {
		return 0, xerrors.New("datachannel: no active SCTP association")
	}
	stream, err := assoc.OpenStream(streamID, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		return 0, xerrors.Errorf("datachannel: stream %d: %w", streamID, err)
	}
	return stream.Read(buf)
}

// BufferedAmount reports the outbound back-pressure for streamID, used
// by the file-transfer layer to pace writes (spec.md §5: back-pressure
// cap 512 bytes, waiting at most 5s before sending anyway).
func (m *Manager) BufferedAmount(streamID uint16) (uint64, error) {
	m.mu.Lock()
	assoc := m.assoc
	m.mu.Unlock()
	if assoc == nil {
		return 0, xerrors.New("datachannel: no active SCTP association")
	}
	stream, err := assoc.OpenStream(streamID, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		return 0, xerrors.Errorf("datachannel: stream %d: %w", streamID, err)
	}
	return stream.BufferedAmount(), nil
}

// CloseStream closes one logical channel, e.g. on REJECT_FILE or
// transfer completion.
func (m *Manager) CloseStream(streamID uint16) error {
	m.mu.Lock()
	assoc := m.assoc
	ch, ok := m.channels[streamID]
	if ok {
		ch.State = ChannelClosed
	}
	m.mu.Unlock()

	if assoc == nil {
		return nil
	}
	stream, err := assoc.OpenStream(streamID, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		return nil
	}
	return stream.Close()
}

// Close tears down the whole association, closing every channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		ch.State = ChannelClosed
	}
	if m.assoc == nil {
		return nil
	}
	err := m.assoc.Close()
	m.assoc = nil
	return err
}

// OpenStreamIDs returns the stream IDs currently tracked, for
// diagnostics.
func (m *Manager) OpenStreamIDs() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint16, 0, len(m.channels))
	for id, ch := range m.channels {
		if ch.State == ChannelOpen {
			ids = append(ids, id)
		}
	}
	return ids
}
