// Package call wires every lower-level component (demux, ice, dtlshs,
// srtp, rtppkt, jitter, rtcpeng, datachannel, filetransfer) into the
// per-call Session and its receiver/sender runners of spec.md §3 and
// §4.10-4.11.
//
// Grounded on the teacher's cmd/alohartcd/main.go top-level wiring
// (one goroutine per direction, a shared session struct, explicit
// state machines) generalized from the teacher's single alohartc
// session shape to spec.md's ICE/DTLS/SCTP bring-up sequence.
package call

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/lanikai/roomrtc/internal/certutil"
	"github.com/lanikai/roomrtc/internal/datachannel"
)

// Session is scoped to one call (spec.md §3): the local self-signed
// certificate and fingerprint, the peer's advertised fingerprint, the
// negotiated SRTP master secret (empty until DTLS completes), the
// selected local UDP socket, and the remote address ICE discovered.
type Session struct {
	LocalCert         *certutil.Certificate
	RemoteFingerprint string

	mu           sync.Mutex
	masterSecret []byte

	Socket     *net.UDPConn
	RemoteAddr *net.UDPAddr

	// DataChannels is published once the SCTP association is up. It is
	// the one piece of state explicitly shared between the receiver
	// (decoding incoming SCTP) and the file-transfer layer, per spec.md
	// §5 — guarded by its own mutex, never nested under Session.mu.
	dcMu        sync.Mutex
	DataChannels *datachannel.Manager

	active int32 // atomic; cleared to request teardown (spec.md §5 "Cancellation")
}

// NewSession creates a Session for a call with the given local
// certificate and the fingerprint the remote peer advertised in SDP.
func NewSession(cert *certutil.Certificate, remoteFingerprint string) *Session {
	return &Session{
		LocalCert:         cert,
		RemoteFingerprint: remoteFingerprint,
		active:            1,
	}
}

// SetMasterSecret stores the SRTP master secret DTLS derived.
func (s *Session) SetMasterSecret(secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterSecret = secret
}

// MasterSecret returns the negotiated master secret, or nil before
// DTLS completes.
func (s *Session) MasterSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterSecret
}

// PublishDataChannels makes the data-channel manager visible to the
// file-transfer layer once the SCTP association is established.
func (s *Session) PublishDataChannels(m *datachannel.Manager) {
	s.dcMu.Lock()
	defer s.dcMu.Unlock()
	s.DataChannels = m
}

// DataChannelManager returns the published data-channel manager, or
// nil if the association isn't up yet.
func (s *Session) DataChannelManager() *datachannel.Manager {
	s.dcMu.Lock()
	defer s.dcMu.Unlock()
	return s.DataChannels
}

// Active reports whether the session is still live. Every runner loop
// checks this at each iteration, per spec.md §5's cancellation rule.
func (s *Session) Active() bool { return atomic.LoadInt32(&s.active) == 1 }

// Teardown flips the connection_active flag and closes the owned
// socket. Runner loops observe Active()==false at their next
// iteration and exit; the caller joins them before dropping the
// Session.
func (s *Session) Teardown() {
	atomic.StoreInt32(&s.active, 0)
	if s.Socket != nil {
		s.Socket.Close()
	}
	if dc := s.DataChannelManager(); dc != nil {
		dc.Close()
	}
}
