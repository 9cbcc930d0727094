package call

import (
	"context"
	"net"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/datachannel"
	"github.com/lanikai/roomrtc/internal/demux"
	"github.com/lanikai/roomrtc/internal/dtlshs"
	"github.com/lanikai/roomrtc/internal/filetransfer"
	"github.com/lanikai/roomrtc/internal/ice"
	"github.com/lanikai/roomrtc/internal/jitter"
	"github.com/lanikai/roomrtc/internal/rlog"
	"github.com/lanikai/roomrtc/internal/rtcpeng"
	"github.com/lanikai/roomrtc/internal/rtppkt"
	"github.com/lanikai/roomrtc/internal/sdpneg"
	"github.com/lanikai/roomrtc/internal/srtp"
)

var log = rlog.For("call")

// Receiver is the single-threaded event loop of spec.md §4.10: it
// drives the ICE agent and the DTLS handshake agent to completion,
// brings up the SCTP association, then sits in steady state
// dispatching demultiplexed RTCP/RTP traffic and feeding the jitter
// buffer/decoders until the session tears down or the peer goes
// silent.
type Receiver struct {
	session     *Session
	cfg         config.Config
	isInitiator bool

	iceAgent *ice.Agent
	dtlsRole dtlshs.Role

	mux *demux.Demultiplexer

	IceState  IceState
	DtlsState DtlsState
	DCState   DataChannelState

	audioSRTP *srtp.Context
	videoSRTP *srtp.Context

	audioRTCP *rtcpeng.Engine
	videoRTCP *rtcpeng.Engine
	audioSSRC uint32

	audioJitter *jitter.Buffer
	videoJitter *jitter.Buffer
	audioDepkt  rtppkt.H264Depacketizer // unused for opus; kept for symmetry
	videoDepkt  *rtppkt.H264Depacketizer

	decodeVideo func(accessUnit []byte)
	decodeAudio func(payload []byte)

	lastPacketAt time.Time
}

// NewReceiver creates a Receiver for a new call. isInitiator
// determines both ICE's controlling role and SCTP's even/odd stream
// allocation (spec.md §4.2, §4.8); they are the same party in this
// design.
func NewReceiver(cfg config.Config, session *Session, isInitiator bool, stunServer string) *Receiver {
	dtlsRole := dtlshs.Server
	if isInitiator {
		dtlsRole = dtlshs.Client
	}
	return &Receiver{
		session:     session,
		cfg:         cfg,
		isInitiator: isInitiator,
		iceAgent:    ice.NewAgent(isInitiator, stunServer),
		dtlsRole:    dtlsRole,
		videoJitter: jitter.New(64, 3),
		audioJitter: jitter.New(32, 2),
		videoDepkt:  rtppkt.NewH264Depacketizer(),
	}
}

// LocalICECredentials exposes the ufrag/password to advertise in this
// peer's SDP.
func (r *Receiver) LocalICECredentials() (ufrag, password string) {
	return r.iceAgent.LocalCredentials()
}

// GatherCandidates gathers this peer's host/srflx candidates for
// inclusion in its SDP offer/answer.
func (r *Receiver) GatherCandidates(ctx context.Context) ([]ice.Candidate, error) {
	return r.iceAgent.GatherLocalCandidates(ctx)
}

// Bootstrap drives ICE connectivity checks and the DTLS handshake to
// completion against the peer described by remote, then brings up the
// SCTP association and publishes it on the session. It blocks until
// steady state is reached or ctx is cancelled.
func (r *Receiver) Bootstrap(ctx context.Context, remote sdpneg.Offer) error {
	r.iceAgent.SetRemoteCredentials(remote.ICEUfrag, remote.ICEPwd)
	for _, c := range remote.Candidates {
		r.iceAgent.AddRemoteCandidate(c)
	}

	r.IceState = IceInProgress
	socket, remoteAddr, err := r.iceAgent.Establish(ctx)
	if err != nil {
		r.IceState = IceFailed
		return xerrors.Errorf("call: ice: %w", err)
	}
	r.IceState = IceComplete
	r.session.Socket = socket
	r.session.RemoteAddr = remoteAddr

	audioVideoPTs := []byte{remote.Audio.PayloadType, remote.Video.PayloadType}
	r.mux = demux.New(socket, audioVideoPTs)
	go r.mux.Run()

	if err := r.runDTLSHandshake(ctx, remote.Fingerprint); err != nil {
		r.DtlsState = DtlsFailed
		return xerrors.Errorf("call: dtls: %w", err)
	}
	r.DtlsState = DtlsComplete

	secret := r.session.MasterSecret()
	r.audioSRTP, err = srtp.NewContext(secret)
	if err != nil {
		return xerrors.Errorf("call: srtp audio: %w", err)
	}
	r.videoSRTP, err = srtp.NewContext(secret)
	if err != nil {
		return xerrors.Errorf("call: srtp video: %w", err)
	}

	r.audioSSRC = remote.Audio.SSRC
	r.audioRTCP = rtcpeng.NewEngine(remote.Audio.SSRC, "roomrtc-audio", r.cfg.RTCP.MinPLIInterval, sendRawTo(socket, remoteAddr))
	r.videoRTCP = rtcpeng.NewEngine(remote.Video.SSRC, "roomrtc-video", r.cfg.RTCP.MinPLIInterval, sendRawTo(socket, remoteAddr))

	dc := datachannel.New(r.isInitiator)
	r.DCState = DataChannelConnecting
	if r.isInitiator {
		err = dc.Connect(socket, remoteAddr, r.mux.SCTP)
	} else {
		err = dc.Accept(socket, remoteAddr, r.mux.SCTP)
	}
	if err != nil {
		return xerrors.Errorf("call: sctp: %w", err)
	}
	r.DCState = DataChannelOpen
	r.session.PublishDataChannels(dc)

	r.lastPacketAt = time.Now()
	return nil
}

// sendRawTo builds the rtcpeng.Engine send callback. RTCP is carried
// unencrypted: the simplified SRTP scheme of package srtp only keys an
// RTP-sequence-numbered AEAD, which RTCP's own sequencing doesn't fit.
func sendRawTo(socket *net.UDPConn, remoteAddr *net.UDPAddr) func([]byte) error {
	return func(buf []byte) error {
		_, err := socket.WriteToUDP(buf, remoteAddr)
		return err
	}
}

func (r *Receiver) runDTLSHandshake(ctx context.Context, remoteFingerprint string) error {
	agent := dtlshs.NewAgent(r.dtlsRole, r.session.LocalCert, remoteFingerprint)
	r.DtlsState = DtlsInProgress

	flight, err := agent.Start()
	if err != nil {
		return err
	}
	if flight != nil {
		if _, err := r.session.Socket.WriteToUDP(flight, r.session.RemoteAddr); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-r.mux.DTLS:
			if !ok {
				return xerrors.New("call: demultiplexer closed during handshake")
			}
			next, err := agent.HandleFlight(pkt.Data)
			if err != nil {
				return err
			}
			if next != nil {
				if _, err := r.session.Socket.WriteToUDP(next, r.session.RemoteAddr); err != nil {
					return err
				}
			}
			if agent.State() == dtlshs.Complete {
				r.session.SetMasterSecret(agent.MasterSecret())
				return nil
			}
		case <-ticker.C:
			next, err := agent.Tick()
			if err != nil {
				return err
			}
			if next != nil {
				if _, err := r.session.Socket.WriteToUDP(next, r.session.RemoteAddr); err != nil {
					return err
				}
			}
			if agent.State() == dtlshs.Complete {
				r.session.SetMasterSecret(agent.MasterSecret())
				return nil
			}
		}
	}
}

// Run is the steady-state event loop: it dispatches RTCP and RTP
// traffic until the session is torn down or the peer falls silent
// past cfg.RTCP.PeerTimeout.
func (r *Receiver) Run(ctx context.Context, ft *filetransfer.Manager) error {
	go r.pumpDataChannels(ft)

	silenceCheck := time.NewTicker(time.Second)
	defer silenceCheck.Stop()

	for r.session.Active() {
		select {
		case <-ctx.Done():
			r.session.Teardown()
			return ctx.Err()

		case <-r.mux.STUN:
			// Post-handoff STUN traffic (consent-freshness style pings)
			// is not acted on; draining keeps the demultiplexer's queue
			// from filling.

		case pkt, ok := <-r.mux.RTCP:
			if !ok {
				r.session.Teardown()
				return nil
			}
			r.lastPacketAt = time.Now()
			r.handleRTCP(pkt.Data)

		case pkt, ok := <-r.mux.RTP:
			if !ok {
				r.session.Teardown()
				return nil
			}
			r.lastPacketAt = time.Now()
			r.handleRTP(pkt.Data)

		case <-silenceCheck.C:
			if time.Since(r.lastPacketAt) > r.cfg.RTCP.PeerTimeout {
				log.Warn().Msg("peer silent past timeout, tearing down")
				r.session.Teardown()
				return xerrors.New("call: peer timeout")
			}
		}
	}
	return nil
}

// handleRTCP dispatches one compound RTCP packet to whichever of the
// two engines owns the SSRC its first recognized sub-packet names.
// Audio and video share one RTCP channel out of the demultiplexer, so
// this is the only place that distinguishes them.
func (r *Receiver) handleRTCP(buf []byte) {
	pkts, err := rtcpeng.Unmarshal(buf)
	if err != nil {
		log.Debug().Err(err).Msg("rtcp parse failed")
		return
	}

	engine := r.videoRTCP
	for _, p := range pkts {
		var ssrc uint32
		switch {
		case p.SenderReport != nil:
			ssrc = p.SenderReport.SSRC
		case p.ReceiverReport != nil:
			ssrc = p.ReceiverReport.SSRC
		case p.Goodbye != nil:
			ssrc = p.Goodbye.SSRC
		default:
			continue
		}
		if ssrc == r.audioSSRC {
			engine = r.audioRTCP
		}
		break
	}

	onPLI := func(rtcpeng.PictureLossIndication) {
		// A keyframe-request flag an encoder thread polls; wiring that
		// flag is the sender's concern (see sender.go).
	}
	if err := engine.HandleIncoming(buf, onPLI); err != nil {
		log.Debug().Err(err).Msg("rtcp dispatch failed")
	}
}

func (r *Receiver) handleRTP(buf []byte) {
	header, payload, err := rtppkt.Unmarshal(buf)
	if err != nil {
		log.Debug().Err(err).Msg("rtp parse failed")
		return
	}

	switch header.PayloadType {
	case r.videoPT():
		r.videoRTCP.RecvState().UpdateOnReceive(header.Sequence, header.Timestamp, time.Now(), 90000)
		decrypted, err := r.videoSRTP.Decrypt(payload, header.Sequence)
		if err != nil {
			log.Debug().Err(err).Msg("srtp decrypt failed")
			return
		}
		r.videoJitter.Push(header, decrypted)
		r.drainVideoJitter()
	case r.audioPT():
		r.audioRTCP.RecvState().UpdateOnReceive(header.Sequence, header.Timestamp, time.Now(), 48000)
		decrypted, err := r.audioSRTP.Decrypt(payload, header.Sequence)
		if err != nil {
			log.Debug().Err(err).Msg("srtp decrypt failed")
			return
		}
		r.audioJitter.Push(header, decrypted)
		r.drainAudioJitter()
	}
}

func (r *Receiver) videoPT() byte { return r.cfg.Media.VideoPT }
func (r *Receiver) audioPT() byte { return r.cfg.Media.AudioPT }

func (r *Receiver) drainVideoJitter() {
	for {
		header, payload, ok := r.videoJitter.Pop()
		if !ok {
			return
		}
		accessUnit, err := r.videoDepkt.Depacketize(header, payload)
		if err != nil {
			log.Debug().Err(err).Msg("h264 depacketize failed")
			continue
		}
		if accessUnit != nil && r.decodeVideo != nil {
			r.decodeVideo(accessUnit)
		}
	}
}

func (r *Receiver) drainAudioJitter() {
	for {
		_, payload, ok := r.audioJitter.Pop()
		if !ok {
			return
		}
		if r.decodeAudio != nil {
			r.decodeAudio(rtppkt.DepacketizeOpus(payload))
		}
	}
}

// pumpDataChannels accepts newly-opened SCTP streams and feeds their
// incoming bytes into the file-transfer manager, per spec.md §4.8's
// "(stream_id, bytes) pairs" surface.
func (r *Receiver) pumpDataChannels(ft *filetransfer.Manager) {
	dc := r.session.DataChannelManager()
	if dc == nil {
		return
	}
	for r.session.Active() {
		streamID, err := dc.AcceptStream()
		if err != nil {
			return
		}
		go r.pumpStream(dc, ft, streamID)
	}
}

func (r *Receiver) pumpStream(dc *datachannel.Manager, ft *filetransfer.Manager, streamID uint16) {
	buf := make([]byte, 64*1024)
	for r.session.Active() {
		n, err := dc.ReadStream(streamID, buf)
		if err != nil {
			return
		}
		ft.OnIncomingData(streamID, buf[:n])
	}
}
