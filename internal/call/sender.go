package call

import (
	"context"
	"time"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/rtcpeng"
	"github.com/lanikai/roomrtc/internal/rtppkt"
	"github.com/lanikai/roomrtc/internal/srtp"
)

// VideoSender drives the video capture/encode/packetize/encrypt/send
// loop as its own goroutine, per spec.md §4.10: capture a raw frame,
// encode it, packetize, SRTP-encrypt, transmit, then sleep to hold the
// configured frame interval.
type VideoSender struct {
	session *Session
	cfg     config.Config
	source  VideoSource
	encoder Encoder
	rtcp    *rtcpeng.Engine
	srtp    *srtp.Context

	packetizer *rtppkt.H264Packetizer
	timestamp  uint32

	keyFrameRequested bool
}

// NewVideoSender wires a VideoSender against an already-bootstrapped
// Receiver's SRTP/RTCP state.
func NewVideoSender(cfg config.Config, session *Session, source VideoSource, encoder Encoder, rtcp *rtcpeng.Engine, srtpCtx *srtp.Context) *VideoSender {
	return &VideoSender{
		session:    session,
		cfg:        cfg,
		source:     source,
		encoder:    encoder,
		rtcp:       rtcp,
		srtp:       srtpCtx,
		packetizer: rtppkt.NewH264Packetizer(cfg.Media.VideoPT, cfg.Media.VideoSSRC, cfg.Media.SendMTU, 0),
	}
}

// RequestKeyFrame sets a keyframe-request flag that Run clears after
// the next successful encode. The Encoder interface takes no keyframe
// argument, so the flag is not passed on to the encoder, and nothing in
// this package calls RequestKeyFrame from PLI handling.
func (s *VideoSender) RequestKeyFrame() { s.keyFrameRequested = true }

// Run captures, encodes, packetizes, encrypts and transmits video
// frames at cfg.Media.VideoTSStep's 90kHz cadence until the session
// tears down.
func (s *VideoSender) Run(ctx context.Context) error {
	frameInterval := time.Second * time.Duration(s.cfg.Media.VideoTSStep) / 90000
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for s.session.Active() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		raw, err := s.source.ReadFrame()
		if err != nil {
			log.Debug().Err(err).Msg("video capture failed")
			continue
		}

		encoded, err := s.encoder.Encode(raw)
		if err != nil {
			log.Debug().Err(err).Msg("video encode failed")
			continue
		}
		s.keyFrameRequested = false

		s.timestamp += s.cfg.Media.VideoTSStep
		pkts, err := s.packetizer.Packetize(s.timestamp, encoded)
		if err != nil {
			log.Debug().Err(err).Msg("h264 packetize failed")
			continue
		}

		for _, pkt := range pkts {
			header, payload, err := rtppkt.Unmarshal(pkt)
			if err != nil {
				continue
			}
			ciphertext := s.srtp.Encrypt(payload, header.Sequence)
			framed := rtppkt.Marshal(header, ciphertext)
			if _, err := s.session.Socket.WriteToUDP(framed, s.session.RemoteAddr); err != nil {
				log.Debug().Err(err).Msg("video rtp send failed")
				continue
			}
			s.rtcp.RecordSent(len(ciphertext))
		}
	}
	return nil
}

// AudioSender captures fixed-20ms PCM frames and sends them as Opus
// RTP packets, per spec.md §4.10's "audio runs at a fixed 20ms
// cadence" rule — unlike video, audio never waits on an RTCP-driven
// keyframe request.
type AudioSender struct {
	session *Session
	cfg     config.Config
	source  AudioSource
	encoder Encoder
	rtcp    *rtcpeng.Engine
	srtp    *srtp.Context

	packetizer *rtppkt.OpusPacketizer
	timestamp  uint32
}

// NewAudioSender wires an AudioSender against the already-bootstrapped
// SRTP/RTCP state.
func NewAudioSender(cfg config.Config, session *Session, source AudioSource, encoder Encoder, rtcp *rtcpeng.Engine, srtpCtx *srtp.Context) *AudioSender {
	return &AudioSender{
		session:    session,
		cfg:        cfg,
		source:     source,
		encoder:    encoder,
		rtcp:       rtcp,
		srtp:       srtpCtx,
		packetizer: rtppkt.NewOpusPacketizer(cfg.Media.AudioPT, cfg.Media.AudioSSRC, 0),
	}
}

// Run captures, encodes and transmits one Opus frame every
// cfg.Media.PacketInterval (default 20ms) until the session tears
// down.
func (s *AudioSender) Run(ctx context.Context) error {
	interval := s.cfg.Media.PacketInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	samplesPerFrame := uint32(s.cfg.Media.AudioSampleRate) * uint32(interval/time.Millisecond) / 1000

	for s.session.Active() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		raw, err := s.source.ReadFrame()
		if err != nil {
			log.Debug().Err(err).Msg("audio capture failed")
			continue
		}

		encoded, err := s.encoder.Encode(raw)
		if err != nil {
			log.Debug().Err(err).Msg("audio encode failed")
			continue
		}

		s.timestamp += samplesPerFrame
		pkt := s.packetizer.Packetize(s.timestamp, encoded)
		header, payload, err := rtppkt.Unmarshal(pkt)
		if err != nil {
			continue
		}
		ciphertext := s.srtp.Encrypt(payload, header.Sequence)
		framed := rtppkt.Marshal(header, ciphertext)
		if _, err := s.session.Socket.WriteToUDP(framed, s.session.RemoteAddr); err != nil {
			log.Debug().Err(err).Msg("audio rtp send failed")
			continue
		}
		s.rtcp.RecordSent(len(ciphertext))
	}
	return nil
}

// PeriodicReporter emits compound SR/RR packets on
// cfg.RTCP.PeriodicReportInterval for one media engine, per spec.md
// §4.7.
func PeriodicReporter(ctx context.Context, session *Session, interval time.Duration, engine *rtcpeng.Engine, isSender bool, lastTimestamp func() uint32) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for session.Active() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.SendReport(isSender, lastTimestamp(), 0); err != nil {
				log.Debug().Err(err).Msg("rtcp report send failed")
			}
		}
	}
}
