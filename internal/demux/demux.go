// Package demux implements the packet demultiplexer of spec.md §4.1: a
// single reader goroutine on one UDP socket that classifies each
// datagram by first-byte/magic inspection and routes it to one of five
// per-class channels.
//
// Grounded on the teacher's internal/mux package, which multiplexes a
// single net.Conn into per-predicate Endpoints; this package keeps the
// "one reader, N typed outputs" shape but replaces the generic
// MatchFunc/Endpoint machinery with the closed, spec-mandated
// {STUN, DTLS, SCTP, RTCP, RTP} tag union (spec.md §9 "Dynamic
// dispatch": a tagged variant plus per-variant handler, not virtual
// dispatch).
package demux

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/lanikai/roomrtc/internal/rlog"
)

var log = rlog.For("demux")

// Class is the closed tag union of datagram kinds spec.md §4.1 names.
type Class int

const (
	ClassUnknown Class = iota
	ClassSTUN
	ClassDTLS
	ClassSCTP
	ClassRTCP
	ClassRTP
)

// Packet is one classified, received datagram.
type Packet struct {
	Class Class
	Data  []byte
	From  *net.UDPAddr
}

const (
	queueDepth  = 64
	readTimeout = 500 * time.Millisecond
)

// Demultiplexer owns the one UDP socket for a session and fans classified
// datagrams out to five channels.
type Demultiplexer struct {
	conn *net.UDPConn

	STUN chan Packet
	DTLS chan Packet
	SCTP chan Packet
	RTCP chan Packet
	RTP  chan Packet

	audioVideoPT map[byte]bool

	active chan struct{} // closed to signal shutdown
	done   chan struct{} // closed once the reader goroutine has exited
}

// New creates a demultiplexer over conn. audioVideoPTs lists the
// configured RTP payload type values (spec.md §4.1: "payload type in the
// configured audio/video set").
func New(conn *net.UDPConn, audioVideoPTs []byte) *Demultiplexer {
	pts := make(map[byte]bool, len(audioVideoPTs))
	for _, pt := range audioVideoPTs {
		pts[pt] = true
	}
	d := &Demultiplexer{
		conn:         conn,
		STUN:         make(chan Packet, queueDepth),
		DTLS:         make(chan Packet, queueDepth),
		SCTP:         make(chan Packet, queueDepth),
		RTCP:         make(chan Packet, queueDepth),
		RTP:          make(chan Packet, queueDepth),
		audioVideoPT: pts,
		active:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	return d
}

// Run reads datagrams until Stop is called. It is meant to be run in its
// own goroutine (spec.md §5: "one demultiplexer thread").
func (d *Demultiplexer) Run() {
	defer close(d.done)
	buf := make([]byte, 1500)
	for {
		select {
		case <-d.active:
			return
		default:
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // poll the active flag again
			}
			log.Warn().Err(err).Msg("socket read failed, stopping demultiplexer")
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		d.dispatch(Packet{Class: Classify(data, d.audioVideoPT), Data: data, From: from})
	}
}

func (d *Demultiplexer) dispatch(p Packet) {
	var ch chan Packet
	switch p.Class {
	case ClassSTUN:
		ch = d.STUN
	case ClassDTLS:
		ch = d.DTLS
	case ClassSCTP:
		ch = d.SCTP
	case ClassRTCP:
		ch = d.RTCP
	case ClassRTP:
		ch = d.RTP
	default:
		return // discarded silently, per spec.md §4.1
	}
	select {
	case ch <- p:
	default:
		log.Warn().Int("class", int(p.Class)).Msg("classified-packet queue full, dropping")
	}
}

// Stop signals Run to exit at its next recv-timeout wake-up and waits for
// it to do so.
func (d *Demultiplexer) Stop() {
	select {
	case <-d.active:
	default:
		close(d.active)
	}
	<-d.done
}

// Classify implements spec.md §4.1's first-match classification order:
// SCTP, STUN, DTLS, RTCP, RTP. The SCTP check runs first and looks only
// at the chunk type at byte 12 and the chunk length at bytes 14-15, so a
// STUN or RTCP datagram whose bytes 12-15 happen to form a coherent SCTP
// chunk header is classified as SCTP.
func Classify(buf []byte, audioVideoPT map[byte]bool) Class {
	if isSCTP(buf) {
		return ClassSCTP
	}
	if isSTUN(buf) {
		return ClassSTUN
	}
	if isDTLS(buf) {
		return ClassDTLS
	}
	if isRTCP(buf) {
		return ClassRTCP
	}
	if isRTP(buf, audioVideoPT) {
		return ClassRTP
	}
	return ClassUnknown
}

// isSCTP accepts the chunk types of spec.md §4.1: "0x00-0x0F, 0xC0, 0xC1".
func isSCTP(buf []byte) bool {
	if len(buf) < 16 {
		return false
	}
	chunkType := buf[12]
	if !(chunkType <= 0x0F || chunkType == 0xC0 || chunkType == 0xC1) {
		return false
	}
	chunkLength := int(binary.BigEndian.Uint16(buf[14:16]))
	return chunkLength >= 4 && 12+chunkLength <= len(buf)+3 // padded to 4-byte boundary
}

const stunMagicCookie = 0x2112A442

func isSTUN(buf []byte) bool {
	if len(buf) < 20 {
		return false
	}
	return binary.BigEndian.Uint32(buf[4:8]) == stunMagicCookie
}

func isDTLS(buf []byte) bool {
	if len(buf) < 1 {
		return false
	}
	return (buf[0] >= 16 && buf[0] <= 19) || (buf[0] >= 20 && buf[0] <= 23)
}

func isRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	version := buf[0] >> 6
	if version != 2 {
		return false
	}
	pt := buf[1]
	return pt >= 200 && pt <= 207
}

func isRTP(buf []byte, audioVideoPT map[byte]bool) bool {
	if len(buf) < 12 {
		return false
	}
	version := buf[0] >> 6
	if version != 2 {
		return false
	}
	pt := buf[1] & 0x7f
	return audioVideoPT[pt]
}
