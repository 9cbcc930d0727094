package rtppkt

import (
	"golang.org/x/xerrors"
)

// NAL unit types, RFC 6184 §5.2.
const (
	naluTypeSEI   = 6
	naluTypeSPS   = 7
	naluTypePPS   = 8
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

// H264Packetizer fragments H.264 NAL units into RTP packets using STAP-A
// for parameter sets and FU-A for anything above the MTU budget, per
// spec.md §4.5.
type H264Packetizer struct {
	PayloadType byte
	SSRC        uint32
	MTU         int // max RTP payload size, spec.md default 1200

	sequence uint16
	stap     []byte
}

// NewH264Packetizer creates a packetizer whose first packet carries
// sequence number startSeq; callers own timestamp stepping (spec.md's fixed 3000 step at
// 90kHz / 30fps).
func NewH264Packetizer(payloadType byte, ssrc uint32, mtu int, startSeq uint16) *H264Packetizer {
	if mtu <= 0 {
		mtu = 1200
	}
	return &H264Packetizer{PayloadType: payloadType, SSRC: ssrc, MTU: mtu, sequence: startSeq}
}

// Packetize accepts one NAL unit (including its 1-byte header) and
// returns zero or more RTP packets with the marker bit set on the last
// packet of an access unit. SEI/SPS/PPS are buffered into a single
// STAP-A and flushed before the next coded-picture NALU.
func (p *H264Packetizer) Packetize(timestamp uint32, nalu []byte) ([][]byte, error) {
	if len(nalu) == 0 {
		return nil, xerrors.New("rtppkt: empty NAL unit")
	}
	naluType := nalu[0] & 0x1f
	switch naluType {
	case naluTypeSEI, naluTypeSPS, naluTypePPS:
		p.stap = appendSTAPA(p.stap, nalu)
		return nil, nil
	default:
		return p.packetizeAccessUnit(timestamp, nalu)
	}
}

func (p *H264Packetizer) packetizeAccessUnit(timestamp uint32, nalu []byte) ([][]byte, error) {
	var out [][]byte

	if len(p.stap) > 0 {
		out = append(out, p.writePacket(timestamp, false, p.stap))
		p.stap = nil
	}

	if len(nalu) <= p.MTU {
		out = append(out, p.writePacket(timestamp, true, nalu))
		return out, nil
	}

	indicator := nalu[0]&0xe0 | naluTypeFUA
	naluType := nalu[0] & 0x1f
	fragmentCap := p.MTU - 2

	for i := 1; i < len(nalu); i += fragmentCap {
		tail := i + fragmentCap
		last := false
		if tail >= len(nalu) {
			tail = len(nalu)
			last = true
		}
		var header byte
		if i == 1 {
			header = 0x80 | naluType
		} else if last {
			header = 0x40 | naluType
		} else {
			header = naluType
		}

		body := make([]byte, 0, 2+tail-i)
		body = append(body, indicator, header)
		body = append(body, nalu[i:tail]...)
		out = append(out, p.writePacket(timestamp, last, body))
	}
	return out, nil
}

func (p *H264Packetizer) writePacket(timestamp uint32, marker bool, payload []byte) []byte {
	h := Header{Marker: marker, PayloadType: p.PayloadType, Sequence: p.sequence, Timestamp: timestamp, SSRC: p.SSRC}
	p.sequence++
	return Marshal(h, payload)
}

// appendSTAPA merges nalu into an in-progress STAP-A aggregation per RFC
// 6184 §5.7.1: forbidden bit is OR'd, NRI is the maximum observed.
func appendSTAPA(stap, nalu []byte) []byte {
	if len(stap) == 0 {
		stap = append(stap, naluTypeSTAPA)
	}
	n := len(nalu)
	stap = append(stap, byte(n>>8), byte(n))
	stap = append(stap, nalu...)

	stap[0] |= nalu[0] & 0x80
	if nri, stapNRI := nalu[0]&0x60, stap[0]&0x60; nri > stapNRI {
		stap[0] = (stap[0] &^ 0x60) | nri
	}
	return stap
}

// fuKey identifies one in-progress FU-A reassembly by (SSRC, timestamp),
// per spec.md §4.5 ("Depacketizer reassembles FU-A by (SSRC, timestamp)
// key and appends contiguous fragments by sequence").
type fuKey struct {
	ssrc      uint32
	timestamp uint32
}

// fuState is the buffer for one in-progress FU-A reassembly, plus the
// last sequence number appended so a gap can be detected.
type fuState struct {
	buf     []byte
	lastSeq uint16
}

// H264Depacketizer reassembles FU-A fragments and STAP-A aggregates into
// complete access units, per spec.md §4.5. Grounded directly on the
// original implementation's H264RtpDepacketizer (protocols/h264_rtp.rs):
// NAL units accumulate by RTP timestamp, FU-A state is keyed by
// (SSRC, timestamp) and purged whenever the timestamp changes, and on
// the marker bit one start-code-prefixed access unit is emitted, but
// only if at least one VCL NAL (type 1 or 5) was seen.
type H264Depacketizer struct {
	haveTimestamp    bool
	currentTimestamp uint32

	auNALUs [][]byte
	haveVCL bool

	fuState map[fuKey]*fuState
}

// NewH264Depacketizer creates an empty depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{fuState: make(map[fuKey]*fuState)}
}

// Depacketize folds in one RTP packet's header and payload. It returns a
// non-nil access unit, with each contained NAL unit prefixed by a 4-byte
// Annex-B start code, only once the marker bit arrives on a packet whose
// access unit contained at least one VCL NAL unit.
func (d *H264Depacketizer) Depacketize(hdr Header, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, xerrors.New("rtppkt: empty RTP payload")
	}
	if d.fuState == nil {
		d.fuState = make(map[fuKey]*fuState)
	}

	if !d.haveTimestamp || hdr.Timestamp != d.currentTimestamp {
		d.purgeStaleFUState(d.currentTimestamp)
		d.currentTimestamp = hdr.Timestamp
		d.haveTimestamp = true
		d.auNALUs = nil
		d.haveVCL = false
	}

	naluType := payload[0] & 0x1f
	switch {
	case naluType >= 1 && naluType <= 23:
		d.appendNALU(payload)
	case naluType == naluTypeSTAPA:
		if err := d.appendSTAPA(payload[1:]); err != nil {
			return nil, err
		}
	case naluType == naluTypeFUA:
		if err := d.appendFUA(hdr, payload); err != nil {
			return nil, err
		}
	default:
		// Unsupported NAL unit type; spec.md §7: drop silently.
	}

	if !hdr.Marker {
		return nil, nil
	}

	var out []byte
	if d.haveVCL {
		for _, nalu := range d.auNALUs {
			out = append(out, 0, 0, 0, 1)
			out = append(out, nalu...)
		}
	}
	d.auNALUs = nil
	d.purgeStaleFUState(hdr.Timestamp)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (d *H264Depacketizer) appendNALU(nalu []byte) {
	t := nalu[0] & 0x1f
	if t == 1 || t == 5 {
		d.haveVCL = true
	}
	copied := make([]byte, len(nalu))
	copy(copied, nalu)
	d.auNALUs = append(d.auNALUs, copied)
}

func (d *H264Depacketizer) appendSTAPA(buf []byte) error {
	nalus, err := splitSTAPA(buf)
	if err != nil {
		return err
	}
	for _, nalu := range nalus {
		d.appendNALU(nalu)
	}
	return nil
}

func (d *H264Depacketizer) appendFUA(hdr Header, payload []byte) error {
	if len(payload) < 2 {
		return xerrors.New("rtppkt: short FU-A payload")
	}
	indicator, header := payload[0], payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0
	naluType := header & 0x1f
	fnri := indicator & 0xe0

	key := fuKey{ssrc: hdr.SSRC, timestamp: hdr.Timestamp}

	if start {
		st := &fuState{lastSeq: hdr.Sequence}
		st.buf = append(st.buf, fnri|naluType)
		st.buf = append(st.buf, payload[2:]...)
		d.fuState[key] = st
		return nil
	}

	st, ok := d.fuState[key]
	if !ok {
		// Missed the start fragment; drop until the next one (spec.md §7:
		// a mid-stream FU-A without a start is discarded, not fatal).
		return nil
	}
	if hdr.Sequence != st.lastSeq+1 {
		// Gap in the fragment sequence: discard the partial NAL unit.
		delete(d.fuState, key)
		return nil
	}
	st.buf = append(st.buf, payload[2:]...)
	st.lastSeq = hdr.Sequence

	if end {
		delete(d.fuState, key)
		d.appendNALU(st.buf)
	}
	return nil
}

// purgeStaleFUState drops any in-progress FU-A reassembly whose key's
// timestamp matches ts, per spec.md §4.5 ("Stale FU state from older
// timestamps is purged"): called once with the timestamp an access unit
// just vacated, so any FU-A fragment left incomplete for that timestamp
// is discarded rather than held forever.
func (d *H264Depacketizer) purgeStaleFUState(ts uint32) {
	for key := range d.fuState {
		if key.timestamp == ts {
			delete(d.fuState, key)
		}
	}
}

// splitSTAPA unpacks a STAP-A payload (without its 1-byte aggregation
// header) into individual NAL units.
func splitSTAPA(buf []byte) ([][]byte, error) {
	var nalus [][]byte
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, xerrors.New("rtppkt: truncated STAP-A size field")
		}
		n := int(buf[0])<<8 | int(buf[1])
		buf = buf[2:]
		if len(buf) < n {
			return nil, xerrors.New("rtppkt: truncated STAP-A NAL unit")
		}
		nalu := make([]byte, n)
		copy(nalu, buf[:n])
		nalus = append(nalus, nalu)
		buf = buf[n:]
	}
	return nalus, nil
}
