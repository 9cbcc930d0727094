// Package rtppkt implements RTP header framing and H.264/Opus
// packetization for spec.md §4.5.
//
// Grounded on the teacher's internal/rtp package (rtp.go's rtpHeader
// read/write and h264.go's STAP-A/FU-A packetizer and reassembler),
// carried over nearly verbatim for the wire-format parts that spec.md
// leaves unchanged, and generalized where the teacher's version was
// tied to its own Stream/media.VideoSource plumbing.
package rtppkt

import (
	"github.com/lanikai/roomrtc/internal/packet"
	"golang.org/x/xerrors"
)

const (
	version       = 2
	HeaderSize    = 12
	MaxPacketSize = 1500
)

// Header is the fixed 12-byte RTP header of RFC 3550 §5.1. CSRC is
// omitted: spec.md's peers never mix multiple sources into one stream.
type Header struct {
	Marker      bool
	PayloadType byte
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

func (h Header) writeTo(w *packet.Writer) {
	w.WriteByte(version << 6)
	var pt byte = h.PayloadType & 0x7f
	if h.Marker {
		pt |= 0x80
	}
	w.WriteByte(pt)
	w.WriteUint16(h.Sequence)
	w.WriteUint32(h.Timestamp)
	w.WriteUint32(h.SSRC)
}

func (h *Header) readFrom(r *packet.Reader) error {
	if err := r.CheckRemaining(HeaderSize); err != nil {
		return xerrors.Errorf("rtppkt: short header: %w", err)
	}
	first := r.ReadByte()
	if first>>6 != version {
		return xerrors.Errorf("rtppkt: unsupported RTP version %d", first>>6)
	}
	csrcCount := int(first & 0x0f)
	second := r.ReadByte()
	h.Marker = second&0x80 != 0
	h.PayloadType = second & 0x7f
	h.Sequence = r.ReadUint16()
	h.Timestamp = r.ReadUint32()
	h.SSRC = r.ReadUint32()
	if err := r.CheckRemaining(4 * csrcCount); err != nil {
		return xerrors.Errorf("rtppkt: short CSRC list: %w", err)
	}
	r.Skip(4 * csrcCount)
	return nil
}

// Marshal serializes a Header and payload into a single RTP packet.
func Marshal(h Header, payload []byte) []byte {
	w := packet.NewWriterSize(HeaderSize + len(payload))
	h.writeTo(w)
	_ = w.WriteSlice(payload)
	return w.Bytes()
}

// Unmarshal splits a raw RTP packet into its header and payload. The
// returned payload aliases buf.
func Unmarshal(buf []byte) (Header, []byte, error) {
	var h Header
	r := packet.NewReader(buf)
	if err := h.readFrom(r); err != nil {
		return Header{}, nil, err
	}
	return h, r.ReadRemaining(), nil
}
