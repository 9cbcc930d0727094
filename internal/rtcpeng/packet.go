// Package rtcpeng implements the RTCP packet types and the receiver
// statistics engine of spec.md §3-§4.7.
//
// Wire format grounded directly on the teacher's internal/rtp/rtcp.go
// and avpf.go: the same 4-byte common header, report-block layout, and
// SDES/BYE/PLI framing, generalized out of the teacher's
// rtpWriter/rtpReader plumbing into standalone marshal/unmarshal
// functions this package's own Engine drives.
package rtcpeng

import (
	"github.com/lanikai/roomrtc/internal/packet"
	"golang.org/x/xerrors"
)

const (
	rtpVersion = 2

	headerSize = 4
	reportSize = 6 * 4

	TypeSenderReport      = 200
	TypeReceiverReport    = 201
	TypeSourceDescription = 202
	TypeGoodbye           = 203
	TypePayloadFeedback   = 206

	fmtPLI = 1
)

type header struct {
	count      int
	packetType byte
	length     int // in 32-bit words, minus one
}

func (h header) writeTo(w *packet.Writer) {
	w.WriteByte(rtpVersion<<6 | byte(h.count)&0x1f)
	w.WriteByte(h.packetType)
	w.WriteUint16(uint16(h.length))
}

func (h *header) readFrom(r *packet.Reader) error {
	if err := r.CheckRemaining(headerSize); err != nil {
		return xerrors.Errorf("rtcpeng: short header: %w", err)
	}
	first := r.ReadByte()
	if first>>6 != rtpVersion {
		return xerrors.Errorf("rtcpeng: unsupported version %d", first>>6)
	}
	h.count = int(first & 0x1f)
	h.packetType = r.ReadByte()
	h.length = int(r.ReadUint16())
	return nil
}

// ReportBlock is one SSRC's reception statistics, carried in both SR and
// RR packets (RFC 3550 §6.4.1).
type ReportBlock struct {
	Source                    uint32
	FractionLost              float32
	TotalLost                 int32
	LastSequence              uint32
	Jitter                    uint32
	LastSenderReportTimestamp uint32
	LastSenderReportDelay     uint32
}

func (b ReportBlock) writeTo(w *packet.Writer) {
	w.WriteUint32(b.Source)
	w.WriteByte(byte(b.FractionLost * 256))
	w.WriteUint24(uint32(b.TotalLost) & 0xffffff)
	w.WriteUint32(b.LastSequence)
	w.WriteUint32(b.Jitter)
	w.WriteUint32(b.LastSenderReportTimestamp)
	w.WriteUint32(b.LastSenderReportDelay)
}

func (b *ReportBlock) readFrom(r *packet.Reader) {
	b.Source = r.ReadUint32()
	b.FractionLost = float32(r.ReadByte()) / 256
	b.TotalLost = int32(r.ReadUint24())
	b.LastSequence = r.ReadUint32()
	b.Jitter = r.ReadUint32()
	b.LastSenderReportTimestamp = r.ReadUint32()
	b.LastSenderReportDelay = r.ReadUint32()
}

// SenderReport is RFC 3550 §6.4.1's SR packet.
type SenderReport struct {
	SSRC         uint32
	NTPTimestamp uint64
	RTPTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
	Reports      []ReportBlock
}

func (p SenderReport) marshal() []byte {
	h := header{packetType: TypeSenderReport, count: len(p.Reports), length: (24 + len(p.Reports)*reportSize)/4 - 1}
	w := packet.NewWriterSize(4 + 4*(h.length+1))
	h.writeTo(w)
	w.WriteUint32(p.SSRC)
	w.WriteUint64(p.NTPTimestamp)
	w.WriteUint32(p.RTPTimestamp)
	w.WriteUint32(p.PacketCount)
	w.WriteUint32(p.OctetCount)
	for _, r := range p.Reports {
		r.writeTo(w)
	}
	return w.Bytes()
}

func unmarshalSenderReport(r *packet.Reader, h header) (SenderReport, error) {
	var p SenderReport
	p.SSRC = r.ReadUint32()
	p.NTPTimestamp = r.ReadUint64()
	p.RTPTimestamp = r.ReadUint32()
	p.PacketCount = r.ReadUint32()
	p.OctetCount = r.ReadUint32()
	for i := 0; i < h.count; i++ {
		var rb ReportBlock
		rb.readFrom(r)
		p.Reports = append(p.Reports, rb)
	}
	return p, nil
}

// ReceiverReport is RFC 3550 §6.4.2's RR packet.
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReportBlock
}

func (p ReceiverReport) marshal() []byte {
	h := header{packetType: TypeReceiverReport, count: len(p.Reports), length: (4 + len(p.Reports)*reportSize)/4 - 1}
	w := packet.NewWriterSize(4 + 4*(h.length+1))
	h.writeTo(w)
	w.WriteUint32(p.SSRC)
	for _, r := range p.Reports {
		r.writeTo(w)
	}
	return w.Bytes()
}

func unmarshalReceiverReport(r *packet.Reader, h header) (ReceiverReport, error) {
	var p ReceiverReport
	p.SSRC = r.ReadUint32()
	for i := 0; i < h.count; i++ {
		var rb ReportBlock
		rb.readFrom(r)
		p.Reports = append(p.Reports, rb)
	}
	return p, nil
}

// SourceDescription carries a single CNAME item, which is all spec.md
// §4.7 requires.
type SourceDescription struct {
	SSRC  uint32
	CNAME string
}

const (
	sdesEnd   = 0
	sdesCNAME = 1
)

func (p SourceDescription) marshal() []byte {
	itemLen := 2 + len(p.CNAME) + 1 // type+len+text, plus END byte
	totalLen := 4 + itemLen
	wordLen := (totalLen + 3) / 4
	h := header{packetType: TypeSourceDescription, count: 1, length: wordLen - 1}
	w := packet.NewWriterSize(4 + 4*wordLen)
	h.writeTo(w)
	w.WriteUint32(p.SSRC)
	w.WriteByte(sdesCNAME)
	w.WriteByte(byte(len(p.CNAME)))
	_ = w.WriteString(p.CNAME)
	w.WriteByte(sdesEnd)
	w.Align(4)
	return w.Bytes()
}

func unmarshalSourceDescription(r *packet.Reader, h header) (SourceDescription, error) {
	var p SourceDescription
	if h.count < 1 {
		return p, xerrors.New("rtcpeng: SDES packet has no chunks")
	}
	p.SSRC = r.ReadUint32()
	for r.Remaining() > 0 {
		itemType := r.ReadByte()
		if itemType == sdesEnd {
			r.Align(4)
			break
		}
		n := int(r.ReadByte())
		text := r.ReadString(n)
		if itemType == sdesCNAME {
			p.CNAME = text
		}
	}
	return p, nil
}

// Goodbye is RFC 3550 §6.6's BYE packet.
type Goodbye struct {
	SSRC   uint32
	Reason string
}

func (p Goodbye) marshal() []byte {
	length := 4
	if p.Reason != "" {
		length += 1 + len(p.Reason)
	}
	wordLen := (length + 3) / 4
	h := header{packetType: TypeGoodbye, count: 1, length: wordLen - 1}
	w := packet.NewWriterSize(4 + 4*wordLen)
	h.writeTo(w)
	w.WriteUint32(p.SSRC)
	if p.Reason != "" {
		w.WriteByte(byte(len(p.Reason)))
		_ = w.WriteString(p.Reason)
		w.Align(4)
	}
	return w.Bytes()
}

func unmarshalGoodbye(r *packet.Reader, h header) (Goodbye, error) {
	var p Goodbye
	if err := r.CheckRemaining(4); err != nil {
		return p, xerrors.Errorf("rtcpeng: short BYE: %w", err)
	}
	p.SSRC = r.ReadUint32()
	if r.Remaining() > 0 {
		n := int(r.ReadByte())
		if r.Remaining() >= n {
			p.Reason = r.ReadString(n)
		}
		r.Align(4)
	}
	return p, nil
}

// PictureLossIndication is RFC 4585 §6.3.1's PLI feedback message.
type PictureLossIndication struct {
	Sender uint32
	Source uint32
}

func (p PictureLossIndication) marshal() []byte {
	h := header{packetType: TypePayloadFeedback, count: fmtPLI, length: 1}
	w := packet.NewWriterSize(12)
	h.writeTo(w)
	w.WriteUint32(p.Sender)
	w.WriteUint32(p.Source)
	return w.Bytes()
}

func unmarshalPLI(r *packet.Reader, h header) (PictureLossIndication, error) {
	var p PictureLossIndication
	if h.count != fmtPLI {
		return p, xerrors.Errorf("rtcpeng: not a PLI feedback message (fmt=%d)", h.count)
	}
	p.Sender = r.ReadUint32()
	p.Source = r.ReadUint32()
	return p, nil
}

// Packet is the parsed union of one compound-RTCP sub-packet.
type Packet struct {
	SenderReport      *SenderReport
	ReceiverReport    *ReceiverReport
	SourceDescription *SourceDescription
	Goodbye           *Goodbye
	PictureLoss       *PictureLossIndication
}

// Marshal serializes the given packets back to back into one compound
// RTCP packet, in argument order. It does not reorder them, skip any of
// them, or check that a Sender or Receiver Report comes first as RFC
// 3550 §6.1's compound-packet convention expects.
func Marshal(pkts ...interface{ marshal() []byte }) []byte {
	var out []byte
	for _, p := range pkts {
		out = append(out, p.marshal()...)
	}
	return out
}

// Unmarshal parses a (possibly compound) RTCP packet into its
// sub-packets. Unrecognized packet types are skipped, not rejected, per
// spec.md §7.
func Unmarshal(buf []byte) ([]Packet, error) {
	r := packet.NewReader(buf)
	var out []Packet
	for r.Remaining() > 0 {
		var h header
		if err := h.readFrom(r); err != nil {
			return out, err
		}
		wordLen := h.length + 1
		byteLen := 4 * wordLen
		if err := r.CheckRemaining(byteLen - headerSize); err != nil {
			return out, xerrors.Errorf("rtcpeng: truncated RTCP sub-packet: %w", err)
		}

		switch h.packetType {
		case TypeSenderReport:
			sr, err := unmarshalSenderReport(r, h)
			if err != nil {
				return out, err
			}
			out = append(out, Packet{SenderReport: &sr})
		case TypeReceiverReport:
			rr, err := unmarshalReceiverReport(r, h)
			if err != nil {
				return out, err
			}
			out = append(out, Packet{ReceiverReport: &rr})
		case TypeSourceDescription:
			sdes, err := unmarshalSourceDescription(r, h)
			if err != nil {
				return out, err
			}
			out = append(out, Packet{SourceDescription: &sdes})
		case TypeGoodbye:
			bye, err := unmarshalGoodbye(r, h)
			if err != nil {
				return out, err
			}
			out = append(out, Packet{Goodbye: &bye})
		case TypePayloadFeedback:
			pli, err := unmarshalPLI(r, h)
			if err != nil {
				return out, err
			}
			out = append(out, Packet{PictureLoss: &pli})
		default:
			r.Skip(byteLen - headerSize)
		}
	}
	return out, nil
}
