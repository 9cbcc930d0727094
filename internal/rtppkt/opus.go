package rtppkt

// OpusPacketizer wraps one Opus frame per RTP packet — no fragmentation,
// per spec.md §4.5 ("audio passthrough: one Opus frame per RTP packet").
type OpusPacketizer struct {
	PayloadType byte
	SSRC        uint32
	sequence    uint16
}

func NewOpusPacketizer(payloadType byte, ssrc uint32, startSeq uint16) *OpusPacketizer {
	return &OpusPacketizer{PayloadType: payloadType, SSRC: ssrc, sequence: startSeq}
}

// Packetize wraps a single Opus frame in one RTP packet, marker bit
// always set (every Opus frame is its own access unit).
func (p *OpusPacketizer) Packetize(timestamp uint32, frame []byte) []byte {
	h := Header{Marker: true, PayloadType: p.PayloadType, Sequence: p.sequence, Timestamp: timestamp, SSRC: p.SSRC}
	p.sequence++
	return Marshal(h, frame)
}

// DepacketizeOpus returns the Opus frame carried by one RTP payload
// unchanged; there is no aggregation or fragmentation to undo.
func DepacketizeOpus(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}
