package rtcpeng

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lanikai/roomrtc/internal/rlog"
)

var log = rlog.For("rtcpeng")

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// toNTP converts a wall-clock time to a 64-bit NTP timestamp.
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | frac
}

// RecvState tracks one remote SSRC's reception statistics, per spec.md
// §3: extended highest sequence number, cumulative loss, interarrival
// jitter (RFC 3550 §6.4.1 Appendix A.8, EWMA with α=1/16), and the data
// needed to compute LSR/DLSR for receiver reports.
type RecvState struct {
	mu sync.Mutex

	haveBase      bool
	baseSeq       uint16
	cycles        uint32 // number of times the 16-bit sequence has rolled over
	highestSeq    uint16
	received      uint32
	priorReceived uint32
	priorExpected uint32

	jitter       float64
	lastTransit  int64
	haveTransit  bool

	lastSRNTPMid uint32 // middle 32 bits of the last SR's NTP timestamp
	lastSRArrival time.Time
	haveLastSR   bool
}

// NewRecvState creates an empty RecvState.
func NewRecvState() *RecvState { return &RecvState{} }

// UpdateOnReceive folds in one received RTP packet's sequence number and
// RTP timestamp, updating extended sequence tracking and the jitter
// estimate. arrival is the local receipt time and clockRate is the RTP
// clock's ticks per second (90000 for video, sampleRate for audio).
func (s *RecvState) UpdateOnReceive(seq uint16, rtpTimestamp uint32, arrival time.Time, clockRate uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveBase {
		s.haveBase = true
		s.baseSeq = seq
		s.highestSeq = seq
	} else if seq != s.highestSeq {
		// RFC 3550 §A.1: treat seq as ahead of highestSeq unless the gap
		// exceeds half the sequence space, in which case it wrapped.
		forwardDelta := seq - s.highestSeq
		if forwardDelta < 0x8000 {
			if seq < s.highestSeq {
				s.cycles++
			}
			s.highestSeq = seq
		}
	}
	s.received++

	if clockRate > 0 {
		arrivalRTPUnits := int64(float64(arrival.UnixNano()) / 1e9 * float64(clockRate))
		transit := arrivalRTPUnits - int64(rtpTimestamp)
		if s.haveTransit {
			d := float64(transit - s.lastTransit)
			if d < 0 {
				d = -d
			}
			s.jitter += (d - s.jitter) / 16
		}
		s.lastTransit = transit
		s.haveTransit = true
	}
}

// OnSenderReport records the NTP timestamp carried by an incoming SR, so
// a later Report can fill in LSR/DLSR.
func (s *RecvState) OnSenderReport(ntpTimestamp uint64, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSRNTPMid = uint32(ntpTimestamp >> 16)
	s.lastSRArrival = arrival
	s.haveLastSR = true
}

// Report builds a ReportBlock for the current accumulated statistics,
// and resets the prior-interval counters (RFC 3550 §6.4.1's
// "since-last-report" fraction).
func (s *RecvState) Report(source uint32) ReportBlock {
	s.mu.Lock()
	defer s.mu.Unlock()

	extendedHighest := uint32(s.cycles)<<16 | uint32(s.highestSeq)
	expected := extendedHighest - uint32(s.baseSeq) + 1
	lost := int32(expected) - int32(s.received)

	expectedInterval := expected - s.priorExpected
	receivedInterval := s.received - s.priorReceived
	lostInterval := int32(expectedInterval) - int32(receivedInterval)

	var fraction float32
	if expectedInterval > 0 && lostInterval > 0 {
		fraction = float32(lostInterval) / float32(expectedInterval)
	}

	s.priorExpected = expected
	s.priorReceived = s.received

	var lsr, dlsr uint32
	if s.haveLastSR {
		lsr = s.lastSRNTPMid
		elapsed := time.Since(s.lastSRArrival)
		dlsr = uint32(elapsed.Seconds() * 65536)
	}

	return ReportBlock{
		Source:                    source,
		FractionLost:              fraction,
		TotalLost:                 lost,
		LastSequence:              extendedHighest,
		Jitter:                    uint32(s.jitter),
		LastSenderReportTimestamp: lsr,
		LastSenderReportDelay:     dlsr,
	}
}

// Engine drives periodic SR/RR emission and rate-limited PLI requests
// for one media stream, per spec.md §4.7.
type Engine struct {
	ssrc  uint32
	cname string
	send  func([]byte) error

	recv *RecvState

	pliLimiter *rate.Limiter

	packetCount uint32
	octetCount  uint32
	mu          sync.Mutex
}

// NewEngine creates an Engine for the local SSRC. send transmits a
// (possibly compound) serialized RTCP packet through the SRTP-protected
// channel. minPLIInterval is the minimum spacing between outgoing PLI
// requests (spec.md default 200ms).
func NewEngine(ssrc uint32, cname string, minPLIInterval time.Duration, send func([]byte) error) *Engine {
	if minPLIInterval <= 0 {
		minPLIInterval = 200 * time.Millisecond
	}
	return &Engine{
		ssrc:       ssrc,
		cname:      cname,
		send:       send,
		recv:       NewRecvState(),
		pliLimiter: rate.NewLimiter(rate.Every(minPLIInterval), 1),
	}
}

// RecvState exposes the engine's receiver-side statistics tracker, for
// the caller's RTP receive path to feed packets into.
func (e *Engine) RecvState() *RecvState { return e.recv }

// RecordSent updates the local sender statistics used by SenderReport.
func (e *Engine) RecordSent(payloadLen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packetCount++
	e.octetCount += uint32(payloadLen)
}

// SendReport emits a periodic compound RTCP packet (spec.md default
// interval 1s): a Sender Report if isSender, else a Receiver Report,
// followed by an SDES CNAME item.
func (e *Engine) SendReport(isSender bool, rtpTimestamp uint32, remoteSSRC uint32) error {
	e.mu.Lock()
	pc, oc := e.packetCount, e.octetCount
	e.mu.Unlock()

	sdes := SourceDescription{SSRC: e.ssrc, CNAME: e.cname}

	var body []byte
	if isSender {
		sr := SenderReport{
			SSRC:         e.ssrc,
			NTPTimestamp: toNTP(rlog.Now()),
			RTPTimestamp: rtpTimestamp,
			PacketCount:  pc,
			OctetCount:   oc,
		}
		if remoteSSRC != 0 {
			sr.Reports = []ReportBlock{e.recv.Report(remoteSSRC)}
		}
		body = append(sr.marshal(), sdes.marshal()...)
	} else {
		rr := ReceiverReport{SSRC: e.ssrc}
		if remoteSSRC != 0 {
			rr.Reports = []ReportBlock{e.recv.Report(remoteSSRC)}
		}
		body = append(rr.marshal(), sdes.marshal()...)
	}
	return e.send(body)
}

// RequestKeyFrame sends a PLI feedback message to the given media
// source SSRC, rate-limited to at most one per minPLIInterval — spec.md
// §4.7's "do not flood the sender with PLI requests."
func (e *Engine) RequestKeyFrame(sourceSSRC uint32) error {
	if !e.pliLimiter.Allow() {
		log.Debug().Msg("suppressing PLI request, rate limited")
		return nil
	}
	pli := PictureLossIndication{Sender: e.ssrc, Source: sourceSSRC}
	return e.send(pli.marshal())
}

// SendGoodbye emits a BYE packet, spec.md's session-teardown signal.
func (e *Engine) SendGoodbye(reason string) error {
	bye := Goodbye{SSRC: e.ssrc, Reason: reason}
	return e.send(bye.marshal())
}

// HandleIncoming parses and dispatches a received (possibly compound)
// RTCP packet, updating RecvState from any embedded Sender Report and
// invoking onPLI for any embedded PLI feedback message.
func (e *Engine) HandleIncoming(buf []byte, onPLI func(PictureLossIndication)) error {
	pkts, err := Unmarshal(buf)
	if err != nil {
		return err
	}
	for _, p := range pkts {
		switch {
		case p.SenderReport != nil:
			e.recv.OnSenderReport(p.SenderReport.NTPTimestamp, rlog.Now())
		case p.PictureLoss != nil && onPLI != nil:
			onPLI(*p.PictureLoss)
		case p.Goodbye != nil:
			log.Info().Uint32("ssrc", p.Goodbye.SSRC).Msg("received RTCP BYE")
		}
	}
	return nil
}
