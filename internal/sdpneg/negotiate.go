package sdpneg

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/ice"
)

// NewSessionID derives an RFC 8866 o= line session id from a fresh
// UUIDv4, so concurrent calls from the same process never collide the
// way a clock-based id could.
func NewSessionID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// Setup is the DTLS role a media description advertises, per spec.md
// §4.3 / RFC 8842.
type Setup string

const (
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
)

// Offer is the negotiated subset of an SDP session this engine cares
// about: ICE credentials, a DTLS fingerprint/role, and the audio/video
// media lines spec.md §4.5 produces.
type Offer struct {
	ICEUfrag    string
	ICEPwd      string
	Fingerprint string // "sha-256 XX:XX:..." per certutil.Fingerprint
	Setup       Setup
	Candidates  []ice.Candidate

	Audio *MediaDesc
	Video *MediaDesc
}

// MediaDesc is one negotiated m=audio or m=video line.
type MediaDesc struct {
	Mid         string
	Port        int // the UDP port this media's RTP flows on (rtcp-mux: one port)
	PayloadType byte
	Codec       string // "opus" or "H264"
	ClockRate   int
	SSRC        uint32
}

// Build renders o into a full SDP session description per spec.md §6:
// v=0, o=- ... IN IP4, s=-, c=IN IP4 <addr>, t=0 0, then session- and
// media-level attributes. sessionID/sessionVersion follow RFC 8866's
// o= line convention of a monotonically non-decreasing version per
// re-offer.
func Build(o Offer, localAddr string, sessionID, sessionVersion uint64) string {
	s := Session{
		Version: 0,
		Origin: Origin{
			Username:       "-",
			SessionID:      strconv.FormatUint(sessionID, 10),
			SessionVersion: sessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        localAddr,
		},
		Name:       "-",
		Connection: &Connection{NetworkType: "IN", AddressType: "IP4", Address: localAddr},
		Attributes: []Attribute{
			{Key: "ice-ufrag", Value: o.ICEUfrag},
			{Key: "ice-pwd", Value: o.ICEPwd},
			{Key: "fingerprint", Value: o.Fingerprint},
			{Key: "group", Value: "BUNDLE " + strings.Join(mediaMids(o), " ")},
		},
	}

	if o.Audio != nil {
		s.Media = append(s.Media, buildMedia("audio", *o.Audio, o, localAddr))
	}
	if o.Video != nil {
		s.Media = append(s.Media, buildMedia("video", *o.Video, o, localAddr))
	}

	return s.String()
}

func mediaMids(o Offer) []string {
	var mids []string
	if o.Audio != nil {
		mids = append(mids, o.Audio.Mid)
	}
	if o.Video != nil {
		mids = append(mids, o.Video.Mid)
	}
	return mids
}

func buildMedia(kind string, d MediaDesc, o Offer, localAddr string) Media {
	pt := strconv.Itoa(int(d.PayloadType))
	m := Media{
		Type:       kind,
		Port:       d.Port,
		Proto:      "RTP/AVP",
		Format:     []string{pt},
		Connection: &Connection{NetworkType: "IN", AddressType: "IP4", Address: localAddr},
		Attributes: []Attribute{
			{Key: "mid", Value: d.Mid},
			{Key: "rtcp-mux"},
			{Key: "setup", Value: string(o.Setup)},
			{Key: "rtpmap", Value: pt + " " + d.Codec + "/" + strconv.Itoa(d.ClockRate)},
			{Key: "ssrc", Value: strconv.FormatUint(uint64(d.SSRC), 10) + " cname:roomrtc"},
		},
	}
	// spec.md §6: candidate lines are filtered so each appears under the
	// media whose port it binds to (host matches port; srflx matches its
	// related port).
	for _, c := range o.Candidates {
		bound := c.Port
		if c.Type == ice.TypeSrflx {
			bound = c.RelatedPort
		}
		if bound == d.Port {
			m.Attributes = append(m.Attributes, Attribute{Key: "candidate", Value: c.SDPLine()})
		}
	}
	return m
}

// Parse extracts an Offer from a received SDP session description.
func Parse(text string) (Offer, error) {
	session, err := ParseSession(text)
	if err != nil {
		return Offer{}, xerrors.Errorf("sdpneg: %w", err)
	}

	var o Offer
	o.ICEUfrag = session.GetAttr("ice-ufrag")
	o.ICEPwd = session.GetAttr("ice-pwd")
	o.Fingerprint = session.GetAttr("fingerprint")

	for i := range session.Media {
		m := &session.Media[i]

		if o.ICEUfrag == "" {
			o.ICEUfrag = m.GetAttr("ice-ufrag")
		}
		if o.ICEPwd == "" {
			o.ICEPwd = m.GetAttr("ice-pwd")
		}
		if o.Fingerprint == "" {
			o.Fingerprint = m.GetAttr("fingerprint")
		}
		if setup := m.GetAttr("setup"); setup != "" {
			o.Setup = Setup(setup)
		}

		desc, err := parseMediaDesc(m)
		if err != nil {
			return Offer{}, xerrors.Errorf("sdpneg: media %q: %w", m.Type, err)
		}

		switch m.Type {
		case "audio":
			o.Audio = desc
		case "video":
			o.Video = desc
		}

		for _, line := range m.GetAttrs("candidate") {
			c, cerr := ice.ParseCandidateSDP(line)
			if cerr != nil {
				return Offer{}, xerrors.Errorf("sdpneg: candidate line %q: %w", line, cerr)
			}
			o.Candidates = append(o.Candidates, c)
		}
	}

	if o.ICEUfrag == "" || o.ICEPwd == "" {
		return Offer{}, xerrors.New("sdpneg: missing ice-ufrag/ice-pwd")
	}
	if o.Fingerprint == "" {
		return Offer{}, xerrors.New("sdpneg: missing DTLS fingerprint")
	}
	return o, nil
}

func parseMediaDesc(m *Media) (*MediaDesc, error) {
	if len(m.Format) == 0 {
		return nil, xerrors.New("no payload type in m= line")
	}
	pt, err := strconv.Atoi(m.Format[0])
	if err != nil || pt < 0 || pt > 255 {
		return nil, xerrors.Errorf("bad payload type %q", m.Format[0])
	}

	d := &MediaDesc{Mid: m.GetAttr("mid"), PayloadType: byte(pt)}

	if rtpmap := m.GetAttr("rtpmap"); rtpmap != "" {
		fields := strings.Fields(rtpmap)
		if len(fields) == 2 {
			codecClock := strings.SplitN(fields[1], "/", 2)
			d.Codec = codecClock[0]
			if len(codecClock) == 2 {
				if rate, err := strconv.Atoi(codecClock[1]); err == nil {
					d.ClockRate = rate
				}
			}
		}
	}

	if ssrcAttr := m.GetAttr("ssrc"); ssrcAttr != "" {
		fields := strings.Fields(ssrcAttr)
		if len(fields) > 0 {
			if v, err := strconv.ParseUint(fields[0], 10, 32); err == nil {
				d.SSRC = uint32(v)
			}
		}
	}

	return d, nil
}

// MediaFromConfig builds the local audio/video MediaDesc pair this
// engine always offers, from the negotiated codec/PT/SSRC table in
// config.Media and the UDP ports the ICE agent bound for this call.
func MediaFromConfig(mc config.Media, audioPort, videoPort int) (audio, video MediaDesc) {
	audio = MediaDesc{
		Mid:         "0",
		Port:        audioPort,
		PayloadType: mc.AudioPT,
		Codec:       "opus",
		ClockRate:   mc.AudioSampleRate,
		SSRC:        mc.AudioSSRC,
	}
	video = MediaDesc{
		Mid:         "1",
		Port:        videoPort,
		PayloadType: mc.VideoPT,
		Codec:       "H264",
		ClockRate:   90000,
		SSRC:        mc.VideoSSRC,
	}
	return audio, video
}
