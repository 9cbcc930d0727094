package sdpneg

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/ice"
)

func sampleOffer() Offer {
	cfg := config.Default()
	audio, video := MediaFromConfig(cfg.Media, 4000, 5000)
	return Offer{
		ICEUfrag:    "abcd",
		ICEPwd:      "0123456789012345678901",
		Fingerprint: "sha-256 AB:CD:EF",
		Setup:       SetupActive,
		Candidates: []ice.Candidate{
			{
				Foundation: "1",
				Component:  1,
				Transport:  "udp",
				Priority:   2130706431,
				IP:         net.ParseIP("192.168.1.5"),
				Port:       5000,
				Type:       ice.TypeHost,
			},
		},
		Audio: &audio,
		Video: &video,
	}
}

func TestBuildThenParseRoundTripsCoreFields(t *testing.T) {
	o := sampleOffer()
	text := Build(o, "192.168.1.5", 1, 1)

	parsed, err := Parse(text)
	require.NoError(t, err)

	require.Equal(t, o.ICEUfrag, parsed.ICEUfrag)
	require.Equal(t, o.ICEPwd, parsed.ICEPwd)
	require.Equal(t, o.Fingerprint, parsed.Fingerprint)
	require.Equal(t, o.Setup, parsed.Setup)
	require.Len(t, parsed.Candidates, 1)
	require.Equal(t, o.Candidates[0].IP.String(), parsed.Candidates[0].IP.String())
	require.Equal(t, o.Candidates[0].Port, parsed.Candidates[0].Port)

	require.NotNil(t, parsed.Audio)
	require.Equal(t, o.Audio.PayloadType, parsed.Audio.PayloadType)
	require.Equal(t, "opus", parsed.Audio.Codec)
	require.Equal(t, o.Audio.ClockRate, parsed.Audio.ClockRate)
	require.Equal(t, o.Audio.SSRC, parsed.Audio.SSRC)

	require.NotNil(t, parsed.Video)
	require.Equal(t, "H264", parsed.Video.Codec)
	require.Equal(t, o.Video.SSRC, parsed.Video.SSRC)
}

func TestParseRejectsMissingICECredentials(t *testing.T) {
	text := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	_, err := Parse(text)
	require.Error(t, err)
}

func TestParseRejectsMissingFingerprint(t *testing.T) {
	text := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=ice-ufrag:abcd\r\n" +
		"a=ice-pwd:0123456789012345678901\r\n"
	_, err := Parse(text)
	require.Error(t, err)
}

func TestBuildOmitsVideoWhenNil(t *testing.T) {
	o := sampleOffer()
	o.Video = nil
	text := Build(o, "192.168.1.5", 1, 1)

	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Nil(t, parsed.Video)
	require.NotNil(t, parsed.Audio)
}

func TestParseSessionRecoversOriginAndAttribute(t *testing.T) {
	s := Session{
		Version: 0,
		Origin:  Origin{Username: "-", SessionID: "1", SessionVersion: 1, NetworkType: "IN", AddressType: "IP4", Address: "10.0.0.1"},
		Name:    "-",
		Connection: &Connection{NetworkType: "IN", AddressType: "IP4", Address: "10.0.0.1"},
		Attributes: []Attribute{{Key: "ice-ufrag", Value: "xyz"}},
	}
	text := s.String()
	parsed, err := ParseSession(text)
	require.NoError(t, err)
	require.Equal(t, s.Origin, parsed.Origin)
	require.Equal(t, "xyz", parsed.GetAttr("ice-ufrag"))
}

func TestMultipleCandidateLinesAllParsed(t *testing.T) {
	o := sampleOffer()
	o.Candidates = append(o.Candidates, ice.Candidate{
		Foundation: "2",
		Component:  1,
		Transport:  "udp",
		Priority:   1694498815,
		IP:         net.ParseIP("203.0.113.9"),
		Port:       6000,
		Type:       ice.TypeSrflx,
		RelatedAddr: net.ParseIP("192.168.1.5"),
		RelatedPort: 5000,
	})
	text := Build(o, "192.168.1.5", 1, 1)

	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, parsed.Candidates, 2)
	require.Equal(t, ice.TypeSrflx, parsed.Candidates[1].Type)
}

// TestS1SDPRoundTrip is spec.md §8 scenario S1: peer A with a known
// fingerprint/ufrag/pwd and audio=4000/video=5000 ports produces an
// offer that parses back to the same credentials with no candidates
// (none supplied), and whose m= lines name the literal ports.
func TestS1SDPRoundTrip(t *testing.T) {
	cfg := config.Default()
	audio, video := MediaFromConfig(cfg.Media, 4000, 5000)
	o := Offer{
		ICEUfrag:    "locufrag",
		ICEPwd:      "locpwd01234567890123456",
		Fingerprint: "sha-256 AA:BB:CC",
		Setup:       SetupActive,
		Audio:       &audio,
		Video:       &video,
	}

	text := Build(o, "192.168.1.5", 1, 1)
	require.Contains(t, text, "m=audio 4000 RTP/AVP")
	require.Contains(t, text, "m=video 5000 RTP/AVP")

	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, "locufrag", parsed.ICEUfrag)
	require.Equal(t, "locpwd01234567890123456", parsed.ICEPwd)
	require.Empty(t, parsed.Candidates)
}
