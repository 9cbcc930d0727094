package rtppkt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Marker: true, PayloadType: 97, Sequence: 1234, Timestamp: 90000, SSRC: 0xdeadbeef}
	payload := []byte("payload bytes")
	raw := Marshal(h, payload)

	got, gotPayload, err := Unmarshal(raw)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, payload, gotPayload)
}

func TestHeaderRejectsBadVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 1 << 6 // version 1
	_, _, err := Unmarshal(buf)
	require.Error(t, err)
}

func TestH264SmallNALUIsSinglePacket(t *testing.T) {
	p := NewH264Packetizer(97, 1, 1200, 0)
	nalu := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 100)...) // IDR slice
	pkts, err := p.Packetize(3000, nalu)
	require.NoError(t, err)
	require.Len(t, pkts, 1)

	h, payload, err := Unmarshal(pkts[0])
	require.NoError(t, err)
	require.True(t, h.Marker)
	require.Equal(t, nalu, payload)
}

func TestH264LargeNALUFragmentsAndReassembles(t *testing.T) {
	p := NewH264Packetizer(97, 1, 100, 0)
	nalu := append([]byte{0x65}, bytes.Repeat([]byte{0x42}, 1000)...) // IDR slice, VCL type 5
	pkts, err := p.Packetize(3000, nalu)
	require.NoError(t, err)
	require.Greater(t, len(pkts), 1)

	d := NewH264Depacketizer()
	var accessUnit []byte
	for i, raw := range pkts {
		hdr, payload, err := Unmarshal(raw)
		require.NoError(t, err)
		au, err := d.Depacketize(hdr, payload)
		require.NoError(t, err)
		if i < len(pkts)-1 {
			require.Nil(t, au)
		} else {
			require.NotNil(t, au)
			accessUnit = au
		}
	}

	want := append([]byte{0, 0, 0, 1}, nalu...)
	require.Equal(t, want, accessUnit)
}

func TestH264DepacketizeDropsAccessUnitWithoutVCL(t *testing.T) {
	// Parameter-set-only access units (no slice NAL) must not be
	// delivered, per spec.md §4.5's "only if at least one VCL NAL (type
	// 1 or 5) is present".
	p := NewH264Packetizer(97, 1, 1200, 0)
	sps := []byte{0x67, 0x01, 0x02}
	pkts, err := p.Packetize(3000, sps)
	require.NoError(t, err)
	require.Empty(t, pkts) // parameter sets are held for the next STAP-A

	// Carry the SPS alone in a marker packet, as a peer may send it.
	raw := Marshal(Header{Marker: true, PayloadType: 97, Timestamp: 3000, SSRC: 1}, sps)
	hdr, payload, err := Unmarshal(raw)
	require.NoError(t, err)

	d := NewH264Depacketizer()
	au, err := d.Depacketize(hdr, payload)
	require.NoError(t, err)
	require.Nil(t, au)
}

func TestH264STAPAAggregatesParameterSets(t *testing.T) {
	p := NewH264Packetizer(97, 1, 1200, 0)
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0x11}, 10)...) // VCL type 5

	_, err := p.Packetize(0, sps)
	require.NoError(t, err)
	_, err = p.Packetize(0, pps)
	require.NoError(t, err)
	pkts, err := p.Packetize(3000, idr)
	require.NoError(t, err)
	require.Len(t, pkts, 2) // STAP-A then IDR

	d := NewH264Depacketizer()

	stapHdr, stapPayload, err := Unmarshal(pkts[0])
	require.NoError(t, err)
	au, err := d.Depacketize(stapHdr, stapPayload)
	require.NoError(t, err)
	require.Nil(t, au) // marker not yet set; STAP-A is not the AU's last packet

	idrHdr, idrPayload, err := Unmarshal(pkts[1])
	require.NoError(t, err)
	au, err = d.Depacketize(idrHdr, idrPayload)
	require.NoError(t, err)

	want := append([]byte{0, 0, 0, 1}, sps...)
	want = append(want, 0, 0, 0, 1)
	want = append(want, pps...)
	want = append(want, 0, 0, 0, 1)
	want = append(want, idr...)
	require.Equal(t, want, au)
}

func TestOpusPacketizeRoundTrip(t *testing.T) {
	p := NewOpusPacketizer(111, 2, 0)
	frame := []byte{0x01, 0x02, 0x03}
	raw := p.Packetize(960, frame)

	h, payload, err := Unmarshal(raw)
	require.NoError(t, err)
	require.True(t, h.Marker)
	require.Equal(t, frame, DepacketizeOpus(payload))
}
