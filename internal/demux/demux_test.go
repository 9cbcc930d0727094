package demux

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func stunPacket() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint16(buf[0:2], 0x0001) // Binding Request
	binary.BigEndian.PutUint32(buf[4:8], stunMagicCookie)
	return buf
}

func rtcpPacket(pt byte) []byte {
	buf := make([]byte, 8)
	buf[0] = 2 << 6
	buf[1] = pt
	return buf
}

func rtpPacket(pt byte) []byte {
	buf := make([]byte, 12)
	buf[0] = 2 << 6
	buf[1] = pt
	return buf
}

func sctpPacket() []byte {
	buf := make([]byte, 16)
	buf[12] = 0x01 // INIT chunk
	binary.BigEndian.PutUint16(buf[14:16], 4)
	return buf
}

func TestClassifySTUN(t *testing.T) {
	require.Equal(t, ClassSTUN, Classify(stunPacket(), nil))
}

func TestClassifyDTLS(t *testing.T) {
	require.Equal(t, ClassDTLS, Classify([]byte{22, 3, 3, 0, 0}, nil))
	require.Equal(t, ClassDTLS, Classify([]byte{19}, nil))
	require.Equal(t, ClassUnknown, Classify([]byte{24}, nil))
}

func TestClassifySCTP(t *testing.T) {
	require.Equal(t, ClassSCTP, Classify(sctpPacket(), nil))
}

func TestClassifyRTCP(t *testing.T) {
	require.Equal(t, ClassRTCP, Classify(rtcpPacket(200), nil))
	require.Equal(t, ClassRTCP, Classify(rtcpPacket(207), nil))
}

func TestClassifyRTP(t *testing.T) {
	pts := map[byte]bool{97: true, 111: true}
	require.Equal(t, ClassRTP, Classify(rtpPacket(97), pts))
	require.Equal(t, ClassUnknown, Classify(rtpPacket(5), pts))
}

func TestClassifyUnknownShortBuffer(t *testing.T) {
	require.Equal(t, ClassUnknown, Classify([]byte{}, nil))
}

func TestClassifyPrecedenceSTUNBeforeRTCP(t *testing.T) {
	// A 20-byte datagram that carries the STUN magic cookie and also has
	// RTCP version bits and an RTCP payload type; STUN's magic-cookie
	// check must win when both could match.
	buf := stunPacket()
	buf[0] = 2 << 6
	buf[1] = 200
	require.Equal(t, ClassSTUN, Classify(buf, nil))
}
