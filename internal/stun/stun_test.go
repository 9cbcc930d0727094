package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsStunRequiresMagicCookieAndLength(t *testing.T) {
	req := NewBindingRequest("a:b")
	require.True(t, IsStun(req.Marshal()))

	// spec.md §8: a crafted STUN-shaped byte sequence of length 19 is Unknown.
	short := req.Marshal()[:19]
	require.False(t, IsStun(short))

	bad := req.Marshal()
	bad[4] ^= 0xff
	require.False(t, IsStun(bad))
}

func TestBindingRequestRoundTrip(t *testing.T) {
	req := NewBindingRequest("locufrag:remufrag")
	wire := req.Marshal()

	got, err := Parse(wire)
	require.NoError(t, err)
	require.Equal(t, ClassRequest, got.Class)
	require.Equal(t, BindingMethod, got.Method)
	require.Equal(t, req.TransactionID, got.TransactionID)
	require.Equal(t, "locufrag:remufrag", got.Username)
}

func TestBindingSuccessResponseRoundTrip(t *testing.T) {
	txID := NewTransactionID()
	mapped := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 7), Port: 54321}
	resp := NewBindingSuccessResponse(txID, mapped)

	got, err := Parse(resp.Marshal())
	require.NoError(t, err)
	require.Equal(t, ClassSuccessResponse, got.Class)
	require.Equal(t, txID, got.TransactionID)

	gotAddr, ok := got.MappedAddr.(*net.UDPAddr)
	require.True(t, ok)
	require.True(t, gotAddr.IP.Equal(mapped.IP))
	require.Equal(t, mapped.Port, gotAddr.Port)
}

func TestParseRejectsLengthBeyondBuffer(t *testing.T) {
	wire := NewBindingRequest("u").Marshal()
	// Claim a longer body than actually present.
	wire[2] = 0xff
	wire[3] = 0xff
	_, err := Parse(wire)
	require.Error(t, err)
}

func TestParseRejectsNonStun(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.Error(t, err)
}
