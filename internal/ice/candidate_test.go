package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostCandidatePriorityHigherThanSrflx(t *testing.T) {
	host := newHostCandidate(net.IPv4(192, 168, 1, 5), 4000)
	srflx := newServerReflexiveCandidate(&net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 4000}, net.IPv4(192, 168, 1, 5), 4000)

	require.Equal(t, TypeHost, host.Type)
	require.Equal(t, TypeSrflx, srflx.Type)
	require.Greater(t, host.Priority, srflx.Priority)
}

func TestCandidatePriorityFormula(t *testing.T) {
	// priority = (type_pref<<24) | (local_pref<<8) | (256-component), component 1.
	c := newHostCandidate(net.IPv4(10, 0, 0, 1), 5000)
	want := uint32(typePrefHost<<24) | uint32(localPref<<8) | uint32(255)
	require.Equal(t, want, c.Priority)
}

func TestCandidateSDPRoundTrip(t *testing.T) {
	c := newHostCandidate(net.IPv4(192, 168, 1, 5), 4000)
	line := c.SDPLine()

	got, err := ParseCandidateSDP(line)
	require.NoError(t, err)
	require.Equal(t, c.Foundation, got.Foundation)
	require.Equal(t, c.Component, got.Component)
	require.Equal(t, c.Priority, got.Priority)
	require.True(t, got.IP.Equal(c.IP))
	require.Equal(t, c.Port, got.Port)
	require.Equal(t, c.Type, got.Type)
}

func TestCandidateSDPRoundTripSrflxCarriesRelatedAddr(t *testing.T) {
	c := newServerReflexiveCandidate(&net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 4000}, net.IPv4(192, 168, 1, 5), 5001)
	got, err := ParseCandidateSDP(c.SDPLine())
	require.NoError(t, err)
	require.True(t, got.RelatedAddr.Equal(c.RelatedAddr))
	require.Equal(t, c.RelatedPort, got.RelatedPort)
}

func TestParseCandidateSDPRejectsMalformed(t *testing.T) {
	_, err := ParseCandidateSDP("too short")
	require.Error(t, err)
}

func TestPairPriorityControllingInHighWord(t *testing.T) {
	// spec.md §4.2: pair_priority = (max<<32)|min, controller's priority in
	// the high word when controlling==true.
	controllingPrio := uint32(1000)
	otherPrio := uint32(500)

	p1 := pairPriority(true, controllingPrio, otherPrio)
	p2 := pairPriority(false, otherPrio, controllingPrio)
	require.Equal(t, p1, p2)
	require.Equal(t, uint64(controllingPrio)<<32|uint64(otherPrio), p1)
}
