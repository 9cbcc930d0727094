package ice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEstablishNominatesPairBetweenTwoAgents exercises spec.md §8
// invariant 6 end to end: two roomrtc agents running the real
// connectivity-check exchange over loopback sockets must each observe
// at least one STUN Success in each direction and nominate a pair.
// Regression test for the USERNAME direction bug (spec.md §4.2 /
// agent.go's handleBindingRequest expects "remoteUfrag:localUfrag",
// so the outgoing check must carry "localUfrag:remoteUfrag").
func TestEstablishNominatesPairBetweenTwoAgents(t *testing.T) {
	a := NewAgent(true, "")
	b := NewAgent(false, "")

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	aCandidates, err := a.GatherLocalCandidates(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, aCandidates)

	bCandidates, err := b.GatherLocalCandidates(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, bCandidates)

	aUfrag, aPwd := a.LocalCredentials()
	bUfrag, bPwd := b.LocalCredentials()
	a.SetRemoteCredentials(bUfrag, bPwd)
	b.SetRemoteCredentials(aUfrag, aPwd)

	for _, c := range bCandidates {
		a.AddRemoteCandidate(c)
	}
	for _, c := range aCandidates {
		b.AddRemoteCandidate(c)
	}

	aConn, aRemote, errA := a.Establish(ctx)
	require.NoError(t, errA)
	require.NotNil(t, aConn)
	require.NotNil(t, aRemote)

	bConn, bRemote, errB := b.Establish(ctx)
	require.NoError(t, errB)
	require.NotNil(t, bConn)
	require.NotNil(t, bRemote)
}
