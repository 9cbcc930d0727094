package dtlshs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/roomrtc/internal/certutil"
)

// TestHandshakeBothSidesDeriveSameMasterSecret exercises the full client/
// server flight exchange and checks spec.md §8 invariant 3: both peers
// derive the identical 32-byte master secret.
func TestHandshakeBothSidesDeriveSameMasterSecret(t *testing.T) {
	clientCert, err := certutil.Generate()
	require.NoError(t, err)
	serverCert, err := certutil.Generate()
	require.NoError(t, err)

	client := NewAgent(Client, clientCert, serverCert.Fingerprint)
	server := NewAgent(Server, serverCert, clientCert.Fingerprint)

	clientHello, err := client.Start()
	require.NoError(t, err)
	_, err = server.Start()
	require.NoError(t, err)

	serverFlight, err := server.HandleFlight(clientHello)
	require.NoError(t, err)
	require.NotNil(t, serverFlight)

	clientFinal, err := client.HandleFlight(serverFlight)
	require.NoError(t, err)
	require.NotNil(t, clientFinal)

	serverReply, err := server.HandleFlight(clientFinal)
	require.NoError(t, err)
	require.NotNil(t, serverReply)

	clientReply, err := client.HandleFlight(serverReply)
	require.NoError(t, err)
	require.Nil(t, clientReply)

	require.Equal(t, Complete, client.State())
	require.Equal(t, Complete, server.State())
	require.Len(t, client.MasterSecret(), 32)
	require.Equal(t, client.MasterSecret(), server.MasterSecret())
}

// TestFingerprintMismatchFails exercises spec.md §8 scenario S5: a client
// that expects one fingerprint but receives a certificate hashing to a
// different one must fail validation and never derive a master secret.
func TestFingerprintMismatchFails(t *testing.T) {
	clientCert, err := certutil.Generate()
	require.NoError(t, err)
	serverCert, err := certutil.Generate()
	require.NoError(t, err)
	attackerCert, err := certutil.Generate()
	require.NoError(t, err)

	client := NewAgent(Client, clientCert, attackerCert.Fingerprint)
	server := NewAgent(Server, serverCert, clientCert.Fingerprint)

	clientHello, err := client.Start()
	require.NoError(t, err)
	_, err = server.Start()
	require.NoError(t, err)

	serverFlight, err := server.HandleFlight(clientHello)
	require.NoError(t, err)

	_, err = client.HandleFlight(serverFlight)
	require.Error(t, err)
	require.Equal(t, Failed, client.State())
	require.Empty(t, client.MasterSecret())
}

func TestTickRetransmitsThenFailsAfterExhaustion(t *testing.T) {
	cert, err := certutil.Generate()
	require.NoError(t, err)
	a := NewAgent(Client, cert, "sha-256 00")
	_, err = a.Start()
	require.NoError(t, err)

	a.lastSentAt = a.lastSentAt.Add(-2 * maxRTO)
	for i := 0; i < maxRetries; i++ {
		a.lastSentAt = a.lastSentAt.Add(-2 * maxRTO)
		flight, err := a.Tick()
		require.NoError(t, err)
		require.NotNil(t, flight)
	}

	a.lastSentAt = a.lastSentAt.Add(-2 * maxRTO)
	_, err = a.Tick()
	require.Error(t, err)
	require.Equal(t, Failed, a.State())
}
