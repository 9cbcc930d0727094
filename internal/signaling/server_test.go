package signaling

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/userstore"
)

func startTestServer(t *testing.T) (addr, psk string) {
	t.Helper()
	store, err := userstore.Load(filepath.Join(t.TempDir(), "users.txt"))
	require.NoError(t, err)

	cfg := config.Signaling{Bind: "127.0.0.1:0", MaxClients: 10, PSK: "integration-test-psk"}
	srv := NewServer(cfg, store)

	// Bind a listener ourselves so we know the ephemeral port before
	// the accept loop starts.
	ln, err := net.Listen("tcp", cfg.Bind)
	require.NoError(t, err)
	srv.listener = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(conn)
		}
	}()
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String(), cfg.PSK
}

func recvWithin(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestDuplicateLoginIsRejected(t *testing.T) {
	addr, psk := startTestServer(t)

	c1, err := Dial(addr, psk)
	require.NoError(t, err)
	defer c1.Close()
	require.NoError(t, c1.Register("alice", "pass_alice"))
	recvWithin(t, c1.Incoming(), time.Second) // OK{Registrado}
	require.NoError(t, c1.Login("alice", "pass_alice"))
	ok := recvWithin(t, c1.Incoming(), time.Second)
	require.Equal(t, TypeOK, ok.Type)

	c2, err := Dial(addr, psk)
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c2.Login("alice", "pass_alice"))
	errMsg := recvWithin(t, c2.Incoming(), time.Second)
	require.Equal(t, TypeError, errMsg.Type)
	require.Equal(t, "Usuario ya conectado", errMsg.Get("msg"))
}

func TestInviteSelfIsRejected(t *testing.T) {
	addr, psk := startTestServer(t)

	c, err := Dial(addr, psk)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Register("alice", "pw"))
	recvWithin(t, c.Incoming(), time.Second)
	require.NoError(t, c.Login("alice", "pw"))
	recvWithin(t, c.Incoming(), time.Second)
	recvWithin(t, c.Incoming(), time.Second) // roster broadcast triggered by alice's own login

	require.NoError(t, c.Invite("alice"))
	errMsg := recvWithin(t, c.Incoming(), time.Second)
	require.Equal(t, TypeError, errMsg.Type)
	require.Equal(t, "No puedes llamarte a ti mismo", errMsg.Get("msg"))
}

func TestCallFlowInviteAcceptEstablishes(t *testing.T) {
	addr, psk := startTestServer(t)

	alice, err := Dial(addr, psk)
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Register("alice", "pw"))
	recvWithin(t, alice.Incoming(), time.Second)
	require.NoError(t, alice.Login("alice", "pw"))
	recvWithin(t, alice.Incoming(), time.Second)
	recvWithin(t, alice.Incoming(), time.Second) // roster broadcast triggered by alice's own login

	bob, err := Dial(addr, psk)
	require.NoError(t, err)
	defer bob.Close()
	require.NoError(t, bob.Register("bob", "pw"))
	recvWithin(t, bob.Incoming(), time.Second)
	require.NoError(t, bob.Login("bob", "pw"))
	recvWithin(t, bob.Incoming(), time.Second)
	recvWithin(t, bob.Incoming(), time.Second) // roster broadcast triggered by bob's own login
	recvWithin(t, alice.Incoming(), time.Second) // roster broadcast triggered by bob's login

	require.NoError(t, alice.Invite("bob"))
	recvWithin(t, alice.Incoming(), time.Second) // roster broadcast (both marked busy)
	recvWithin(t, bob.Incoming(), time.Second)   // the same broadcast reaches bob before the invite

	incoming := recvWithin(t, bob.Incoming(), time.Second)
	require.Equal(t, TypeIncomingCall, incoming.Type)
	require.Equal(t, "alice", incoming.Get("from"))

	require.NoError(t, bob.AcceptCall("alice"))
	accepted := recvWithin(t, alice.Incoming(), time.Second)
	require.Equal(t, TypeCallAccepted, accepted.Type)
	require.Equal(t, "bob", accepted.Get("by"))

	established := recvWithin(t, bob.Incoming(), time.Second)
	require.Equal(t, TypeCallEstablished, established.Type)
	require.Equal(t, "alice", established.Get("with"))
}

func TestSDPOfferIsRelayedVerbatim(t *testing.T) {
	addr, psk := startTestServer(t)

	alice, err := Dial(addr, psk)
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Register("alice", "pw"))
	recvWithin(t, alice.Incoming(), time.Second)
	require.NoError(t, alice.Login("alice", "pw"))
	recvWithin(t, alice.Incoming(), time.Second)
	recvWithin(t, alice.Incoming(), time.Second) // roster broadcast triggered by alice's own login

	bob, err := Dial(addr, psk)
	require.NoError(t, err)
	defer bob.Close()
	require.NoError(t, bob.Register("bob", "pw"))
	recvWithin(t, bob.Incoming(), time.Second)
	require.NoError(t, bob.Login("bob", "pw"))
	recvWithin(t, bob.Incoming(), time.Second)
	recvWithin(t, bob.Incoming(), time.Second) // roster broadcast triggered by bob's own login
	recvWithin(t, alice.Incoming(), time.Second)

	require.NoError(t, alice.SendOffer("bob", "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\n"))
	offer := recvWithin(t, bob.Incoming(), time.Second)
	require.Equal(t, TypeSDPOffer, offer.Type)
	require.Equal(t, "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\n", offer.Get("sdp"))
}

func TestOfferFileAttachesFromField(t *testing.T) {
	addr, psk := startTestServer(t)

	alice, err := Dial(addr, psk)
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Register("alice", "pw"))
	recvWithin(t, alice.Incoming(), time.Second)
	require.NoError(t, alice.Login("alice", "pw"))
	recvWithin(t, alice.Incoming(), time.Second)
	recvWithin(t, alice.Incoming(), time.Second) // roster broadcast triggered by alice's own login

	bob, err := Dial(addr, psk)
	require.NoError(t, err)
	defer bob.Close()
	require.NoError(t, bob.Register("bob", "pw"))
	recvWithin(t, bob.Incoming(), time.Second)
	require.NoError(t, bob.Login("bob", "pw"))
	recvWithin(t, bob.Incoming(), time.Second)
	recvWithin(t, bob.Incoming(), time.Second) // roster broadcast triggered by bob's own login
	recvWithin(t, alice.Incoming(), time.Second)

	require.NoError(t, alice.OfferFile("bob", 2, "photo.jpg", 1024, "deadbeef"))
	offer := recvWithin(t, bob.Incoming(), time.Second)
	require.Equal(t, TypeOfferFile, offer.Type)
	require.Equal(t, "alice", offer.Get("from"))
	require.Equal(t, "photo.jpg", offer.Get("file_name"))
	require.Equal(t, "", offer.Get("to")) // stripped before relay
}
