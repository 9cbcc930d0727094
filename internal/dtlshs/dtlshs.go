// Package dtlshs implements the hand-rolled DTLS-like handshake of
// spec.md §4.3. It is deliberately not a standards-conformant DTLS 1.2
// stack: per spec.md §9 "Open questions", the source this spec was
// distilled from frames handshake messages with ASCII message names
// rather than real TLS record types, and this implementation preserves
// that framing because interoperating with the identical peer is the
// actual requirement, not RFC 6347 conformance.
//
// Grounded on the teacher's dtls.go (record/handshake type constants,
// content-type values) and on the hand-rolled mutual-auth flow described
// in original_source's protocols/dtls.rs.
package dtlshs

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/certutil"
	"github.com/lanikai/roomrtc/internal/rlog"
)

var log = rlog.For("dtls")

// ContentType matches the teacher's dtls.go constant: this design only
// ever emits the handshake content type.
type ContentType uint8

const HandshakeContentType ContentType = 22

// HandshakeType reuses the teacher's numeric handshake sub-types.
type HandshakeType uint8

const (
	typeClientHello       HandshakeType = 1
	typeServerHello       HandshakeType = 2
	typeCertificate       HandshakeType = 11
	typeServerHelloDone   HandshakeType = 14
	typeClientKeyExchange HandshakeType = 16
	typeFinished          HandshakeType = 20
)

func (t HandshakeType) asciiName() string {
	switch t {
	case typeClientHello:
		return "ClientHello"
	case typeServerHello:
		return "ServerHello"
	case typeCertificate:
		return "Certificate"
	case typeServerHelloDone:
		return "ServerHelloDone"
	case typeClientKeyExchange:
		return "ClientKeyExchange"
	case typeFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Role is Client or Server, determined from SDP a=setup per spec.md §4.3:
// actpass/active -> Client; passive -> Server.
type Role int

const (
	Client Role = iota
	Server
)

// State matches spec.md §4.11.
type State int

const (
	NotStarted State = iota
	InProgress
	Complete
	Failed
)

const (
	initialRTO   = 500 * time.Millisecond
	maxRTO       = 4 * time.Second
	maxRetries   = 5
	randomLength = 32
)

// record is one handshake record: content_type(1) | handshake_type(1) |
// ascii_name(var, length-prefixed) | body, per spec.md §6.
type record struct {
	handshakeType HandshakeType
	body          []byte
}

func marshalRecord(r record) []byte {
	name := r.handshakeType.asciiName()
	buf := make([]byte, 0, 3+len(name)+len(r.body))
	buf = append(buf, byte(HandshakeContentType), byte(r.handshakeType), byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, r.body...)
	return buf
}

func marshalFlight(records ...record) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, marshalRecord(r)...)
	}
	return out
}

func parseFlight(data []byte) ([]record, error) {
	var out []record
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, xerrors.New("dtlshs: truncated record header")
		}
		contentType := ContentType(data[0])
		if contentType != HandshakeContentType {
			return nil, xerrors.Errorf("dtlshs: unexpected content type %d", contentType)
		}
		ht := HandshakeType(data[1])
		nameLen := int(data[2])
		if len(data) < 3+nameLen {
			return nil, xerrors.New("dtlshs: truncated record name")
		}
		data = data[3+nameLen:]

		bodyLen, consumed, err := bodyLength(ht, data)
		if err != nil {
			return nil, err
		}
		if len(data) < bodyLen {
			return nil, xerrors.New("dtlshs: truncated record body")
		}
		out = append(out, record{handshakeType: ht, body: data[:bodyLen]})
		data = data[consumed:]
	}
	return out, nil
}

// bodyLength determines how many bytes of data belong to this record's
// body, and how many bytes to advance past it (the latter can exceed the
// former for length-prefixed bodies like Certificate).
func bodyLength(ht HandshakeType, data []byte) (bodyLen int, consumed int, err error) {
	switch ht {
	case typeClientHello, typeServerHello:
		return randomLength, randomLength, nil
	case typeCertificate:
		if len(data) < 2 {
			return 0, 0, xerrors.New("dtlshs: truncated certificate length")
		}
		n := int(binary.BigEndian.Uint16(data[0:2]))
		return 2 + n, 2 + n, nil
	case typeServerHelloDone, typeFinished:
		return 0, 0, nil
	case typeClientKeyExchange:
		return 0, 0, nil
	default:
		return 0, 0, xerrors.Errorf("dtlshs: unknown handshake type %d", ht)
	}
}

// Agent drives one side of the handshake.
type Agent struct {
	role Role

	localCert         *certutil.Certificate
	remoteFingerprint string

	state State
	err   error

	clientRandom, serverRandom [randomLength]byte
	haveClientRandom           bool
	haveServerRandom           bool

	remoteCertDER       []byte
	fingerprintVerified bool

	masterSecret []byte

	lastFlight      []byte
	lastSentAt      time.Time
	retransmitCount int

	finishedSeen bool
}

// NewAgent creates a handshake agent for the given role. remoteFingerprint
// is the "sha-256 XX:XX:..." string carried in the peer's SDP.
func NewAgent(role Role, localCert *certutil.Certificate, remoteFingerprint string) *Agent {
	return &Agent{role: role, localCert: localCert, remoteFingerprint: remoteFingerprint, state: NotStarted}
}

func (a *Agent) State() State { return a.state }
func (a *Agent) Err() error   { return a.err }

// MasterSecret returns the derived 32-byte SRTP master secret. Empty
// until the handshake completes.
func (a *Agent) MasterSecret() []byte { return a.masterSecret }

// Start begins the handshake. Only the Client side emits a flight here;
// the Server side waits for an incoming ClientHello.
func (a *Agent) Start() ([]byte, error) {
	if a.state != NotStarted {
		return nil, xerrors.New("dtlshs: already started")
	}
	a.state = InProgress
	if a.role == Server {
		return nil, nil
	}

	if _, err := rand.Read(a.clientRandom[:]); err != nil {
		return nil, xerrors.Errorf("dtlshs: generate client_random: %w", err)
	}
	a.haveClientRandom = true

	flight := marshalFlight(record{handshakeType: typeClientHello, body: a.clientRandom[:]})
	a.cacheFlight(flight)
	return flight, nil
}

func (a *Agent) cacheFlight(flight []byte) {
	a.lastFlight = flight
	a.lastSentAt = time.Now()
	a.retransmitCount = 0
}

// Tick checks the retransmission deadline and returns the cached flight
// again if no progress has been made, per spec.md §4.3's "500 *
// 2^retransmit_count ms (cap 4s), give up at 5 retries" schedule.
func (a *Agent) Tick() ([]byte, error) {
	if a.state != InProgress || a.lastFlight == nil {
		return nil, nil
	}
	timeout := initialRTO * time.Duration(1<<uint(a.retransmitCount))
	if timeout > maxRTO {
		timeout = maxRTO
	}
	if time.Since(a.lastSentAt) < timeout {
		return nil, nil
	}
	if a.retransmitCount >= maxRetries {
		a.state = Failed
		a.err = xerrors.New("dtlshs: handshake timed out after retransmit exhaustion")
		return nil, a.err
	}
	a.retransmitCount++
	a.lastSentAt = time.Now()
	log.Debug().Int("attempt", a.retransmitCount).Msg("retransmitting handshake flight")
	return a.lastFlight, nil
}

// HandleFlight processes an incoming DTLS-classified datagram, which may
// contain several concatenated records, and returns the next flight to
// send, if any.
func (a *Agent) HandleFlight(data []byte) ([]byte, error) {
	if a.state == Complete || a.state == Failed {
		return nil, nil
	}
	records, err := parseFlight(data)
	if err != nil {
		return nil, xerrors.Errorf("dtlshs: malformed flight: %w", err)
	}

	for _, r := range records {
		if err := a.applyRecord(r); err != nil {
			a.state = Failed
			a.err = err
			return nil, err
		}
	}

	if a.role == Client {
		return a.clientAdvance()
	}
	return a.serverAdvance()
}

func (a *Agent) applyRecord(r record) error {
	switch r.handshakeType {
	case typeClientHello:
		copy(a.clientRandom[:], r.body)
		a.haveClientRandom = true
	case typeServerHello:
		copy(a.serverRandom[:], r.body)
		a.haveServerRandom = true
	case typeCertificate:
		if len(r.body) < 2 {
			return xerrors.New("dtlshs: short certificate record")
		}
		n := binary.BigEndian.Uint16(r.body[0:2])
		if int(n)+2 > len(r.body) {
			return xerrors.New("dtlshs: certificate length overruns record")
		}
		a.remoteCertDER = append([]byte(nil), r.body[2:2+int(n)]...)
		a.fingerprintVerified = a.verifyFingerprint()
		if !a.fingerprintVerified {
			return xerrors.New("dtlshs: remote certificate fingerprint mismatch")
		}
	case typeServerHelloDone, typeClientKeyExchange:
		// No state to record.
	case typeFinished:
		a.finishedSeen = true
	}
	return nil
}

func (a *Agent) verifyFingerprint() bool {
	return certutil.Fingerprint(a.remoteCertDER) == a.remoteFingerprint
}

func (a *Agent) clientAdvance() ([]byte, error) {
	if a.lastFlight != nil && a.lastFlightIsClientHelloOnly() && a.haveServerRandom && a.remoteCertDER != nil {
		// Received ServerHello | Certificate | ServerHelloDone: emit the
		// client's final flight.
		flight := marshalFlight(
			record{handshakeType: typeCertificate, body: certBody(a.localCert.DER)},
			record{handshakeType: typeClientKeyExchange},
			record{handshakeType: typeFinished},
		)
		a.cacheFlight(flight)
		return flight, nil
	}
	if a.finishedSeen {
		return nil, a.complete()
	}
	return nil, nil
}

func (a *Agent) serverAdvance() ([]byte, error) {
	if a.lastFlight == nil && a.haveClientRandom {
		flight := marshalFlight(
			record{handshakeType: typeServerHello, body: a.serverRandomBytes()},
			record{handshakeType: typeCertificate, body: certBody(a.localCert.DER)},
			record{handshakeType: typeServerHelloDone},
		)
		a.cacheFlight(flight)
		return flight, nil
	}
	if a.finishedSeen {
		// Received Certificate | ClientKeyExchange | Finished: complete
		// and answer with the server's own Finished.
		if err := a.complete(); err != nil {
			return nil, err
		}
		return marshalFlight(record{handshakeType: typeFinished}), nil
	}
	return nil, nil
}

func (a *Agent) serverRandomBytes() []byte {
	if _, err := rand.Read(a.serverRandom[:]); err != nil {
		panic(err) // crypto/rand failing is unrecoverable
	}
	a.haveServerRandom = true
	return a.serverRandom[:]
}

func (a *Agent) lastFlightIsClientHelloOnly() bool {
	want := marshalFlight(record{handshakeType: typeClientHello, body: a.clientRandom[:]})
	return bytes.Equal(a.lastFlight, want)
}

func certBody(der []byte) []byte {
	body := make([]byte, 2+len(der))
	binary.BigEndian.PutUint16(body[0:2], uint16(len(der)))
	copy(body[2:], der)
	return body
}

// complete derives the master secret and transitions to Complete, per
// spec.md §4.3: only once fingerprint_verified is true AND both randoms
// are present.
func (a *Agent) complete() error {
	if !a.fingerprintVerified {
		return xerrors.New("dtlshs: handshake incomplete: fingerprint not verified")
	}
	if !a.haveClientRandom || !a.haveServerRandom {
		return xerrors.New("dtlshs: handshake incomplete: missing random")
	}

	secret, err := deriveMasterSecret(a.clientRandom, a.serverRandom)
	if err != nil {
		return err
	}
	a.masterSecret = secret
	a.state = Complete
	return nil
}

// deriveMasterSecret implements spec.md §4.3:
//
//	master_secret = HKDF-SHA256-Expand(
//	    PRK = HKDF-Extract(salt=14 zero bytes, ikm = client_random || server_random),
//	    info = "DTLS_SRTP_MASTER_SECRET", L = 32)
func deriveMasterSecret(clientRandom, serverRandom [randomLength]byte) ([]byte, error) {
	salt := make([]byte, 14)
	ikm := append(append([]byte(nil), clientRandom[:]...), serverRandom[:]...)
	reader := hkdf.New(sha256.New, ikm, salt, []byte("DTLS_SRTP_MASTER_SECRET"))

	secret := make([]byte, 32)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, xerrors.Errorf("dtlshs: HKDF derivation failed: %w", err)
	}
	return secret, nil
}
