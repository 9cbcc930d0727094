package ice

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/rlog"
	"github.com/lanikai/roomrtc/internal/stun"
)

var log = rlog.For("ice")

const (
	checkRTO      = 500 * time.Millisecond
	maxAttempts   = 5
	checkDeadline = 5 * time.Second
)

// Agent is a Full ICE agent (RFC 8445) supporting a single component of a
// single data stream, matching spec.md §4.2: host + server-reflexive
// candidates only, one connectivity checklist, no TURN.
type Agent struct {
	mu sync.Mutex

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string
	controlling            bool

	stunServer string

	localCandidates  []Candidate
	remoteCandidates []Candidate
	pairs            []*CandidatePair
	selected         *CandidatePair

	// sockets maps a local candidate's address string to the UDP socket
	// bound for it. Spec.md §3 invariant: every local candidate has a
	// bound socket here.
	sockets map[string]*net.UDPConn
}

// NewAgent creates an ICE agent. stunServer may be empty to disable
// server-reflexive gathering.
func NewAgent(controlling bool, stunServer string) *Agent {
	return &Agent{
		controlling: controlling,
		stunServer:  stunServer,
		sockets:     make(map[string]*net.UDPConn),
		localUfrag:  randToken(8),
		localPwd:    randToken(24),
	}
}

func randToken(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:n]
}

// LocalCredentials returns the ufrag/password this agent generated.
func (a *Agent) LocalCredentials() (ufrag, password string) {
	return a.localUfrag, a.localPwd
}

// SetRemoteCredentials records the remote ufrag/password carried in the
// peer's SDP offer/answer.
func (a *Agent) SetRemoteCredentials(ufrag, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteUfrag, a.remotePwd = ufrag, password
}

// hostAddrs enumerates non-loopback IPv4 addresses, one host candidate per
// interface as spec.md's "small reserved port set" language implies.
func hostAddrs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue // spec.md §1 Non-goals: no IPv6 candidates
		}
		ips = append(ips, ip4)
	}
	return ips, nil
}

// GatherLocalCandidates binds one UDP socket per local interface address,
// emits a host candidate for each, and (if a STUN server is configured)
// queries it once per base to derive a server-reflexive candidate.
func (a *Agent) GatherLocalCandidates(ctx context.Context) ([]Candidate, error) {
	ips, err := hostAddrs()
	if err != nil {
		return nil, xerrors.Errorf("enumerate interfaces: %w", err)
	}
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4(127, 0, 0, 1)}
	}

	var out []Candidate
	for _, ip := range ips {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: 0})
		if err != nil {
			log.Warn().Err(err).Str("ip", ip.String()).Msg("failed to bind candidate socket")
			continue
		}
		local := conn.LocalAddr().(*net.UDPAddr)
		hc := newHostCandidate(local.IP, local.Port)

		a.mu.Lock()
		a.sockets[hc.IP.String()+":"+itoa(hc.Port)] = conn
		a.localCandidates = append(a.localCandidates, hc)
		a.mu.Unlock()
		out = append(out, hc)

		go a.serveSocket(ctx, conn)

		if a.stunServer != "" {
			mapped, err := a.queryStunServer(conn)
			if err != nil {
				log.Warn().Err(err).Msg("srflx gathering failed")
				continue
			}
			if mapped.IP.Equal(local.IP) && mapped.Port == local.Port {
				continue // no NAT between us and the STUN server
			}
			sc := newServerReflexiveCandidate(mapped, local.IP, local.Port)
			a.mu.Lock()
			a.sockets[sc.IP.String()+":"+itoa(sc.Port)] = conn
			a.localCandidates = append(a.localCandidates, sc)
			a.mu.Unlock()
			out = append(out, sc)
		}
	}
	if len(out) == 0 {
		return nil, xerrors.New("no local candidates gathered")
	}
	return out, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// queryStunServer sends a STUN Binding Request to a public STUN server and
// returns the server-reflexive mapped address.
func (a *Agent) queryStunServer(conn *net.UDPConn) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", a.stunServer)
	if err != nil {
		return nil, err
	}
	req := stun.NewBindingRequest("")
	if _, err := conn.WriteToUDP(req.Marshal(), raddr); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !stun.IsStun(buf[:n]) {
			continue
		}
		msg, err := stun.Parse(buf[:n])
		if err != nil || msg.TransactionID != req.TransactionID {
			continue
		}
		if msg.MappedAddr == nil {
			return nil, xerrors.New("STUN response missing XOR-MAPPED-ADDRESS")
		}
		_ = from
		return msg.MappedAddr.(*net.UDPAddr), nil
	}
}

// AddRemoteCandidate pairs a newly trickled remote candidate against every
// known local candidate.
func (a *Agent) AddRemoteCandidate(c Candidate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteCandidates = append(a.remoteCandidates, c)
	for _, lc := range a.localCandidates {
		a.pairs = append(a.pairs, &CandidatePair{Local: lc, Remote: c})
	}
	a.sortPairsLocked()
}

func (a *Agent) sortPairsLocked() {
	sort.SliceStable(a.pairs, func(i, j int) bool {
		pi := pairPriority(a.controlling, a.pairs[i].Local.Priority, a.pairs[i].Remote.Priority)
		pj := pairPriority(a.controlling, a.pairs[j].Local.Priority, a.pairs[j].Remote.Priority)
		return pi > pj
	})
}

// Establish runs connectivity checks over the checklist until a pair is
// nominated or every pair has exhausted its retransmission budget.
// Returns the selected local socket and the remote address to use for the
// remainder of the session (spec.md §4.2 "select a pair; expose bound
// socket").
func (a *Agent) Establish(ctx context.Context) (*net.UDPConn, *net.UDPAddr, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
			a.mu.Lock()
			if a.selected != nil {
				sel := a.selected
				a.mu.Unlock()
				conn := a.sockets[sel.Local.IP.String()+":"+itoa(sel.Local.Port)]
				return conn, sel.Remote.udpAddr(), nil
			}
			p := a.nextPairToCheckLocked()
			a.mu.Unlock()
			if p == nil {
				if a.allPairsFailed() {
					return nil, nil, xerrors.New("ICE failed: all candidate pairs exhausted")
				}
				continue
			}
			a.sendCheck(p)
		}
	}
}

// nextPairToCheckLocked returns the highest-priority pair still eligible
// for a check to be sent (not yet failed, and either never checked or due
// for retransmission). A pair whose last allowed attempt has gone
// unanswered for a full RTO is marked failed.
func (a *Agent) nextPairToCheckLocked() *CandidatePair {
	now := time.Now().UnixNano()
	for _, p := range a.pairs {
		if p.State == PairFailed || p.State == PairSucceeded {
			continue
		}
		if p.attempts == 0 {
			return p
		}
		rto := checkRTO * time.Duration(1<<uint(p.attempts-1))
		if now-p.lastSentAt < rto.Nanoseconds() {
			continue
		}
		if p.attempts >= maxAttempts {
			p.State = PairFailed
			continue
		}
		return p
	}
	return nil
}

func (a *Agent) allPairsFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pairs) == 0 {
		return false
	}
	for _, p := range a.pairs {
		if p.State != PairFailed {
			return false
		}
	}
	return true
}

func (a *Agent) sendCheck(p *CandidatePair) {
	a.mu.Lock()
	conn := a.sockets[p.Local.IP.String()+":"+itoa(p.Local.Port)]
	p.attempts++
	p.lastSentAt = time.Now().UnixNano()
	if p.attempts > maxAttempts || time.Duration(p.attempts)*checkRTO > checkDeadline {
		p.State = PairFailed
		a.mu.Unlock()
		return
	}
	p.transactionID = stun.NewTransactionID()
	username := a.localUfrag + ":" + a.remoteUfrag
	a.mu.Unlock()

	if conn == nil {
		return
	}
	req := &stun.Message{Class: stun.ClassRequest, Method: stun.BindingMethod, TransactionID: p.transactionID, Username: username}
	if _, err := conn.WriteToUDP(req.Marshal(), p.Remote.udpAddr()); err != nil {
		log.Warn().Err(err).Msg("failed to send connectivity check")
	}
}

// serveSocket reads STUN traffic on a gathering-phase socket: replies to
// Binding Requests from the remote peer and matches Binding Success
// Responses against outstanding connectivity checks.
func (a *Agent) serveSocket(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 1500)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if !stun.IsStun(buf[:n]) {
			continue
		}
		msg, err := stun.Parse(buf[:n])
		if err != nil {
			continue
		}
		a.handleStun(conn, msg, from)
	}
}

func (a *Agent) handleStun(conn *net.UDPConn, msg *stun.Message, from *net.UDPAddr) {
	switch msg.Class {
	case stun.ClassRequest:
		a.handleBindingRequest(conn, msg, from)
	case stun.ClassSuccessResponse:
		a.handleBindingSuccess(conn, msg, from)
	}
}

// handleBindingRequest implements spec.md §4.2: validate USERNAME is
// "remoteUfrag:localUfrag", reply with a Success Response carrying
// XOR-MAPPED-ADDRESS, else drop.
func (a *Agent) handleBindingRequest(conn *net.UDPConn, msg *stun.Message, from *net.UDPAddr) {
	a.mu.Lock()
	expected := a.remoteUfrag + ":" + a.localUfrag
	valid := a.remoteUfrag == "" || msg.Username == expected
	a.mu.Unlock()
	if !valid {
		return
	}
	resp := stun.NewBindingSuccessResponse(msg.TransactionID, from)
	if _, err := conn.WriteToUDP(resp.Marshal(), from); err != nil {
		log.Warn().Err(err).Msg("failed to send STUN success response")
	}
}

// handleBindingSuccess nominates the pair whose outstanding transaction ID
// matches, per spec.md §4.2.
func (a *Agent) handleBindingSuccess(conn *net.UDPConn, msg *stun.Message, from *net.UDPAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pairs {
		if p.transactionID != msg.TransactionID {
			continue
		}
		if p.Remote.IP.Equal(from.IP) && p.Remote.Port == from.Port {
			p.State = PairSucceeded
			p.Nominated = true
			if a.selected == nil {
				a.selected = p
			}
		}
		return
	}
}
