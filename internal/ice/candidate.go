// Package ice implements the gather/connectivity-check/nominate agent
// of spec.md §4.2, grounded on the teacher's internal/ice package
// (candidate/pair/checklist shape) but trimmed to what spec.md actually
// asks for: host and server-reflexive UDP candidates, component 1 only
// (rtcp-mux assumed), no TURN and no IPv6 (spec.md §1 Non-goals).
package ice

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// CandidateType identifies how a candidate's address was discovered.
type CandidateType string

const (
	TypeHost  CandidateType = "host"
	TypeSrflx CandidateType = "srflx"
)

// Candidate is a single ICE candidate as described in spec.md §3.
type Candidate struct {
	Foundation string
	Component  int // always 1: rtcp-mux is assumed
	Transport  string // always "udp"
	Priority   uint32
	IP         net.IP
	Port       int
	Type       CandidateType

	// Present only for srflx candidates.
	RelatedAddr net.IP
	RelatedPort int
}

// computePriority implements spec.md §3's priority formula with these
// preferences:
//
//	priority = (type_pref<<24) | (local_pref<<8) | (256-component)
const (
	typePrefHost  = 126
	typePrefSrflx = 100
	localPref     = 65535 & 0xff // teacher's local preference is always maximal for a single interface
)

func computePriority(typ CandidateType, component int) uint32 {
	var typePref int
	switch typ {
	case TypeHost:
		typePref = typePrefHost
	case TypeSrflx:
		typePref = typePrefSrflx
	default:
		panic("ice: unknown candidate type " + string(typ))
	}
	return uint32(typePref<<24) | uint32(localPref<<8) | uint32(256-component)
}

func computeFoundation(typ CandidateType, ip net.IP) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/udp/%s", typ, ip)
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

func newHostCandidate(ip net.IP, port int) Candidate {
	return Candidate{
		Foundation: computeFoundation(TypeHost, ip),
		Component:  1,
		Transport:  "udp",
		Priority:   computePriority(TypeHost, 1),
		IP:         ip,
		Port:       port,
		Type:       TypeHost,
	}
}

func newServerReflexiveCandidate(mapped *net.UDPAddr, related net.IP, relatedPort int) Candidate {
	return Candidate{
		Foundation:  computeFoundation(TypeSrflx, mapped.IP),
		Component:   1,
		Transport:   "udp",
		Priority:    computePriority(TypeSrflx, 1),
		IP:          mapped.IP,
		Port:        mapped.Port,
		Type:        TypeSrflx,
		RelatedAddr: related,
		RelatedPort: relatedPort,
	}
}

// SDPLine renders the candidate as an a=candidate line body (without the
// "a=candidate:" prefix), per spec.md §6.
func (c Candidate) SDPLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, strings.ToUpper(c.Transport), c.Priority, c.IP, c.Port, c.Type)
	if c.Type == TypeSrflx {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddr, c.RelatedPort)
	}
	return b.String()
}

// ParseCandidateSDP parses the body of an a=candidate line (the part
// after "candidate:").
func ParseCandidateSDP(body string) (Candidate, error) {
	fields := strings.Fields(body)
	if len(fields) < 7 {
		return Candidate{}, xerrors.Errorf("malformed candidate line: %q", body)
	}
	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, xerrors.Errorf("bad component id: %w", err)
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, xerrors.Errorf("bad priority: %w", err)
	}
	ip := net.ParseIP(fields[4])
	if ip == nil {
		return Candidate{}, xerrors.Errorf("bad candidate address: %q", fields[4])
	}
	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return Candidate{}, xerrors.Errorf("bad port: %w", err)
	}
	if fields[6] != "typ" {
		return Candidate{}, xerrors.Errorf("expected 'typ', got %q", fields[6])
	}
	c := Candidate{
		Foundation: fields[0],
		Component:  component,
		Transport:  strings.ToLower(fields[2]),
		Priority:   uint32(priority),
		IP:         ip,
		Port:       port,
		Type:       CandidateType(fields[7]),
	}
	for i := 8; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case "raddr":
			c.RelatedAddr = net.ParseIP(fields[i+1])
		case "rport":
			p, _ := strconv.Atoi(fields[i+1])
			c.RelatedPort = p
		}
	}
	return c, nil
}

func (c Candidate) udpAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.IP, Port: c.Port}
}
