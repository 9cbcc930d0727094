package ice

import "fmt"

// PairState mirrors spec.md §4.11's ICE state progression, applied at
// the pair level during connectivity checks.
type PairState int

const (
	PairWaiting PairState = iota
	PairInProgress
	PairSucceeded
	PairFailed
)

// CandidatePair is one (local, remote) candidate combination under
// connectivity check, per spec.md §3 and §4.2.
type CandidatePair struct {
	Local, Remote Candidate

	State     PairState
	Nominated bool

	// Connectivity check bookkeeping (spec.md §4.2 retransmission schedule).
	transactionID [12]byte
	attempts      int
	lastSentAt    int64 // unix nanos; 0 if no check in flight
}

// pairPriority implements spec.md §4.2:
//
//	pair_priority(controlling, local_prio, remote_prio) = (max<<32)|min
//
// with the controlling agent's priority placed in the high word.
func pairPriority(controlling bool, localPrio, remotePrio uint32) uint64 {
	var g, d uint64
	if controlling {
		g, d = uint64(localPrio), uint64(remotePrio)
	} else {
		g, d = uint64(remotePrio), uint64(localPrio)
	}
	return g<<32 | d
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d [%v]", p.Local.IP, p.Local.Port, p.Remote.IP, p.Remote.Port, p.State)
}
