// Package jitter implements the RTP reorder/jitter buffer of spec.md
// §4.6.
//
// Grounded directly on the jitter buffer algorithm in the original
// Rust implementation's protocols/jitter_buffer.rs: a sequence-ordered
// map keyed by the 16-bit RTP sequence number, a buffering gate that
// holds back delivery until min_buffering packets have accumulated,
// and a capacity-eviction rule that skips forward to the
// nearest-buffered sequence once max_capacity is reached. Go has no
// BTreeMap in the standard library, so the ordered map is a sorted
// []uint16 index kept alongside a plain map — the teacher's own
// internal/packet helpers favor small hand-rolled data structures over
// pulling in a container library for something this size.
package jitter

import (
	"sort"

	"github.com/lanikai/roomrtc/internal/rtppkt"
)

type entry struct {
	header  rtppkt.Header
	payload []byte
}

// Buffer reorders RTP packets by sequence number before delivery.
// It is not safe for concurrent use; callers serialize access per
// stream, matching spec.md §5's "one goroutine touches one jitter
// buffer" rule.
type Buffer struct {
	packets map[uint16]entry
	order   []uint16 // kept sorted by modular distance from nextSeq is not meaningful; sorted by raw value, searched via wraparound distance

	haveNext     bool
	nextSeq      uint16
	maxCapacity  int
	minBuffering int
	buffering    bool
}

// New creates a Buffer. maxCapacity bounds how many out-of-order packets
// are held before the eviction rule kicks in; minBuffering is how many
// packets accumulate before pop starts returning anything.
func New(maxCapacity, minBuffering int) *Buffer {
	return &Buffer{
		packets:      make(map[uint16]entry),
		maxCapacity:  maxCapacity,
		minBuffering: minBuffering,
		buffering:    true,
	}
}

// seqDiff returns the signed 16-bit modular distance seq-base, matching
// the Rust implementation's `(seq.wrapping_sub(base)) as i16`.
func seqDiff(seq, base uint16) int16 {
	return int16(seq - base)
}

// Push inserts a received RTP packet. Packets that arrive behind the
// next sequence to deliver are silently dropped as too late.
func (b *Buffer) Push(h rtppkt.Header, payload []byte) {
	if !b.haveNext {
		b.nextSeq = h.Sequence
		b.haveNext = true
	}

	if seqDiff(h.Sequence, b.nextSeq) < 0 {
		return // arrived too late, drop
	}

	if _, exists := b.packets[h.Sequence]; !exists {
		b.insertSorted(h.Sequence)
	}
	b.packets[h.Sequence] = entry{header: h, payload: payload}
}

func (b *Buffer) insertSorted(seq uint16) {
	i := sort.Search(len(b.order), func(i int) bool { return b.order[i] >= seq })
	b.order = append(b.order, 0)
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = seq
}

func (b *Buffer) removeFromOrder(seq uint16) {
	i := sort.Search(len(b.order), func(i int) bool { return b.order[i] >= seq })
	if i < len(b.order) && b.order[i] == seq {
		b.order = append(b.order[:i], b.order[i+1:]...)
	}
}

// Pop returns the next packet to deliver, in sequence order, or ok=false
// if nothing is ready yet.
func (b *Buffer) Pop() (header rtppkt.Header, payload []byte, ok bool) {
	if b.buffering {
		if len(b.packets) < b.minBuffering {
			return rtppkt.Header{}, nil, false
		}
		b.buffering = false
	}

	if len(b.packets) == 0 {
		b.buffering = true
		return rtppkt.Header{}, nil, false
	}

	next := b.nextSeq
	if e, found := b.packets[next]; found {
		delete(b.packets, next)
		b.removeFromOrder(next)
		b.nextSeq = next + 1
		return e.header, e.payload, true
	}

	if len(b.packets) >= b.maxCapacity {
		var bestSeq uint16
		var minDiff int16 = 1<<15 - 1
		found := false
		for _, seq := range b.order {
			diff := seqDiff(seq, next)
			if diff > 0 && diff < minDiff {
				minDiff = diff
				bestSeq = seq
				found = true
			}
		}
		if !found && len(b.order) > 0 {
			bestSeq = b.order[0]
			found = true
		}
		if found {
			e := b.packets[bestSeq]
			delete(b.packets, bestSeq)
			b.removeFromOrder(bestSeq)
			b.nextSeq = bestSeq + 1
			return e.header, e.payload, true
		}
	}

	return rtppkt.Header{}, nil, false
}

// Len reports the number of packets currently held.
func (b *Buffer) Len() int {
	return len(b.packets)
}
