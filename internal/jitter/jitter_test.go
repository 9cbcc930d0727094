package jitter

import (
	"testing"

	"github.com/lanikai/roomrtc/internal/rtppkt"
	"github.com/stretchr/testify/require"
)

func push(b *Buffer, seq uint16) {
	b.Push(rtppkt.Header{Sequence: seq}, []byte{byte(seq)})
}

func TestMinBufferingOneIsPassThrough(t *testing.T) {
	b := New(10, 1)
	push(b, 5)
	h, payload, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, uint16(5), h.Sequence)
	require.Equal(t, []byte{5}, payload)
}

func TestDeliversInOrderDespiteReordering(t *testing.T) {
	b := New(20, 3)
	push(b, 10)
	push(b, 12)
	push(b, 11)

	var got []uint16
	for {
		h, _, ok := b.Pop()
		if !ok {
			break
		}
		got = append(got, h.Sequence)
	}
	require.Equal(t, []uint16{10, 11, 12}, got)
}

func TestHoldsBackUntilMinBufferingReached(t *testing.T) {
	b := New(20, 3)
	push(b, 1)
	push(b, 2)
	_, _, ok := b.Pop()
	require.False(t, ok, "should not deliver before min_buffering packets have arrived")

	push(b, 3)
	_, _, ok = b.Pop()
	require.True(t, ok)
}

func TestDropsPacketsOlderThanNextSeq(t *testing.T) {
	b := New(20, 1)
	push(b, 10)
	_, _, _ = b.Pop() // delivers 10, nextSeq becomes 11
	push(b, 5)        // older than nextSeq, dropped
	require.Equal(t, 0, b.Len())
}

func TestSkipsForwardWhenAtCapacityWithGap(t *testing.T) {
	b := New(3, 1)
	// nextSeq becomes 1 via the first push.
	push(b, 1)
	h, _, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, uint16(1), h.Sequence)

	// Now nextSeq == 2, but only later sequences arrive, filling capacity.
	push(b, 5)
	push(b, 6)
	push(b, 7)

	h, _, ok = b.Pop()
	require.True(t, ok)
	require.Equal(t, uint16(5), h.Sequence, "should skip forward to nearest buffered sequence at capacity")
}

func TestSequenceWraparound(t *testing.T) {
	b := New(10, 1)
	push(b, 65534)
	push(b, 65535)
	push(b, 0)
	push(b, 1)

	var got []uint16
	for {
		h, _, ok := b.Pop()
		if !ok {
			break
		}
		got = append(got, h.Sequence)
	}
	require.Equal(t, []uint16{65534, 65535, 0, 1}, got)
}
