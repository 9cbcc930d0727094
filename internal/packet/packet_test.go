package packet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriterSize(32)
	w.WriteByte(0xAB)
	w.WriteUint16(0x1234)
	w.WriteUint24(0x010203)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint64(0x0102030405060708)
	require.NoError(t, w.WriteString("hi"))

	r := NewReader(w.Bytes())
	require.Equal(t, byte(0xAB), r.ReadByte())
	require.Equal(t, uint16(0x1234), r.ReadUint16())
	require.Equal(t, uint32(0x010203), r.ReadUint24())
	require.Equal(t, uint32(0xdeadbeef), r.ReadUint32())
	require.Equal(t, uint64(0x0102030405060708), r.ReadUint64())
	require.Equal(t, "hi", r.ReadString(2))
	require.Equal(t, 0, r.Remaining())
}

func TestWriterCheckCapacity(t *testing.T) {
	w := NewWriterSize(2)
	require.Error(t, w.WriteSlice([]byte{1, 2, 3}))
}

func TestReaderCheckRemaining(t *testing.T) {
	r := NewReader([]byte{1, 2})
	require.NoError(t, r.CheckRemaining(2))
	require.Error(t, r.CheckRemaining(3))
}

func TestSharedBufferReleasesOnZeroCount(t *testing.T) {
	var wg sync.WaitGroup
	var released bool
	var mu sync.Mutex

	buf := NewSharedBuffer([]byte("payload"), 3, func() {
		mu.Lock()
		released = true
		mu.Unlock()
	})

	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			defer buf.Release()
			require.Equal(t, "payload", string(buf.Bytes()))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, released)
	require.Nil(t, buf.data)
}

func TestSharedBufferReleaseOnNilIsNoop(t *testing.T) {
	var buf *SharedBuffer
	require.NotPanics(t, func() { buf.Release() })
}

func TestSharedBufferHoldExtendsLifetime(t *testing.T) {
	var released bool
	buf := NewSharedBuffer([]byte("x"), 1, func() { released = true })
	buf.Hold()
	buf.Release()
	require.False(t, released)
	buf.Release()
	require.True(t, released)
}
