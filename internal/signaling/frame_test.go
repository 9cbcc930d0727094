package signaling

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw, err := newFrameWriter(&buf, "test-psk")
	require.NoError(t, err)
	require.NoError(t, fw.WriteRecord([]byte("LOGIN|username=alice|password=pw")))

	fr, err := newFrameReader(&buf, "test-psk")
	require.NoError(t, err)
	record, err := fr.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, "LOGIN|username=alice|password=pw", string(record))
}

func TestFrameWrongPSKFailsToDecrypt(t *testing.T) {
	var buf bytes.Buffer
	fw, err := newFrameWriter(&buf, "correct-psk")
	require.NoError(t, err)
	require.NoError(t, fw.WriteRecord([]byte("hello")))

	fr, err := newFrameReader(&buf, "wrong-psk")
	require.NoError(t, err)
	_, err = fr.ReadRecord()
	require.Error(t, err)
}

func TestFrameNoncesDiffer(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fw1, _ := newFrameWriter(&buf1, "psk")
	fw2, _ := newFrameWriter(&buf2, "psk")
	require.NoError(t, fw1.WriteRecord([]byte("same payload")))
	require.NoError(t, fw2.WriteRecord([]byte("same payload")))
	require.NotEqual(t, buf1.Bytes(), buf2.Bytes())
}

func TestFrameMultipleRecordsOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	fw, err := newFrameWriter(&buf, "psk")
	require.NoError(t, err)
	require.NoError(t, fw.WriteRecord([]byte("first")))
	require.NoError(t, fw.WriteRecord([]byte("second")))

	fr, err := newFrameReader(&buf, "psk")
	require.NoError(t, err)
	r1, err := fr.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, "first", string(r1))
	r2, err := fr.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, "second", string(r2))
}
