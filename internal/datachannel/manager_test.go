package datachannel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitiatorStartsAtEvenStreamIDs(t *testing.T) {
	m := New(true)
	id1, err := m.CreateChannel("file-transfer")
	require.NoError(t, err)
	require.Equal(t, uint16(0), id1)

	id2, err := m.CreateChannel("second")
	require.NoError(t, err)
	require.Equal(t, uint16(2), id2)
}

func TestAcceptorStartsAtOddStreamIDs(t *testing.T) {
	m := New(false)
	id1, err := m.CreateChannel("file-transfer")
	require.NoError(t, err)
	require.Equal(t, uint16(1), id1)

	id2, err := m.CreateChannel("second")
	require.NoError(t, err)
	require.Equal(t, uint16(3), id2)
}

func TestCreateChannelStoresMetadata(t *testing.T) {
	m := New(true)
	id, err := m.CreateChannel("file-transfer")
	require.NoError(t, err)

	ch, ok := m.channels[id]
	require.True(t, ok)
	require.Equal(t, "file-transfer", ch.Label)
	require.Equal(t, ChannelConnecting, ch.State)
}

func TestStreamIDExhaustionReturnsError(t *testing.T) {
	m := New(true)
	m.nextStreamID = 65534

	id, err := m.CreateChannel("last")
	require.NoError(t, err)
	require.Equal(t, uint16(65534), id)

	_, err = m.CreateChannel("overflow")
	require.Error(t, err)
}

func TestSendFileDataRejectsEmptyPayload(t *testing.T) {
	m := New(true)
	_, err := m.CreateChannel("test")
	require.NoError(t, err)

	err = m.SendFileData(0, nil)
	require.Error(t, err)
}

func TestSendFileDataRequiresAssociation(t *testing.T) {
	m := New(true)
	_, err := m.CreateChannel("test")
	require.NoError(t, err)

	err = m.SendFileData(0, []byte{1, 2, 3})
	require.Error(t, err)
}
