package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDefaultMatchesSpecTable pins every default to spec.md section 6's
// configuration table, so an accidental edit to a tunable is caught here
// rather than surfacing as a subtle wire-format mismatch at runtime.
func TestDefaultMatchesSpecTable(t *testing.T) {
	c := Default()

	require.Equal(t, Camera{Width: 1280, Height: 720, FPS: 30}, c.Camera)

	require.Equal(t, 1200, c.Media.SendMTU)
	require.Equal(t, 1_000_000, c.Media.VideoBitrate)
	require.Equal(t, byte(97), c.Media.VideoPT)
	require.Equal(t, uint32(12345), c.Media.VideoSSRC)
	require.Equal(t, uint32(3000), c.Media.VideoTSStep)
	require.Equal(t, 48000, c.Media.AudioSampleRate)
	require.Equal(t, 32000, c.Media.AudioBitrate)
	require.Equal(t, byte(111), c.Media.AudioPT)
	require.Equal(t, uint32(54321), c.Media.AudioSSRC)
	require.Equal(t, 20*time.Millisecond, c.Media.PacketInterval)

	require.Equal(t, 1*time.Second, c.RTCP.PeriodicReportInterval)
	require.Equal(t, 10*time.Second, c.RTCP.PeerTimeout)
	require.Equal(t, 200*time.Millisecond, c.RTCP.MinPLIInterval)

	require.Equal(t, uint16(5000), c.SCTP.Port)
	require.True(t, c.SCTP.Enabled)

	require.Equal(t, 64*1024, c.FileTransfer.ChunkSize)
	require.Equal(t, 100, c.FileTransfer.MaxFileSizeMB)
	require.Equal(t, 5, c.FileTransfer.MaxConcurrentUploads)
	require.Equal(t, 10, c.FileTransfer.MaxConcurrentDownloads)
	require.True(t, c.FileTransfer.IntegrityCheck)

	require.Equal(t, "0.0.0.0:7777", c.Signaling.Bind)
	require.Equal(t, 10, c.Signaling.MaxClients)
}

func TestDefaultReturnsIndependentCopies(t *testing.T) {
	a := Default()
	b := Default()
	a.Media.VideoSSRC = 1
	require.NotEqual(t, a.Media.VideoSSRC, b.Media.VideoSSRC)
}
