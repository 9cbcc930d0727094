package filetransfer

import (
	"testing"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/datachannel"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	data := []byte("hello world")
	m := NewMetadata("greeting.txt", data)

	decoded, err := UnmarshalMetadata(m.Marshal())
	require.NoError(t, err)
	require.Equal(t, m, decoded)
	require.True(t, decoded.VerifyIntegrity(data))
}

func TestMetadataRejectsTruncatedBuffer(t *testing.T) {
	_, err := UnmarshalMetadata(make([]byte, 10))
	require.Error(t, err)
}

func TestVerifyIntegrityFailsOnCorruption(t *testing.T) {
	m := NewMetadata("a.bin", []byte("original"))
	require.False(t, m.VerifyIntegrity([]byte("corrupted")))
}

func defaultCfg() config.FileTransfer {
	return config.Default().FileTransfer
}

func TestSendFileRejectsOversizedFile(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxFileSizeMB = 0
	mgr := New(datachannel.New(true), cfg)

	_, _, err := mgr.SendFile("big.bin", []byte("x"))
	require.Error(t, err)
}

func TestSendFileEnforcesConcurrentUploadLimit(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxConcurrentUploads = 1
	dc := datachannel.New(true)
	mgr := New(dc, cfg)

	_, _, err := mgr.SendFile("a.txt", []byte("a"))
	require.NoError(t, err)

	_, _, err = mgr.SendFile("b.txt", []byte("b"))
	require.Error(t, err)
}

func TestAcceptEnforcesConcurrentDownloadLimit(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxConcurrentDownloads = 1
	dc := datachannel.New(false)
	mgr := New(dc, cfg)

	mgr.OnOfferFile(1, NewMetadata("a.bin", []byte("a")))
	mgr.OnOfferFile(2, NewMetadata("b.bin", []byte("b")))

	require.NoError(t, mgr.Accept(1))
	err := mgr.Accept(2)
	require.Error(t, err)
	require.Equal(t, 1, mgr.ActiveDownloadCount())
}

func TestOfferAcceptRejectLifecycle(t *testing.T) {
	dc := datachannel.New(false)
	mgr := New(dc, defaultCfg())

	metadata := NewMetadata("photo.jpg", []byte("binarydata"))
	ev := mgr.OnOfferFile(5, metadata)
	require.Equal(t, EventIncomingOffer, ev.Kind)

	require.NoError(t, mgr.Accept(5))
	require.Equal(t, 1, mgr.ActiveDownloadCount())

	mgr.Reject(5)
	require.Equal(t, 0, mgr.ActiveDownloadCount())
}

func TestOnIncomingDataCompletesDownloadAndVerifiesIntegrity(t *testing.T) {
	dc := datachannel.New(false)
	mgr := New(dc, defaultCfg())

	payload := []byte("the quick brown fox")
	metadata := NewMetadata("fox.txt", payload)
	mgr.OnOfferFile(1, metadata)
	mgr.Accept(1)

	mgr.OnIncomingData(1, payload)

	select {
	case ev := <-mgr.Events():
		require.Equal(t, EventCompleted, ev.Kind)
		require.Equal(t, payload, ev.Data)
	default:
		t.Fatal("expected a Completed event")
	}
}

func TestOnIncomingDataRejectsOnIntegrityMismatch(t *testing.T) {
	dc := datachannel.New(false)
	cfg := defaultCfg()
	cfg.IntegrityCheck = true
	mgr := New(dc, cfg)

	metadata := NewMetadata("file.bin", []byte("expected-bytes-here!"))
	mgr.OnOfferFile(2, metadata)
	mgr.Accept(2)

	mgr.OnIncomingData(2, []byte("tampered-bytes-here!"))

	select {
	case ev := <-mgr.Events():
		require.Equal(t, EventRejected, ev.Kind)
	default:
		t.Fatal("expected a Rejected event on integrity mismatch")
	}
}

func TestOnIncomingDataClipsToRemainingSize(t *testing.T) {
	dc := datachannel.New(false)
	cfg := defaultCfg()
	cfg.ChunkSize = 4
	mgr := New(dc, cfg)

	metadata := NewMetadata("small.bin", []byte("ab"))
	mgr.OnOfferFile(3, metadata)
	mgr.Accept(3)

	// Sends more than remaining size; should clip to metadata.Size.
	mgr.OnIncomingData(3, []byte("abcdef"))

	select {
	case ev := <-mgr.Events():
		require.Equal(t, []byte("ab"), ev.Data)
	default:
		t.Fatal("expected a Completed event")
	}
}
