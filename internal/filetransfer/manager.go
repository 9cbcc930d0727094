package filetransfer

import (
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/datachannel"
	"github.com/lanikai/roomrtc/internal/rlog"
)

var log = rlog.For("filetransfer")

// EventKind tags the variants of Event.
type EventKind int

const (
	EventIncomingOffer EventKind = iota
	EventCompleted
	EventRejected
)

// Event reports one file-transfer state change, polled by the call
// layer and surfaced to the signaling/UI collaborator.
type Event struct {
	Kind     EventKind
	StreamID uint16
	Metadata Metadata
	Data     []byte // populated for EventCompleted
	Reason   string // populated for EventRejected
}

type downloadState struct {
	metadata Metadata
	received []byte
}

type uploadState struct {
	metadata Metadata
	data     []byte
}

// Manager is the file-transfer layer of spec.md §4.9, sitting on top of
// a *datachannel.Manager.
type Manager struct {
	mu sync.Mutex

	dc  *datachannel.Manager
	cfg config.FileTransfer

	pendingOffers   map[uint16]Metadata
	activeDownloads map[uint16]*downloadState
	activeUploads   map[uint16]*uploadState

	events chan Event
}

// New creates a Manager bound to an already-connected data-channel
// manager.
func New(dc *datachannel.Manager, cfg config.FileTransfer) *Manager {
	return &Manager{
		dc:              dc,
		cfg:             cfg,
		pendingOffers:   make(map[uint16]Metadata),
		activeDownloads: make(map[uint16]*downloadState),
		activeUploads:   make(map[uint16]*uploadState),
		events:          make(chan Event, 16),
	}
}

// Events returns the channel new EventIncomingOffer/Completed/Rejected
// notifications are delivered on.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) chunkSize() int {
	if m.cfg.ChunkSize > 0 {
		return m.cfg.ChunkSize
	}
	return 64 * 1024
}

// SendFile allocates a dedicated data channel for name/data and
// registers it as a pending upload, returning the stream ID the caller
// should advertise in an OFFER_FILE signaling message. The actual bytes
// are not transmitted until the remote peer accepts (AcceptFileByRemote).
func (m *Manager) SendFile(name string, data []byte) (uint16, Metadata, error) {
	m.mu.Lock()
	if len(m.activeUploads) >= m.cfg.MaxConcurrentUploads {
		m.mu.Unlock()
		return 0, Metadata{}, xerrors.Errorf("filetransfer: max concurrent uploads (%d) reached", m.cfg.MaxConcurrentUploads)
	}
	maxBytes := uint64(m.cfg.MaxFileSizeMB) * 1024 * 1024
	if uint64(len(data)) > maxBytes {
		m.mu.Unlock()
		return 0, Metadata{}, xerrors.Errorf("filetransfer: file too large (%d bytes, max %d MiB)", len(data), m.cfg.MaxFileSizeMB)
	}
	m.mu.Unlock()

	metadata := NewMetadata(name, data)

	streamID, err := m.dc.CreateChannel(name)
	if err != nil {
		return 0, Metadata{}, xerrors.Errorf("filetransfer: %w", err)
	}

	m.mu.Lock()
	m.activeUploads[streamID] = &uploadState{metadata: metadata, data: data}
	m.mu.Unlock()

	return streamID, metadata, nil
}

// OnOfferFile registers an incoming OFFER_FILE announcement and returns
// the IncomingOffer event for the caller to surface to the user.
func (m *Manager) OnOfferFile(streamID uint16, metadata Metadata) Event {
	m.mu.Lock()
	m.pendingOffers[streamID] = metadata
	m.mu.Unlock()
	return Event{Kind: EventIncomingOffer, StreamID: streamID, Metadata: metadata}
}

// Accept moves a pending offer into an active download, to be called
// after the local user accepts and an ACCEPT_FILE message has been
// sent. Returns an error, with no state mutated, if the concurrent
// download limit (spec.md §4.9/§6) is already at capacity.
func (m *Manager) Accept(streamID uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metadata, ok := m.pendingOffers[streamID]
	if !ok {
		return nil
	}
	if len(m.activeDownloads) >= m.cfg.MaxConcurrentDownloads {
		return xerrors.Errorf("filetransfer: max concurrent downloads (%d) reached", m.cfg.MaxConcurrentDownloads)
	}
	delete(m.pendingOffers, streamID)
	m.activeDownloads[streamID] = &downloadState{metadata: metadata}
	return nil
}

// Reject cancels a pending offer or an in-progress transfer (either
// direction) and closes its stream.
func (m *Manager) Reject(streamID uint16) {
	m.mu.Lock()
	delete(m.pendingOffers, streamID)
	delete(m.activeDownloads, streamID)
	delete(m.activeUploads, streamID)
	m.mu.Unlock()

	if err := m.dc.CloseStream(streamID); err != nil {
		log.Warn().Err(err).Uint16("streamID", streamID).Msg("close stream on reject")
	}
}

// AcceptFileByRemote begins streaming an accepted upload's bytes in the
// background, chunked and paced by the data channel's buffered amount,
// per spec.md §5's back-pressure rule (cap 512 bytes, 5s ceiling).
func (m *Manager) AcceptFileByRemote(streamID uint16) error {
	m.mu.Lock()
	upload, ok := m.activeUploads[streamID]
	if ok {
		delete(m.activeUploads, streamID) // the goroutine now owns sending
	}
	m.mu.Unlock()
	if !ok {
		return xerrors.Errorf("filetransfer: no upload registered for stream %d", streamID)
	}

	chunkSize := m.chunkSize()
	backpressureCap := 512
	maxWait := 5 * time.Second

	go m.streamUpload(streamID, upload.data, chunkSize, backpressureCap, maxWait)
	return nil
}

func (m *Manager) streamUpload(streamID uint16, data []byte, chunkSize, backpressureCap int, maxWait time.Duration) {
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := m.dc.SendFileData(streamID, data[offset:end]); err != nil {
			log.Warn().Err(err).Uint16("streamID", streamID).Msg("send file chunk failed")
			return
		}

		deadline := time.Now().Add(maxWait)
		for {
			buffered, err := m.dc.BufferedAmount(streamID)
			if err != nil {
				break
			}
			if int(buffered) < backpressureCap {
				break
			}
			if time.Now().After(deadline) {
				log.Warn().Uint16("streamID", streamID).Msg("timed out waiting for buffered amount to drain")
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// OnIncomingData feeds one SCTP payload for streamID into its active
// download, clipping to the remaining expected size and the configured
// chunk limit as an anti-inflation guard (spec.md §4.9). When the
// download completes, it verifies integrity (if enabled) and emits a
// Completed or Rejected event.
func (m *Manager) OnIncomingData(streamID uint16, data []byte) {
	m.mu.Lock()
	download, ok := m.activeDownloads[streamID]
	if !ok {
		m.mu.Unlock()
		return
	}

	remaining := int(download.metadata.Size) - len(download.received)
	toTake := len(data)
	if remaining < toTake {
		toTake = remaining
	}
	if limit := m.chunkSize(); limit < toTake {
		toTake = limit
	}
	if toTake > 0 {
		download.received = append(download.received, data[:toTake]...)
	}

	complete := uint64(len(download.received)) >= download.metadata.Size
	var metadata Metadata
	var received []byte
	if complete {
		metadata = download.metadata
		received = download.received
		delete(m.activeDownloads, streamID)
	}
	checkIntegrity := m.cfg.IntegrityCheck
	m.mu.Unlock()

	if !complete {
		return
	}

	if checkIntegrity && !metadata.VerifyIntegrity(received) {
		m.emit(Event{Kind: EventRejected, StreamID: streamID, Reason: "integrity check failed"})
		if err := m.dc.CloseStream(streamID); err != nil {
			log.Warn().Err(err).Msg("close stream after failed integrity check")
		}
		return
	}

	m.emit(Event{Kind: EventCompleted, StreamID: streamID, Metadata: metadata, Data: received})
}

func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
		log.Warn().Int("kind", int(e.Kind)).Msg("file transfer event queue full, dropping")
	}
}

// ActiveUploadCount and ActiveDownloadCount back the concurrency limits
// in spec.md §6's configuration table.
func (m *Manager) ActiveUploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeUploads)
}

func (m *Manager) ActiveDownloadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeDownloads)
}
