package call

// VideoSource and AudioSource are the externally-owned capture
// collaborators of spec.md §1: the engine consumes raw frames but
// does not own the camera/microphone. Encoder/Decoder are likewise
// external codec wrappers (H.264/Opus).
type VideoSource interface {
	// ReadFrame blocks until one raw video frame is available.
	ReadFrame() ([]byte, error)
}

type AudioSource interface {
	// ReadFrame blocks until one PCM frame (20ms worth, per spec.md
	// §4.10) is available.
	ReadFrame() ([]byte, error)
}

// Encoder turns a raw frame into one encoded access unit (a single
// H.264 NAL unit, or an Opus frame).
type Encoder interface {
	Encode(raw []byte) ([]byte, error)
}

// Decoder turns a reassembled access unit back into a raw frame
// (decoded video, or PCM).
type Decoder interface {
	Decode(accessUnit []byte) ([]byte, error)
}

// FrameSink receives decoded remote media, e.g. to hand off to a
// display/playback collaborator.
type FrameSink interface {
	OnVideoFrame(raw []byte)
	OnAudioFrame(pcm []byte)
}
