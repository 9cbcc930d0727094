// Package config centralizes every tunable named in the configuration
// table, following the teacher's flat Config struct (config.go) rather
// than a reflection-based config-file library.
package config

import "time"

// Camera holds capture parameters for the (externally owned) camera source.
type Camera struct {
	Width   int
	Height  int
	FPS     int
}

// Media holds codec/RTP-session parameters shared by the send/receive runners.
type Media struct {
	SendMTU int

	VideoBitrate  int
	VideoPT       byte
	VideoSSRC     uint32
	VideoTSStep   uint32

	AudioSampleRate int
	AudioBitrate    int
	AudioPT         byte
	AudioSSRC       uint32
	PacketInterval  time.Duration
}

// RTCP holds RTCP engine tunables.
type RTCP struct {
	PeriodicReportInterval time.Duration
	PeerTimeout             time.Duration
	MinPLIInterval          time.Duration
}

// SCTP holds data-channel manager tunables.
type SCTP struct {
	Port            uint16
	Enabled         bool
	BackpressureCap int
	BackpressureMax time.Duration
}

// FileTransfer holds file transfer manager limits.
type FileTransfer struct {
	ChunkSize             int
	MaxFileSizeMB         int
	MaxConcurrentUploads  int
	MaxConcurrentDownloads int
	IntegrityCheck        bool
}

// Signaling holds signaling server/client tunables.
type Signaling struct {
	Bind       string
	MaxClients int

	// PSK is hashed with SHA-256 to derive the AES-256-GCM framing key
	// for the signaling TCP connection (spec.md §6).
	PSK string

	PeerTimeout time.Duration
}

// Config aggregates every subsystem's defaults.
type Config struct {
	Camera       Camera
	Media        Media
	RTCP         RTCP
	SCTP         SCTP
	FileTransfer FileTransfer
	Signaling    Signaling
}

// Default returns the configuration table from spec.md section 6.
func Default() Config {
	return Config{
		Camera: Camera{Width: 1280, Height: 720, FPS: 30},
		Media: Media{
			SendMTU:         1200,
			VideoBitrate:    1_000_000,
			VideoPT:         97,
			VideoSSRC:       12345,
			VideoTSStep:     3000,
			AudioSampleRate: 48000,
			AudioBitrate:    32000,
			AudioPT:         111,
			AudioSSRC:       54321,
			PacketInterval:  20 * time.Millisecond,
		},
		RTCP: RTCP{
			PeriodicReportInterval: 1 * time.Second,
			PeerTimeout:            10 * time.Second,
			MinPLIInterval:         200 * time.Millisecond,
		},
		SCTP: SCTP{
			Port:            5000,
			Enabled:         true,
			BackpressureCap: 512,
			BackpressureMax: 5 * time.Second,
		},
		FileTransfer: FileTransfer{
			ChunkSize:              64 * 1024,
			MaxFileSizeMB:          100,
			MaxConcurrentUploads:   5,
			MaxConcurrentDownloads: 10,
			IntegrityCheck:         true,
		},
		Signaling: Signaling{
			Bind:        "0.0.0.0:7777",
			MaxClients:  10,
			PSK:         "change-me",
			PeerTimeout: 10 * time.Second,
		},
	}
}
