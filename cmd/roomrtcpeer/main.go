package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/roomrtc/internal/call"
	"github.com/lanikai/roomrtc/internal/certutil"
	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/filetransfer"
	"github.com/lanikai/roomrtc/internal/rlog"
	"github.com/lanikai/roomrtc/internal/sdpneg"
	"github.com/lanikai/roomrtc/internal/signaling"
)

var log = rlog.For("roomrtcpeer")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagUsername == "" || flagPassword == "" {
		fmt.Fprintln(os.Stderr, "roomrtcpeer: --username and --password are required")
		os.Exit(1)
	}

	cert, err := certutil.Generate()
	if err != nil {
		log.Fatal().Err(err).Msg("generate local certificate")
	}

	client, err := signaling.Dial(flagServer, flagPSK)
	if err != nil {
		log.Fatal().Err(err).Msg("dial signaling server")
	}
	defer client.Close()

	if flagRegister {
		if err := client.Register(flagUsername, flagPassword); err != nil {
			log.Fatal().Err(err).Msg("send REGISTER")
		}
		reply := <-client.Incoming()
		log.Info().Str("type", reply.Type).Str("msg", reply.Get("msg")).Msg("register reply")
	}
	if err := client.Login(flagUsername, flagPassword); err != nil {
		log.Fatal().Err(err).Msg("send LOGIN")
	}
	reply := <-client.Incoming()
	if reply.Type != signaling.TypeOK {
		log.Fatal().Str("msg", reply.Get("msg")).Msg("login rejected")
	}
	log.Info().Msg("logged in")

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		client.Close()
	}()

	p := &peer{
		ctx:      ctx,
		cfg:      config.Default(),
		cert:     cert,
		client:   client,
		answerCh: make(chan string, 1),
	}

	if flagCall != "" {
		if err := client.Invite(flagCall); err != nil {
			log.Fatal().Err(err).Msg("send INVITE")
		}
		log.Info().Str("to", flagCall).Msg("invite sent")
	}

	p.run()
}

// peer drives the signaling event loop and, once a call is
// established, hands off ICE/DTLS/SCTP bring-up to internal/call.
// Camera/microphone capture and the H.264/Opus codecs are external
// collaborators (spec.md §1) this CLI does not provide, so only the
// data-channel/file-transfer half of a call is exercised here.
type peer struct {
	ctx    context.Context
	cfg    config.Config
	cert   *certutil.Certificate
	client *signaling.Client

	peerName string
	answerCh chan string

	ftMu sync.Mutex
	ft   *filetransfer.Manager
}

func (p *peer) setFileTransfer(ft *filetransfer.Manager) {
	p.ftMu.Lock()
	p.ft = ft
	p.ftMu.Unlock()
}

func (p *peer) fileTransfer() *filetransfer.Manager {
	p.ftMu.Lock()
	defer p.ftMu.Unlock()
	return p.ft
}

func (p *peer) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.client.Incoming():
			if !ok {
				return
			}
			p.dispatch(msg)
		}
	}
}

func (p *peer) dispatch(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeUserList:
		log.Info().Str("users", msg.Get("list")).Msg("roster")

	case signaling.TypeIncomingCall:
		from := msg.Get("from")
		log.Info().Str("from", from).Msg("incoming call, auto-accepting")
		if err := p.client.AcceptCall(from); err != nil {
			log.Warn().Err(err).Msg("accept call")
			return
		}
		p.peerName = from

	case signaling.TypeCallAccepted:
		p.peerName = msg.Get("by")
		go p.negotiateAsInitiator()

	case signaling.TypeCallEstablished:
		p.peerName = msg.Get("with")
		// Wait for the offer; negotiateAsAcceptor runs once it arrives.

	case signaling.TypeSDPOffer:
		go p.negotiateAsAcceptor(msg.Get("sdp"))

	case signaling.TypeSDPAnswer:
		select {
		case p.answerCh <- msg.Get("sdp"):
		default:
		}

	case signaling.TypeOfferFile:
		p.handleOfferFile(msg)

	case signaling.TypeAcceptFile:
		p.handleAcceptFile(msg)

	case signaling.TypeRejectFile:
		p.handleRejectFile(msg)

	case signaling.TypeCallRejected:
		log.Info().Msg("call rejected")

	case signaling.TypeCallEnded:
		log.Info().Msg("call ended")

	case signaling.TypeError:
		log.Warn().Str("msg", msg.Get("msg")).Msg("server error")
	}
}

func (p *peer) negotiateAsInitiator() {
	session := call.NewSession(p.cert, "")
	receiver := call.NewReceiver(p.cfg, session, true, flagSTUN)

	candidates, err := receiver.GatherCandidates(p.ctx)
	if err != nil {
		log.Warn().Err(err).Msg("gather candidates")
		return
	}
	ufrag, pwd := receiver.LocalICECredentials()
	port := candidates[0].Port
	audio, video := sdpneg.MediaFromConfig(p.cfg.Media, port, port)
	offer := sdpneg.Offer{
		ICEUfrag:    ufrag,
		ICEPwd:      pwd,
		Fingerprint: p.cert.Fingerprint,
		Setup:       sdpneg.SetupActive,
		Candidates:  candidates,
		Audio:       &audio,
		Video:       &video,
	}
	sdpText := sdpneg.Build(offer, candidates[0].IP.String(), sdpneg.NewSessionID(), 1)

	if err := p.client.SendOffer(p.peerName, sdpText); err != nil {
		log.Warn().Err(err).Msg("send offer")
		return
	}

	var answerSDP string
	select {
	case answerSDP = <-p.answerCh:
	case <-p.ctx.Done():
		return
	}

	remote, err := sdpneg.Parse(answerSDP)
	if err != nil {
		log.Warn().Err(err).Msg("parse answer")
		return
	}
	session.RemoteFingerprint = remote.Fingerprint

	p.bootstrapAndRun(receiver, session, remote)
}

func (p *peer) negotiateAsAcceptor(offerSDP string) {
	remote, err := sdpneg.Parse(offerSDP)
	if err != nil {
		log.Warn().Err(err).Msg("parse offer")
		return
	}

	session := call.NewSession(p.cert, remote.Fingerprint)
	receiver := call.NewReceiver(p.cfg, session, false, flagSTUN)

	candidates, err := receiver.GatherCandidates(p.ctx)
	if err != nil {
		log.Warn().Err(err).Msg("gather candidates")
		return
	}
	ufrag, pwd := receiver.LocalICECredentials()
	port := candidates[0].Port
	audio, video := sdpneg.MediaFromConfig(p.cfg.Media, port, port)
	answer := sdpneg.Offer{
		ICEUfrag:    ufrag,
		ICEPwd:      pwd,
		Fingerprint: p.cert.Fingerprint,
		Setup:       sdpneg.SetupPassive,
		Candidates:  candidates,
		Audio:       &audio,
		Video:       &video,
	}
	sdpText := sdpneg.Build(answer, candidates[0].IP.String(), sdpneg.NewSessionID(), 1)

	if err := p.client.SendAnswer(p.peerName, sdpText); err != nil {
		log.Warn().Err(err).Msg("send answer")
		return
	}

	p.bootstrapAndRun(receiver, session, remote)
}

func (p *peer) bootstrapAndRun(receiver *call.Receiver, session *call.Session, remote sdpneg.Offer) {
	if err := receiver.Bootstrap(p.ctx, remote); err != nil {
		log.Warn().Err(err).Msg("bootstrap failed")
		return
	}
	log.Info().Str("peer", p.peerName).Msg("call established, data channel up")

	ft := filetransfer.New(session.DataChannelManager(), p.cfg.FileTransfer)
	p.setFileTransfer(ft)
	go p.pumpFileEvents(ft)

	if flagSendFile != "" {
		go p.offerFile(ft)
	}

	if err := receiver.Run(p.ctx, ft); err != nil {
		log.Info().Err(err).Msg("call ended")
	}
}

// handleOfferFile registers a remote OFFER_FILE announcement against the
// active call's file-transfer manager. The resulting IncomingOffer event
// flows through pumpFileEvents like any other.
func (p *peer) handleOfferFile(msg signaling.Message) {
	ft := p.fileTransfer()
	if ft == nil {
		log.Warn().Msg("OFFER_FILE received with no call established")
		return
	}
	streamID, err := parseStreamID(msg.Get("stream_id"))
	if err != nil {
		log.Warn().Err(err).Msg("OFFER_FILE stream_id")
		return
	}
	size, err := strconv.ParseUint(msg.Get("file_size"), 10, 64)
	if err != nil {
		log.Warn().Err(err).Msg("OFFER_FILE file_size")
		return
	}
	sha, err := hex.DecodeString(msg.Get("file_sha256"))
	if err != nil || len(sha) != 32 {
		log.Warn().Msg("OFFER_FILE file_sha256 malformed")
		return
	}
	var metadata filetransfer.Metadata
	metadata.Name = msg.Get("file_name")
	metadata.Size = size
	copy(metadata.SHA256[:], sha)

	ev := ft.OnOfferFile(streamID, metadata)
	p.handleFileEvent(ft, ev)
}

func (p *peer) handleAcceptFile(msg signaling.Message) {
	ft := p.fileTransfer()
	if ft == nil {
		return
	}
	streamID, err := parseStreamID(msg.Get("stream_id"))
	if err != nil {
		log.Warn().Err(err).Msg("ACCEPT_FILE stream_id")
		return
	}
	if err := ft.AcceptFileByRemote(streamID); err != nil {
		log.Warn().Err(err).Msg("start accepted upload")
	}
}

func (p *peer) handleRejectFile(msg signaling.Message) {
	ft := p.fileTransfer()
	if ft == nil {
		return
	}
	streamID, err := parseStreamID(msg.Get("stream_id"))
	if err != nil {
		log.Warn().Err(err).Msg("REJECT_FILE stream_id")
		return
	}
	log.Info().Uint16("streamID", streamID).Str("reason", msg.Get("reason")).Msg("remote rejected file offer")
	ft.Reject(streamID)
}

func parseStreamID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func (p *peer) offerFile(ft *filetransfer.Manager) {
	data, err := os.ReadFile(flagSendFile)
	if err != nil {
		log.Warn().Err(err).Msg("read file to send")
		return
	}
	streamID, metadata, err := ft.SendFile(filepath.Base(flagSendFile), data)
	if err != nil {
		log.Warn().Err(err).Msg("queue file send")
		return
	}
	sha256Hex := hex.EncodeToString(metadata.SHA256[:])
	if err := p.client.OfferFile(p.peerName, streamID, metadata.Name, metadata.Size, sha256Hex); err != nil {
		log.Warn().Err(err).Msg("send OFFER_FILE")
	}
}

func (p *peer) pumpFileEvents(ft *filetransfer.Manager) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-ft.Events():
			if !ok {
				return
			}
			p.handleFileEvent(ft, ev)
		}
	}
}

func (p *peer) handleFileEvent(ft *filetransfer.Manager, ev filetransfer.Event) {
	switch ev.Kind {
	case filetransfer.EventIncomingOffer:
		log.Info().Str("name", ev.Metadata.Name).Uint64("size", ev.Metadata.Size).Msg("incoming file offer, auto-accepting")
		if err := ft.Accept(ev.StreamID); err != nil {
			log.Warn().Err(err).Msg("reject file offer over capacity")
			if err := p.client.RejectFile(p.peerName, ev.StreamID, "too many concurrent downloads"); err != nil {
				log.Warn().Err(err).Msg("send REJECT_FILE")
			}
			return
		}
		if err := p.client.AcceptFile(p.peerName, ev.StreamID); err != nil {
			log.Warn().Err(err).Msg("send ACCEPT_FILE")
		}
	case filetransfer.EventCompleted:
		out := filepath.Join(flagOutDir, ev.Metadata.Name)
		if err := os.WriteFile(out, ev.Data, 0o644); err != nil {
			log.Warn().Err(err).Msg("write received file")
			return
		}
		log.Info().Str("path", out).Msg("file received")
	case filetransfer.EventRejected:
		log.Warn().Str("reason", ev.Reason).Msg("file transfer rejected")
	}
}
