package signaling

import (
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/xerrors"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/rlog"
	"github.com/lanikai/roomrtc/internal/userstore"
)

var log = rlog.For("signaling")

type serverConn struct {
	conn net.Conn
	fw   *frameWriter
	mu   sync.Mutex // guards writes: one conn, one writer, never nested with Server.mu
}

func (c *serverConn) send(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fw.WriteRecord([]byte(m.Encode())); err != nil {
		log.Warn().Err(err).Msg("write to client failed")
	}
}

// Server is the signaling server of spec.md §6: registration/login,
// roster, call invite/accept/reject/end, and SDP/file-transfer message
// relay, all framed per the PSK AES-256-GCM record format.
//
// Grounded on the original implementation's signaling_server.rs
// (ServerState + handle_client), translated from a Mutex<ServerState>
// guarding everything to the teacher's narrower per-field locking
// style: the user directory is userstore.Store's own lock, and the
// roster/online map gets its own mutex here.
type Server struct {
	cfg   config.Signaling
	store *userstore.Store

	mu       sync.Mutex
	online   map[string]*serverConn
	presence map[string]UserState

	listener net.Listener
}

// NewServer creates a Server backed by store, not yet listening.
func NewServer(cfg config.Signaling, store *userstore.Store) *Server {
	presence := make(map[string]UserState)
	for _, name := range store.Usernames() {
		presence[name] = StateDisconnected
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		online:   make(map[string]*serverConn),
		presence: presence,
	}
}

// ListenAndServe accepts connections on cfg.Bind until Close is
// called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return xerrors.Errorf("signaling: listen: %w", err)
	}
	s.listener = ln
	log.Info().Str("addr", s.cfg.Bind).Msg("signaling server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return xerrors.Errorf("signaling: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	fr, err := newFrameReader(conn, s.cfg.PSK)
	if err != nil {
		log.Warn().Err(err).Msg("frame reader setup failed")
		return
	}
	fw, err := newFrameWriter(conn, s.cfg.PSK)
	if err != nil {
		log.Warn().Err(err).Msg("frame writer setup failed")
		return
	}
	sc := &serverConn{conn: conn, fw: fw}

	var currentUser string
	defer func() {
		if currentUser != "" {
			s.onDisconnect(currentUser)
		}
	}()

	for {
		record, err := fr.ReadRecord()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}

		msg := ParseMessage(string(record))
		currentUser = s.dispatch(sc, currentUser, msg)
	}
}

// dispatch handles one message and returns the (possibly newly set)
// logged-in username for the connection.
func (s *Server) dispatch(sc *serverConn, currentUser string, msg Message) string {
	switch msg.Type {
	case TypeRegister:
		s.handleRegister(sc, msg)
		return currentUser

	case TypeLogin:
		return s.handleLogin(sc, currentUser, msg)

	case TypeListUsers:
		sc.send(NewMessage(TypeUserList, "list", EncodeUserList(s.snapshotPresence())))
		return currentUser

	case TypeInvite:
		s.handleInvite(sc, currentUser, msg)
		return currentUser

	case TypeAcceptCall:
		s.handleAcceptCall(sc, currentUser, msg)
		return currentUser

	case TypeRejectCall:
		s.handleRejectCall(currentUser, msg)
		return currentUser

	case TypeEndCall:
		s.handleEndCall(currentUser, msg)
		return currentUser

	case TypeSDPOffer, TypeSDPAnswer:
		s.relay(msg.Get("to"), msg)
		return currentUser

	case TypeOfferFile, TypeAcceptFile, TypeRejectFile:
		s.relayFromSender(currentUser, msg)
		return currentUser

	default:
		return currentUser
	}
}

func (s *Server) handleRegister(sc *serverConn, msg Message) {
	username, password := msg.Get("username"), msg.Get("password")
	if username == "" || password == "" {
		return
	}
	if err := s.store.Register(username, password); err != nil {
		sc.send(NewMessage(TypeError, "msg", "Ya existe"))
		return
	}
	s.mu.Lock()
	s.presence[username] = StateDisconnected
	s.mu.Unlock()
	sc.send(NewMessage(TypeOK, "msg", "Registrado"))
}

func (s *Server) handleLogin(sc *serverConn, currentUser string, msg Message) string {
	username, password := msg.Get("username"), msg.Get("password")

	s.mu.Lock()
	if len(s.online) >= s.cfg.MaxClients {
		s.mu.Unlock()
		sc.send(NewMessage(TypeError, "msg", "Servidor lleno"))
		return currentUser
	}
	if _, already := s.online[username]; already {
		s.mu.Unlock()
		sc.send(NewMessage(TypeError, "msg", "Usuario ya conectado"))
		return currentUser
	}
	s.mu.Unlock()

	if !s.store.Authenticate(username, password) {
		if s.store.Exists(username) {
			sc.send(NewMessage(TypeError, "msg", "Contrasena incorrecta"))
		} else {
			sc.send(NewMessage(TypeError, "msg", "Usuario no existe"))
		}
		return currentUser
	}

	s.mu.Lock()
	s.online[username] = sc
	s.presence[username] = StateAvailable
	s.mu.Unlock()

	sc.send(NewMessage(TypeOK, "msg", "Login exitoso"))
	s.broadcastUserList()
	return username
}

func (s *Server) handleInvite(sc *serverConn, from string, msg Message) {
	to := msg.Get("to")
	if from == "" || to == "" {
		return
	}
	if !s.store.Exists(to) {
		sc.send(NewMessage(TypeError, "msg", "Usuario no existe"))
		return
	}
	if from == to {
		sc.send(NewMessage(TypeError, "msg", "No puedes llamarte a ti mismo"))
		return
	}

	s.mu.Lock()
	s.presence[from] = StateBusy
	s.presence[to] = StateBusy
	s.mu.Unlock()

	s.broadcastUserList()
	s.relay(to, NewMessage(TypeIncomingCall, "from", from))
}

func (s *Server) handleAcceptCall(sc *serverConn, accepter string, msg Message) {
	caller := msg.Get("from")
	if accepter == "" || caller == "" {
		return
	}
	if accepter == caller {
		sc.send(NewMessage(TypeError, "msg", "No podes aceptar tu propia llamada"))
		return
	}
	s.relay(caller, NewMessage(TypeCallAccepted, "by", accepter))
	s.relay(accepter, NewMessage(TypeCallEstablished, "with", caller))
}

func (s *Server) handleRejectCall(rejecter string, msg Message) {
	caller := msg.Get("from")
	if rejecter == "" || caller == "" {
		return
	}
	s.relay(caller, NewMessage(TypeCallRejected, "by", rejecter))

	s.mu.Lock()
	s.presence[rejecter] = StateAvailable
	s.presence[caller] = StateAvailable
	s.mu.Unlock()

	s.broadcastUserList()
}

func (s *Server) handleEndCall(sender string, msg Message) {
	with := msg.Get("with")
	if sender == "" || with == "" {
		return
	}
	s.relay(with, NewMessage(TypeCallEnded, "with", sender))

	s.mu.Lock()
	s.presence[sender] = StateAvailable
	s.presence[with] = StateAvailable
	s.mu.Unlock()

	s.broadcastUserList()
}

// relayFromSender forwards an OFFER_FILE/ACCEPT_FILE/REJECT_FILE
// message to msg["to"], with the server-attached "from" field set to
// the sender's own username (spec.md §6: "the server attaches
// from=<sender>").
func (s *Server) relayFromSender(from string, msg Message) {
	to := msg.Get("to")
	if from == "" || to == "" {
		return
	}
	delete(msg.Fields, "to")
	s.relay(to, msg.With("from", from))
}

func (s *Server) relay(to string, msg Message) {
	s.mu.Lock()
	target, ok := s.online[to]
	s.mu.Unlock()
	if !ok {
		return
	}
	target.send(msg)
}

func (s *Server) onDisconnect(username string) {
	s.mu.Lock()
	delete(s.online, username)
	s.presence[username] = StateDisconnected
	s.mu.Unlock()
	s.broadcastUserList()
}

func (s *Server) broadcastUserList() {
	list := EncodeUserList(s.snapshotPresence())
	msg := NewMessage(TypeUserList, "list", list)

	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.online))
	for _, c := range s.online {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.send(msg)
	}
}

func (s *Server) snapshotPresence() map[string]UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]UserState, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out
}
