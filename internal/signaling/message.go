package signaling

import (
	"strconv"
	"strings"
)

func itoa(v uint16) string  { return strconv.Itoa(int(v)) }
func uitoa(v uint64) string { return strconv.FormatUint(v, 10) }

// Message is one pipe-delimited text record, "TYPE|k=v|k=v|…" per
// spec.md §6.
type Message struct {
	Type   string
	Fields map[string]string
}

// NewMessage builds a Message from alternating key/value pairs, e.g.
// NewMessage("INVITE", "to", "bob").
func NewMessage(typ string, kv ...string) Message {
	m := Message{Type: typ, Fields: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Fields[kv[i]] = kv[i+1]
	}
	return m
}

// Encode renders the message to its wire text form.
func (m Message) Encode() string {
	var b strings.Builder
	b.WriteString(m.Type)
	for k, v := range m.Fields {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// ParseMessage parses the wire text form produced by Encode.
func ParseMessage(text string) Message {
	parts := strings.Split(text, "|")

	typ := parts[0]
	rest := parts[1:]
	// SDP's two variants are a literal second token rather than a k=v
	// field: "SDP|OFFER|to=...|sdp=..." / "SDP|ANSWER|to=...|sdp=...".
	if typ == "SDP" && len(rest) > 0 && (rest[0] == "OFFER" || rest[0] == "ANSWER") {
		typ = typ + "|" + rest[0]
		rest = rest[1:]
	}

	m := Message{Type: typ, Fields: make(map[string]string, len(rest))}
	for _, field := range rest {
		k, v, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		m.Fields[k] = v
	}
	return m
}

// Get returns a field value, or "" if absent.
func (m Message) Get(key string) string { return m.Fields[key] }

// With returns a copy of m with key=value set, used to chain field
// construction (e.g. server attaching "from=<sender>").
func (m Message) With(key, value string) Message {
	out := Message{Type: m.Type, Fields: make(map[string]string, len(m.Fields)+1)}
	for k, v := range m.Fields {
		out.Fields[k] = v
	}
	out.Fields[key] = value
	return out
}

// Message type constants, per spec.md §6.
const (
	TypeRegister = "REGISTER"
	TypeLogin    = "LOGIN"
	TypeOK       = "OK"
	TypeError    = "ERROR"

	TypeListUsers = "LIST_USERS"
	TypeUserList  = "USER_LIST"

	TypeInvite          = "INVITE"
	TypeIncomingCall    = "INCOMING_CALL"
	TypeAcceptCall      = "ACCEPT_CALL"
	TypeCallAccepted    = "CALL_ACCEPTED"
	TypeCallEstablished = "CALL_ESTABLISHED"
	TypeRejectCall      = "REJECT_CALL"
	TypeCallRejected    = "CALL_REJECTED"
	TypeEndCall         = "END_CALL"
	TypeCallEnded       = "CALL_ENDED"

	TypeSDPOffer  = "SDP|OFFER"
	TypeSDPAnswer = "SDP|ANSWER"

	TypeOfferFile  = "OFFER_FILE"
	TypeAcceptFile = "ACCEPT_FILE"
	TypeRejectFile = "REJECT_FILE"
)

// UserState is a roster entry's presence, per spec.md §6.
type UserState string

const (
	StateAvailable    UserState = "disponible"
	StateBusy         UserState = "ocupado"
	StateDisconnected UserState = "desconectado"
)

// EncodeUserList renders a roster as the USER_LIST message's "list"
// field value: "u1:state;u2:state;…".
func EncodeUserList(users map[string]UserState) string {
	var b strings.Builder
	first := true
	for name, state := range users {
		if !first {
			b.WriteByte(';')
		}
		first = false
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(string(state))
	}
	return b.String()
}
