// Package sdpneg implements the SDP (RFC 8866 subset) encode/decode and
// negotiation of spec.md §6: an offer/answer carrying ICE credentials,
// a DTLS certificate fingerprint, and per-media RTP/RTCP attributes.
//
// The generic session/media grammar below is grounded on the teacher's
// internal/sdp package, trimmed to the fields this profile actually
// uses (no bandwidth lines, no repeat-time, no encryption-key) and
// moved off fmt.Errorf onto xerrors to match the rest of the module's
// error handling.
package sdpneg

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Session is a parsed SDP session description (RFC 8866 §5).
type Session struct {
	Version    int
	Origin     Origin
	Name       string
	Connection *Connection
	Attributes []Attribute
	Media      []Media

	attributeCache map[string]string
}

// Origin is the o= line (RFC 8866 §5.2).
type Origin struct {
	Username       string
	SessionID      string
	SessionVersion uint64
	NetworkType    string
	AddressType    string
	Address        string
}

// Connection is the c= line (RFC 8866 §5.7).
type Connection struct {
	NetworkType string
	AddressType string
	Address     string
}

// Attribute is one a= line (RFC 8866 §5.13).
type Attribute struct {
	Key   string
	Value string
}

// Media is one m= section (RFC 8866 §5.14).
type Media struct {
	Type   string
	Port   int
	Proto  string
	Format []string

	Connection *Connection
	Attributes []Attribute

	attributeCache map[string]string
}

type writer struct {
	b strings.Builder
}

func (w *writer) write(fragments ...string) {
	for _, s := range fragments {
		w.b.WriteString(s)
	}
}

func (w *writer) String() string { return w.b.String() }

type parseError struct {
	which string
	value string
	cause error
}

func (e *parseError) Error() string {
	msg := xerrors.Errorf("sdpneg: invalid %s: %q", e.which, e.value).Error()
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (o Origin) String() string {
	return o.Username + " " + o.SessionID + " " + strconv.FormatUint(o.SessionVersion, 10) + " " +
		o.NetworkType + " " + o.AddressType + " " + o.Address
}

func parseOrigin(s string) (Origin, error) {
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return Origin{}, &parseError{"origin", s, nil}
	}
	version, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Origin{}, &parseError{"origin", s, err}
	}
	return Origin{
		Username:       fields[0],
		SessionID:      fields[1],
		SessionVersion: version,
		NetworkType:    fields[3],
		AddressType:    fields[4],
		Address:        fields[5],
	}, nil
}

func (c Connection) String() string {
	return c.NetworkType + " " + c.AddressType + " " + c.Address
}

func parseConnection(s string) (Connection, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return Connection{}, &parseError{"connection", s, nil}
	}
	return Connection{NetworkType: fields[0], AddressType: fields[1], Address: fields[2]}, nil
}

func (a Attribute) String() string {
	if a.Value == "" {
		return a.Key
	}
	return a.Key + ":" + a.Value
}

func parseAttribute(s string) Attribute {
	key, value, found := strings.Cut(s, ":")
	if !found {
		return Attribute{Key: s}
	}
	return Attribute{Key: key, Value: value}
}

// GetAttr returns the first attribute value for key, caching the lookup
// map on first call.
func (m *Media) GetAttr(key string) string {
	if m.attributeCache == nil {
		m.attributeCache = make(map[string]string, len(m.Attributes))
		for _, a := range m.Attributes {
			if _, exists := m.attributeCache[a.Key]; !exists {
				m.attributeCache[a.Key] = a.Value
			}
		}
	}
	return m.attributeCache[key]
}

// GetAttrs returns every attribute value for key, in order — used for
// repeated attributes like a=candidate.
func (m *Media) GetAttrs(key string) []string {
	var out []string
	for _, a := range m.Attributes {
		if a.Key == key {
			out = append(out, a.Value)
		}
	}
	return out
}

func (m Media) String() string {
	var w writer
	w.write("m=", m.Type, " ", strconv.Itoa(m.Port), " ", m.Proto, " ", strings.Join(m.Format, " "), "\r\n")
	if m.Connection != nil {
		w.write("c=", m.Connection.String(), "\r\n")
	}
	for _, a := range m.Attributes {
		w.write("a=", a.String(), "\r\n")
	}
	return w.String()
}

func parseMediaSection(text string) (m Media, rest string, err error) {
	line, more := nextLine(text)
	typecode, value, err := splitTypeValue(line)
	if err != nil || typecode != 'm' {
		return m, text, &parseError{"media", line, err}
	}

	fields := strings.Fields(value)
	if len(fields) < 3 {
		return m, text, &parseError{"media", line, nil}
	}
	m.Type = fields[0]
	m.Port, err = strconv.Atoi(fields[1])
	if err != nil {
		return m, text, &parseError{"media", line, err}
	}
	m.Proto = fields[2]
	m.Format = fields[3:]

	for text = more; text != ""; text = more {
		line, more = nextLine(text)
		typecode, value, terr := splitTypeValue(line)
		if terr != nil {
			return m, text, &parseError{"media", line, terr}
		}
		if typecode == 'm' {
			break
		}
		switch typecode {
		case 'c':
			c, cerr := parseConnection(value)
			if cerr != nil {
				return m, text, cerr
			}
			m.Connection = &c
		case 'a':
			m.Attributes = append(m.Attributes, parseAttribute(value))
		}
	}
	return m, text, nil
}

// GetAttr returns the first session-level attribute value for key.
func (s *Session) GetAttr(key string) string {
	if s.attributeCache == nil {
		s.attributeCache = make(map[string]string, len(s.Attributes))
		for _, a := range s.Attributes {
			if _, exists := s.attributeCache[a.Key]; !exists {
				s.attributeCache[a.Key] = a.Value
			}
		}
	}
	return s.attributeCache[key]
}

func (s Session) String() string {
	var w writer
	w.write("v=", strconv.Itoa(s.Version), "\r\n")
	w.write("o=", s.Origin.String(), "\r\n")
	w.write("s=", s.Name, "\r\n")
	if s.Connection != nil {
		w.write("c=", s.Connection.String(), "\r\n")
	}
	w.write("t=0 0\r\n")
	for _, a := range s.Attributes {
		w.write("a=", a.String(), "\r\n")
	}
	for _, m := range s.Media {
		w.write(m.String())
	}
	return w.String()
}

// ParseSession parses an SDP session description per RFC 8866.
func ParseSession(text string) (Session, error) {
	var s Session
	var line, more, value string
	var typecode byte
	var err error
	for ; text != ""; text = more {
		line, more = nextLine(text)
		typecode, value, err = splitTypeValue(line)
		if err != nil {
			return s, &parseError{"session", line, err}
		}
		switch typecode {
		case 'v':
			s.Version, err = strconv.Atoi(value)
		case 'o':
			s.Origin, err = parseOrigin(value)
		case 's':
			s.Name = value
		case 'c':
			var c Connection
			c, err = parseConnection(value)
			s.Connection = &c
		case 't':
			// Fixed "t=0 0" per spec.md §6; nothing to capture.
		case 'a':
			s.Attributes = append(s.Attributes, parseAttribute(value))
		case 'm':
			var m Media
			m, more, err = parseMediaSection(text)
			s.Media = append(s.Media, m)
		}
		if err != nil {
			return s, &parseError{"session", line, err}
		}
	}
	return s, nil
}

func nextLine(input string) (line, remainder string) {
	n := strings.IndexByte(input, '\n')
	if n == -1 {
		return input, ""
	}
	if n > 0 && input[n-1] == '\r' {
		line = input[:n-1]
	} else {
		line = input[:n]
	}
	return line, input[n+1:]
}

func splitTypeValue(line string) (typecode byte, value string, err error) {
	if len(line) < 2 || line[1] != '=' {
		return 0, "", &parseError{"line", line, nil}
	}
	return line[0], line[2:], nil
}
