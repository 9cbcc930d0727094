// Package stun implements the RFC 5389 subset spec.md §6 calls for:
// Binding Request/Success Response only, with USERNAME and
// XOR-MAPPED-ADDRESS (IPv4) attributes. Grounded on the teacher's
// internal/ice/stun.go message/attribute codec, trimmed to the subset
// the ICE agent actually needs.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"net"

	"golang.org/x/xerrors"
)

const (
	MagicCookie uint32 = 0x2112A442
	headerLen          = 20
)

// Message classes (bits 8 and 4 of the STUN message type).
const (
	ClassRequest         uint16 = 0x000
	ClassSuccessResponse uint16 = 0x100
	ClassErrorResponse   uint16 = 0x110
)

const BindingMethod uint16 = 0x001

const (
	AttrUsername        uint16 = 0x0006
	AttrXorMappedAddress uint16 = 0x0020
)

const ipv4Family = 0x01

// Message is a minimal STUN Binding Request/Success Response.
type Message struct {
	Class         uint16
	Method        uint16
	TransactionID [12]byte
	Username      string   // USERNAME attribute, empty if absent
	MappedAddr    net.Addr // XOR-MAPPED-ADDRESS, nil if absent
}

// NewTransactionID generates a fresh random 96-bit transaction ID, as
// spec.md §4.2 requires for each connectivity-check Binding Request.
func NewTransactionID() [12]byte {
	var id [12]byte
	_, _ = rand.Read(id[:])
	return id
}

func NewBindingRequest(username string) *Message {
	return &Message{
		Class:         ClassRequest,
		Method:        BindingMethod,
		TransactionID: NewTransactionID(),
		Username:      username,
	}
}

func NewBindingSuccessResponse(transactionID [12]byte, mapped net.Addr) *Message {
	return &Message{
		Class:         ClassSuccessResponse,
		Method:        BindingMethod,
		TransactionID: transactionID,
		MappedAddr:    mapped,
	}
}

// IsStun reports whether buf looks like a STUN packet per spec.md §4.1:
// length >= 20 and bytes[4:8] equal the magic cookie.
func IsStun(buf []byte) bool {
	if len(buf) < headerLen {
		return false
	}
	return binary.BigEndian.Uint32(buf[4:8]) == MagicCookie
}

// Marshal serializes m to wire format.
func (m *Message) Marshal() []byte {
	var attrs []byte
	if m.Username != "" {
		attrs = appendAttr(attrs, AttrUsername, []byte(m.Username))
	}
	if m.MappedAddr != nil {
		attrs = appendAttr(attrs, AttrXorMappedAddress, xorMappedAddressValue(m.MappedAddr, m.TransactionID))
	}

	buf := make([]byte, headerLen+len(attrs))
	msgType := composeType(m.Class, m.Method)
	binary.BigEndian.PutUint16(buf[0:2], msgType)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(attrs)))
	binary.BigEndian.PutUint32(buf[4:8], MagicCookie)
	copy(buf[8:20], m.TransactionID[:])
	copy(buf[20:], attrs)
	return buf
}

// Parse decodes a STUN message from buf. Callers must first confirm
// IsStun(buf).
func Parse(buf []byte) (*Message, error) {
	if !IsStun(buf) {
		return nil, xerrors.New("not a STUN message")
	}
	msgType := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	if int(length) > len(buf)-headerLen {
		return nil, xerrors.Errorf("STUN length %d exceeds buffer", length)
	}

	m := &Message{
		Class:  msgType & 0x110,
		Method: decomposeMethod(msgType),
	}
	copy(m.TransactionID[:], buf[8:20])

	body := buf[headerLen : headerLen+int(length)]
	for len(body) >= 4 {
		typ := binary.BigEndian.Uint16(body[0:2])
		l := binary.BigEndian.Uint16(body[2:4])
		if int(l) > len(body)-4 {
			return nil, xerrors.Errorf("STUN attribute %d overruns message", typ)
		}
		value := body[4 : 4+int(l)]
		switch typ {
		case AttrUsername:
			m.Username = string(value)
		case AttrXorMappedAddress:
			addr, err := parseXorMappedAddress(value, m.TransactionID)
			if err == nil {
				m.MappedAddr = addr
			}
		}
		adv := 4 + int(l) + pad4(l)
		if adv > len(body) {
			break
		}
		body = body[adv:]
	}

	return m, nil
}

func appendAttr(buf []byte, typ uint16, value []byte) []byte {
	header := make([]byte, 4)
	binary.BigEndian.PutUint16(header[0:2], typ)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(value)))
	buf = append(buf, header...)
	buf = append(buf, value...)
	for i := 0; i < pad4(uint16(len(value))); i++ {
		buf = append(buf, 0)
	}
	return buf
}

func pad4(n uint16) int {
	return -int(n) & 3
}

func composeType(class, method uint16) uint16 {
	return class | method
}

func decomposeMethod(t uint16) uint16 {
	return t &^ 0x110
}

// xorMappedAddressValue encodes an IPv4 net.UDPAddr as XOR-MAPPED-ADDRESS.
func xorMappedAddressValue(addr net.Addr, transactionID [12]byte) []byte {
	udp, _ := addr.(*net.UDPAddr)
	if udp == nil {
		return nil
	}
	ip4 := udp.IP.To4()
	if ip4 == nil {
		return nil
	}

	v := make([]byte, 8)
	v[0] = 0
	v[1] = ipv4Family
	xport := uint16(udp.Port) ^ uint16(MagicCookie>>16)
	binary.BigEndian.PutUint16(v[2:4], xport)

	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)
	for i := 0; i < 4; i++ {
		v[4+i] = ip4[i] ^ cookie[i]
	}
	return v
}

func parseXorMappedAddress(value []byte, transactionID [12]byte) (net.Addr, error) {
	if len(value) < 8 || value[1] != ipv4Family {
		return nil, xerrors.New("unsupported XOR-MAPPED-ADDRESS family")
	}
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)

	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(MagicCookie>>16)
	ip := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		ip[i] = value[4+i] ^ cookie[i]
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
