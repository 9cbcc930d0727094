// Package srtp implements the simplified SRTP context of spec.md §4.4.
//
// This deliberately departs from RFC 3711: the teacher's own
// internal/srtp package derives an AES-CTR + HMAC key schedule, but
// spec.md §4.4 and §9 ("Open questions") call for a much simpler AEAD
// scheme — AES-128-GCM with a key derived from a single SHA-256 hash of
// the master secret, and a nonce that is only the 16-bit RTP sequence
// number padded with zeros. This is sufficient below the 2^16-packet
// rollover (spec.md §4.4 invariant) and is implemented exactly as
// specified rather than "fixed" to be RFC-conformant, because
// interoperating with the identical peer is the actual goal.
package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/xerrors"
)

const (
	keyLen   = 16
	nonceLen = 12
	tagLen   = 16
)

// Context holds the AEAD keyed from one DTLS master secret. One Context
// encrypts/decrypts for exactly one session lifetime, per spec.md §4.4's
// invariant that (master_secret, seq) must never repeat across different
// payloads.
type Context struct {
	aead cipher.AEAD
}

// NewContext derives K = SHA-256("SRTP" || master_secret ||
// "encryption_key")[0:16] and builds an AES-128-GCM AEAD from it.
func NewContext(masterSecret []byte) (*Context, error) {
	if len(masterSecret) == 0 {
		return nil, xerrors.New("srtp: empty master secret")
	}
	h := sha256.New()
	h.Write([]byte("SRTP"))
	h.Write(masterSecret)
	h.Write([]byte("encryption_key"))
	sum := h.Sum(nil)
	key := sum[:keyLen]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Errorf("srtp: create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Errorf("srtp: create GCM AEAD: %w", err)
	}
	return &Context{aead: aead}, nil
}

// nonce builds the 12-byte nonce: seq:u16 BE || 10 zero bytes.
func nonce(seq uint16) []byte {
	n := make([]byte, nonceLen)
	binary.BigEndian.PutUint16(n[0:2], seq)
	return n
}

// Encrypt returns ciphertext || 16-byte GCM tag for the given cleartext
// RTP payload and sequence number. The 12-byte RTP header is not
// included: it is carried unencrypted and is not used as AAD, per
// spec.md §4.4.
func (c *Context) Encrypt(payload []byte, seq uint16) []byte {
	return c.aead.Seal(nil, nonce(seq), payload, nil)
}

// Decrypt reverses Encrypt. A failed tag verification returns an error;
// spec.md §7 requires the caller to drop the packet in that case rather
// than propagate a fatal error for a single bad packet.
func (c *Context) Decrypt(ciphertext []byte, seq uint16) ([]byte, error) {
	if len(ciphertext) < tagLen {
		return nil, xerrors.New("srtp: ciphertext shorter than auth tag")
	}
	plain, err := c.aead.Open(nil, nonce(seq), ciphertext, nil)
	if err != nil {
		return nil, xerrors.Errorf("srtp: authentication failed: %w", err)
	}
	return plain, nil
}
