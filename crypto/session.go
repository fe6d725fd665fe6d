// Package crypto implements the per-peer Message Stream Encryption (MSE)
// handshake: a fixed Diffie-Hellman group, SHA-1 key derivation, and RC4
// keystreams with the mandatory 1024-byte discard.
//
// The group, generator, key lengths, discard length, and key-derivation
// tags are part of the BitTorrent MSE wire contract and must never
// change — see crypto.go in the original implementation this package is
// ported from.
package crypto

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha1"
	"errors"
	"math/big"
)

const (
	// PublicKeyLen is the fixed size, in bytes, of an MSE DH public key.
	PublicKeyLen = 96

	// privateKeyLen is the size, in bytes, of the ephemeral DH private
	// exponent (20 bytes per the MSE spec).
	privateKeyLen = 20

	// discardLen is the number of keystream bytes thrown away after
	// scheduling each RC4 key (the MSE "throw away" step).
	discardLen = 1024

	keyTagA = "keyA"
	keyTagB = "keyB"
)

// group is the fixed 768-bit MSE Diffie-Hellman prime, generator 2.
var (
	groupP = new(big.Int).SetBytes([]byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xC9, 0x0F, 0xDA, 0xA2,
		0x21, 0x68, 0xC2, 0x34, 0xC4, 0xC6, 0x62, 0x8B, 0x80, 0xDC, 0x1C, 0xD1,
		0x29, 0x02, 0x4E, 0x08, 0x8A, 0x67, 0xCC, 0x74, 0x02, 0x0B, 0xBE, 0xA6,
		0x3B, 0x13, 0x9B, 0x22, 0x51, 0x4A, 0x08, 0x79, 0x8E, 0x34, 0x04, 0xDD,
		0xEF, 0x95, 0x19, 0xB3, 0xCD, 0x3A, 0x43, 0x1B, 0x30, 0x2B, 0x0A, 0x6D,
		0xF2, 0x5F, 0x14, 0x37, 0x4F, 0xE1, 0x35, 0x6D, 0x6D, 0x51, 0xC2, 0x45,
		0xE4, 0x85, 0xB5, 0x76, 0x62, 0x5E, 0x7E, 0xC6, 0xF4, 0x4C, 0x42, 0xE9,
		0xA6, 0x3A, 0x36, 0x21, 0x00, 0x00, 0x00, 0x00, 0x00, 0x09, 0x05, 0x63,
	})
	groupG = big.NewInt(2)
)

var (
	// ErrNoSecret is returned by operations that require a previously
	// established shared secret.
	ErrNoSecret = errors.New("crypto: no shared secret established")
	// ErrBadPeerKey is returned when a peer's public key is not exactly
	// PublicKeyLen bytes.
	ErrBadPeerKey = errors.New("crypto: peer public key must be 96 bytes")
)

// Session holds the MSE state for a single peer connection: the DH
// keypair, the derived shared secret, and the two RC4 streams. A Session
// is owned by exactly one peer connection and is destroyed with it.
type Session struct {
	infoHash   [20]byte
	isIncoming bool

	priv       *big.Int
	myPubKey   [PublicKeyLen]byte
	haveKey    bool
	secret     *big.Int
	haveSecret bool

	encStream *rc4.Cipher
	decStream *rc4.Cipher
}

// New records the torrent hash and connection direction. Key generation
// is deferred until PublicKey is first called: the peer direction and
// torrent hash are known immediately, but generating a DH keypair is
// expensive and a handshake may never be attempted.
func New(infoHash [20]byte, isIncoming bool) *Session {
	return &Session{
		infoHash:   infoHash,
		isIncoming: isIncoming,
	}
}

// ensureKey lazily generates the DH keypair on first use.
func (s *Session) ensureKey() {
	if s.haveKey {
		return
	}

	priv := make([]byte, privateKeyLen)
	if _, err := rand.Read(priv); err != nil {
		// Entropy failure is unrecoverable for a handshake; the zero
		// private key below still yields a deterministic (useless)
		// keypair rather than panicking the caller.
		priv = make([]byte, privateKeyLen)
	}

	s.priv = new(big.Int).SetBytes(priv)
	pub := new(big.Int).Exp(groupG, s.priv, groupP)

	pub.FillBytes(s.myPubKey[:])
	s.haveKey = true
}

// PublicKey returns this session's 96-byte DH public key, generating the
// keypair on first call.
func (s *Session) PublicKey() [PublicKeyLen]byte {
	s.ensureKey()
	return s.myPubKey
}

// ComputeSecret performs DH agreement against a peer's public key and
// stores the resulting shared secret. It fails if peerPublicKey is not
// exactly PublicKeyLen bytes.
func (s *Session) ComputeSecret(peerPublicKey []byte) bool {
	if len(peerPublicKey) != PublicKeyLen {
		return false
	}

	s.ensureKey()

	peerPub := new(big.Int).SetBytes(peerPublicKey)
	if peerPub.Sign() == 0 {
		return false
	}

	s.secret = new(big.Int).Exp(peerPub, s.priv, groupP)
	s.haveSecret = true
	return true
}

// DeriveSha1 computes SHA-1(prepend || sharedSecret || append). It fails
// if no secret has been established yet.
func (s *Session) DeriveSha1(prepend, appendBytes []byte) ([20]byte, bool) {
	var out [20]byte
	if !s.haveSecret {
		return out, false
	}

	secretBytes := make([]byte, 96)
	s.secret.FillBytes(secretBytes)

	h := sha1.New()
	h.Write(prepend)
	h.Write(secretBytes)
	h.Write(appendBytes)
	copy(out[:], h.Sum(nil))
	return out, true
}

// outgoingTag and incomingTag select the RC4 key-derivation tag for each
// direction: the outgoing stream uses "keyA" on connections we
// initiated and "keyB" on connections a peer initiated to us; the
// incoming stream uses the opposite tag.
func (s *Session) outgoingTag() string {
	if s.isIncoming {
		return keyTagB
	}
	return keyTagA
}

func (s *Session) incomingTag() string {
	if s.isIncoming {
		return keyTagA
	}
	return keyTagB
}

func (s *Session) rc4Key(tag string) ([]byte, bool) {
	key, ok := s.DeriveSha1([]byte(tag), s.infoHash[:])
	if !ok {
		return nil, false
	}
	return key[:], true
}

func newDiscardedRC4(key []byte) (*rc4.Cipher, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	discard := make([]byte, discardLen)
	c.XORKeyStream(discard, discard)
	return c, nil
}

// InitEncrypt initializes the outgoing RC4 stream and discards its first
// 1024 keystream bytes. It fails (returning false) if no secret has been
// established.
func (s *Session) InitEncrypt() bool {
	key, ok := s.rc4Key(s.outgoingTag())
	if !ok {
		return false
	}

	c, err := newDiscardedRC4(key)
	if err != nil {
		return false
	}
	s.encStream = c
	return true
}

// InitDecrypt initializes the incoming RC4 stream and discards its first
// 1024 keystream bytes. It fails (returning false) if no secret has been
// established.
func (s *Session) InitDecrypt() bool {
	key, ok := s.rc4Key(s.incomingTag())
	if !ok {
		return false
	}

	c, err := newDiscardedRC4(key)
	if err != nil {
		return false
	}
	s.decStream = c
	return true
}

// ErrStreamNotKeyed is returned by Encrypt/Decrypt when the respective
// RC4 stream has not been initialized via InitEncrypt/InitDecrypt.
// Silently copying plaintext through in this state was the original's
// FIXME'd bug (see crypto.c); this port makes the precondition explicit
// instead of carrying it forward.
var ErrStreamNotKeyed = errors.New("crypto: stream not initialized")

// Encrypt streams in through the outgoing RC4 state into out, which must
// be at least len(in) bytes. It returns ErrStreamNotKeyed if InitEncrypt
// has not been called yet.
func (s *Session) Encrypt(out, in []byte) error {
	if s.encStream == nil {
		return ErrStreamNotKeyed
	}
	s.encStream.XORKeyStream(out, in)
	return nil
}

// Decrypt streams in through the incoming RC4 state into out. It returns
// ErrStreamNotKeyed if InitDecrypt has not been called yet.
func (s *Session) Decrypt(out, in []byte) error {
	if s.decStream == nil {
		return ErrStreamNotKeyed
	}
	s.decStream.XORKeyStream(out, in)
	return nil
}
