package crypto

import (
	"bytes"
	"crypto/rc4"
	"testing"
)

func rawRC4Keystream(key []byte, n int) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	zero := make([]byte, n)
	out := make([]byte, n)
	c.XORKeyStream(out, zero)
	return out, nil
}

func TestPublicKeyIsFixedSize(t *testing.T) {
	s := New([20]byte{1, 2, 3}, false)
	pub := s.PublicKey()
	if len(pub) != PublicKeyLen {
		t.Fatalf("public key length = %d, want %d", len(pub), PublicKeyLen)
	}

	// Lazy init: a second call must return the same key, not regenerate.
	pub2 := s.PublicKey()
	if pub != pub2 {
		t.Fatalf("PublicKey changed across calls")
	}
}

func TestComputeSecretRejectsBadLength(t *testing.T) {
	s := New([20]byte{}, false)
	if s.ComputeSecret(make([]byte, 10)) {
		t.Fatalf("expected ComputeSecret to reject a short key")
	}
}

func TestDeriveSha1RequiresSecret(t *testing.T) {
	s := New([20]byte{}, false)
	if _, ok := s.DeriveSha1(nil, nil); ok {
		t.Fatalf("expected DeriveSha1 to fail before ComputeSecret")
	}
}

// TestHandshakeSymmetry exercises the full MSE round trip between two
// sessions on opposite sides of a connection: after both compute the
// shared secret, A's outgoing stream must match B's incoming stream and
// vice versa, so plaintext sent by A arrives intact at B.
func TestHandshakeSymmetry(t *testing.T) {
	hash := [20]byte{9, 9, 9}

	a := New(hash, false) // outgoing connection
	b := New(hash, true)  // incoming connection

	aPub := a.PublicKey()
	bPub := b.PublicKey()

	if !a.ComputeSecret(bPub[:]) {
		t.Fatalf("A: ComputeSecret failed")
	}
	if !b.ComputeSecret(aPub[:]) {
		t.Fatalf("B: ComputeSecret failed")
	}

	if !a.InitEncrypt() || !b.InitDecrypt() {
		t.Fatalf("failed to init A-encrypt / B-decrypt streams")
	}
	if !b.InitEncrypt() || !a.InitDecrypt() {
		t.Fatalf("failed to init B-encrypt / A-decrypt streams")
	}

	plaintext := []byte("hello, peer")
	ciphertext := make([]byte, len(plaintext))
	if err := a.Encrypt(ciphertext, plaintext); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decoded := make([]byte, len(plaintext))
	if err := b.Decrypt(decoded, ciphertext); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if !bytes.Equal(decoded, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", decoded, plaintext)
	}
}

// TestDiscardAppliesBeforeFirstByte verifies the MSE "throw away 1024
// bytes" step: encrypting a zero byte right after InitEncrypt must equal
// the 1025th byte of the raw keystream, not the 1st.
func TestDiscardAppliesBeforeFirstByte(t *testing.T) {
	hash := [20]byte{1}
	a := New(hash, false)
	b := New(hash, true)

	aPub := a.PublicKey()
	bPub := b.PublicKey()
	a.ComputeSecret(bPub[:])
	b.ComputeSecret(aPub[:])

	key, ok := a.rc4Key(a.outgoingTag())
	if !ok {
		t.Fatalf("failed to derive rc4 key")
	}

	raw, err := rawRC4Keystream(key, 1025)
	if err != nil {
		t.Fatalf("raw keystream: %v", err)
	}

	if !a.InitEncrypt() {
		t.Fatalf("InitEncrypt failed")
	}

	out := make([]byte, 1)
	if err := a.Encrypt(out, []byte{0x00}); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if out[0] != raw[1024] {
		t.Fatalf("first encrypted byte = %#x, want keystream[1024] = %#x", out[0], raw[1024])
	}
}

func TestEncryptDecryptRejectUnkeyedStream(t *testing.T) {
	s := New([20]byte{}, false)
	in := []byte("unkeyed")
	out := make([]byte, len(in))

	if err := s.Encrypt(out, in); err != ErrStreamNotKeyed {
		t.Fatalf("Encrypt before InitEncrypt: got err %v, want ErrStreamNotKeyed", err)
	}
	if err := s.Decrypt(out, in); err != ErrStreamNotKeyed {
		t.Fatalf("Decrypt before InitDecrypt: got err %v, want ErrStreamNotKeyed", err)
	}
}

func TestSSha1RoundTrip(t *testing.T) {
	digest := SSha1("correct horse battery staple")
	if !SSha1Matches(digest, "correct horse battery staple") {
		t.Fatalf("SSha1Matches rejected its own digest")
	}
	if SSha1Matches(digest, "wrong password") {
		t.Fatalf("SSha1Matches accepted a wrong password")
	}
}
