// Package crypto wraps the NaCl primitives the roadway protocol uses:
// Ed25519 signing for long-term identity and Curve25519 boxes for both
// long-term and per-session (ephemeral) encryption. Keys travel on the
// wire hex encoded (verhex for verify keys, pubhex for encrypt keys).
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"
)

const (
	KeySize       = 32
	SignPrivSize  = 64
	SignatureSize = 64
	NonceSize     = 24
)

var ErrKeyMaterial = errors.New("bad key material")

// Signer holds a long-term Ed25519 signing key pair.
type Signer struct {
	pub  [KeySize]byte
	priv [SignPrivSize]byte
}

func NewSigner() (*Signer, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{pub: *pub, priv: *priv}, nil
}

// NewSignerFromHex restores a signer from the hex form of its 64-byte
// private key, as persisted by the road keep.
func NewSignerFromHex(privHex string) (*Signer, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != SignPrivSize {
		return nil, fmt.Errorf("signer: %w", ErrKeyMaterial)
	}
	s := &Signer{}
	copy(s.priv[:], raw)
	// The public half is the trailing 32 bytes of an Ed25519 private key.
	copy(s.pub[:], raw[KeySize:])
	return s, nil
}

// VerHex is the hex form of the verify (public) key, as sent in join bodies.
func (s *Signer) VerHex() string { return hex.EncodeToString(s.pub[:]) }

// KeyHex is the hex form of the private key, for the road keep only.
func (s *Signer) KeyHex() string { return hex.EncodeToString(s.priv[:]) }

// Signature returns the detached 64-byte signature of msg.
func (s *Signer) Signature(msg []byte) []byte {
	signed := sign.Sign(nil, msg, &s.priv)
	return signed[:SignatureSize]
}

// Verifier holds a remote peer's long-term verify key.
type Verifier struct {
	pub [KeySize]byte
	set bool
}

func NewVerifierFromHex(verHex string) (*Verifier, error) {
	raw, err := hex.DecodeString(verHex)
	if err != nil || len(raw) != KeySize {
		return nil, fmt.Errorf("verifier: %w", ErrKeyMaterial)
	}
	v := &Verifier{set: true}
	copy(v.pub[:], raw)
	return v, nil
}

func (v *Verifier) Known() bool { return v != nil && v.set }

func (v *Verifier) VerHex() string {
	if v == nil || !v.set {
		return ""
	}
	return hex.EncodeToString(v.pub[:])
}

// Verify checks a detached signature over msg.
func (v *Verifier) Verify(signature, msg []byte) bool {
	if !v.Known() || len(signature) != SignatureSize {
		return false
	}
	signed := make([]byte, 0, len(signature)+len(msg))
	signed = append(signed, signature...)
	signed = append(signed, msg...)
	_, ok := sign.Open(nil, signed, &v.pub)
	return ok
}

// Privateer holds a Curve25519 key pair and encrypts to / decrypts from a
// correspondent public key. It serves both long-term and ephemeral roles.
type Privateer struct {
	pub  [KeySize]byte
	priv [KeySize]byte
}

func NewPrivateer() (*Privateer, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Privateer{pub: *pub, priv: *priv}, nil
}

func NewPrivateerFromHex(privHex string) (*Privateer, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != KeySize {
		return nil, fmt.Errorf("privateer: %w", ErrKeyMaterial)
	}
	p := &Privateer{}
	copy(p.priv[:], raw)
	pub, err := curve25519.X25519(p.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("privateer: %w", err)
	}
	copy(p.pub[:], pub)
	return p, nil
}

func (p *Privateer) PubHex() string { return hex.EncodeToString(p.pub[:]) }
func (p *Privateer) KeyHex() string { return hex.EncodeToString(p.priv[:]) }

// Encrypt seals msg to the holder of pub, returning cipher and the random
// nonce used.
func (p *Privateer) Encrypt(msg []byte, pub *Publican) (cipher, nonce []byte, err error) {
	if !pub.Known() {
		return nil, nil, fmt.Errorf("encrypt: %w", ErrKeyMaterial)
	}
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, nil, err
	}
	out := box.Seal(nil, msg, &n, &pub.pub, &p.priv)
	return out, n[:], nil
}

// Decrypt opens cipher sealed by the holder of pub to this key pair.
func (p *Privateer) Decrypt(cipher, nonce []byte, pub *Publican) ([]byte, error) {
	if !pub.Known() {
		return nil, fmt.Errorf("decrypt: %w", ErrKeyMaterial)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("decrypt: bad nonce size %d", len(nonce))
	}
	var n [NonceSize]byte
	copy(n[:], nonce)
	out, ok := box.Open(nil, cipher, &n, &pub.pub, &p.priv)
	if !ok {
		return nil, errors.New("decrypt: box open failed")
	}
	return out, nil
}

// Publican holds a correspondent's Curve25519 public key.
type Publican struct {
	pub [KeySize]byte
	set bool
}

func NewPublicanFromHex(pubHex string) (*Publican, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != KeySize {
		return nil, fmt.Errorf("publican: %w", ErrKeyMaterial)
	}
	p := &Publican{set: true}
	copy(p.pub[:], raw)
	return p, nil
}

// PublicanOf adopts the public half of a Privateer.
func PublicanOf(p *Privateer) *Publican {
	out := &Publican{set: true}
	out.pub = p.pub
	return out
}

func (p *Publican) Known() bool { return p != nil && p.set }

func (p *Publican) PubHex() string {
	if p == nil || !p.set {
		return ""
	}
	return hex.EncodeToString(p.pub[:])
}
