package crypto

import "errors"

// Session pairs a local ephemeral private key with the correspondent's
// ephemeral public key once an endow handshake has completed. It satisfies
// the wire codec's Sealer and Opener interfaces, so message bodies are
// boxed under the short-term keys at the tail layer.
type Session struct {
	local *Privateer
	peer  *Publican
}

func NewSession(local *Privateer, peer *Publican) (*Session, error) {
	if local == nil || !peer.Known() {
		return nil, errors.New("session: missing key material")
	}
	return &Session{local: local, peer: peer}, nil
}

func (s *Session) Seal(msg []byte) (cipher, nonce []byte, err error) {
	return s.local.Encrypt(msg, s.peer)
}

func (s *Session) Open(cipher, nonce []byte) ([]byte, error) {
	return s.local.Decrypt(cipher, nonce, s.peer)
}
