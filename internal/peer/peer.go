// Package peer models roadway endpoints: the local peer with its long-term
// key pairs, remote peers with learned public keys and per-session
// ephemeral keys, and the registry that maps peer ids to remote state.
package peer

import (
	"fmt"

	"roadway/internal/crypto"
	"roadway/internal/wire"
)

// sidSpace is the modulus of the sequence and transaction id counters.
const sidSpace = uint64(1) << 32

// Peer is the state shared by local and remote endpoints.
type Peer struct {
	ID   uint32
	Host string
	Port uint16

	Sid uint32 // current session id
	Tid uint32 // current transaction id
}

// Addr formats the peer's network address.
func (p *Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// NextSid advances the session id, rolling over to 1 past 2^32-1.
func (p *Peer) NextSid() uint32 {
	p.Sid++
	if p.Sid == 0 {
		p.Sid = 1
	}
	return p.Sid
}

// NextTid advances the transaction id with the same rollover.
func (p *Peer) NextTid() uint32 {
	p.Tid++
	if p.Tid == 0 {
		p.Tid = 1
	}
	return p.Tid
}

// ValidSid reports whether next is newer than prev under modular
// comparison: newer means the forward distance is less than half the space.
func ValidSid(next, prev uint32) bool {
	return uint64(next-prev)%sidSpace < sidSpace/2
}

// Local is the stack's own endpoint, holding the long-term signing and
// encryption private keys.
type Local struct {
	Peer
	Signer *crypto.Signer    // long-term signing pair
	Priver *crypto.Privateer // long-term encryption pair

	Accepted bool // identity accepted by the channel master
}

// NewLocal builds a local peer, generating long-term keys when none are
// supplied (first boot; the road keep restores them afterwards).
func NewLocal(id uint32, host string, port uint16, signer *crypto.Signer, priver *crypto.Privateer) (*Local, error) {
	var err error
	if signer == nil {
		if signer, err = crypto.NewSigner(); err != nil {
			return nil, err
		}
	}
	if priver == nil {
		if priver, err = crypto.NewPrivateer(); err != nil {
			return nil, err
		}
	}
	if port == 0 {
		port = wire.DefaultPort
	}
	return &Local{
		Peer:   Peer{ID: id, Host: host, Port: port},
		Signer: signer,
		Priver: priver,
	}, nil
}

// Remote is a correspondent endpoint. Long-term publics are learned during
// join; ephemerals are rotated per endow session.
type Remote struct {
	Peer

	Accepted bool // long-term identity verified (join complete)
	Endowed  bool // session keys established (endow complete)

	Verfer *crypto.Verifier  // correspondent long-term verify key
	Pubber *crypto.Publican  // correspondent long-term encrypt key
	Privee *crypto.Privateer // local ephemeral pair for this remote
	Publee *crypto.Publican  // correspondent ephemeral key

	Rsid uint32 // last sid seen from this remote on the correspondent path
	Rtid uint32
}

// NewRemote builds a provisional remote peer. It is not accepted until a
// join handshake verifies its identity.
func NewRemote(id uint32, host string, port uint16) *Remote {
	if host == "" {
		host = wire.DefaultHost
	}
	if port == 0 {
		port = wire.DefaultPort
	}
	return &Remote{Peer: Peer{ID: id, Host: host, Port: port}}
}

// SetVerhex installs the remote's long-term verify key from its hex form.
func (r *Remote) SetVerhex(verhex string) (*crypto.Verifier, error) {
	verfer, err := crypto.NewVerifierFromHex(verhex)
	if err != nil {
		return nil, fmt.Errorf("peer %d: %w", r.ID, err)
	}
	r.Verfer = verfer
	return verfer, nil
}

// SetPubhex installs the remote's long-term encrypt key from its hex form.
func (r *Remote) SetPubhex(pubhex string) (*crypto.Publican, error) {
	pubber, err := crypto.NewPublicanFromHex(pubhex)
	if err != nil {
		return nil, fmt.Errorf("peer %d: %w", r.ID, err)
	}
	r.Pubber = pubber
	return pubber, nil
}

// Refresh rotates the short-term keys, invalidating any prior session.
func (r *Remote) Refresh() error {
	privee, err := crypto.NewPrivateer()
	if err != nil {
		return err
	}
	r.Endowed = false
	r.Privee = privee
	r.Publee = nil
	return nil
}

// Session returns the short-term sealer/opener for this remote; only valid
// once endowed.
func (r *Remote) Session() (*crypto.Session, error) {
	if !r.Endowed {
		return nil, fmt.Errorf("peer %d not endowed", r.ID)
	}
	return crypto.NewSession(r.Privee, r.Publee)
}
