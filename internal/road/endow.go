package road

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roadway/internal/crypto"
	"roadway/internal/peer"
	"roadway/internal/wire"
)

// endowProofSize is the length of the zero-filled plaintext the hello
// packet carries as proof of encryption capability.
const endowProofSize = 64

// endowGrace keeps a completed correspondent alive briefly so that a
// retransmitted initiate is re-acked instead of spawning a stray reply.
const endowGrace = time.Second

// Endower runs the initiator side of an endow: a hello/cookie/initiate
// exchange that establishes short-term session keys with an accepted
// remote peer.
type Endower struct {
	txn
	remote    *peer.Remote
	oreo      string // cookie echo, opaque to the initiator
	initiated bool   // initiate transmitted; only an ack is valid now
}

func newEndower(s *Stack, remote *peer.Remote) *Endower {
	e := &Endower{
		txn: txn{
			stack: s,
			kind:  wire.TransEndow,
			rdid:  remote.ID,
			sid:   remote.Sid,
			tid:   remote.NextTid(),
		},
		remote: remote,
	}
	e.deadline = s.now().Add(s.Timeout)
	return e
}

// start refreshes the local ephemeral pair and transmits the hello.
func (e *Endower) start() error {
	if err := e.remote.Refresh(); err != nil {
		return e.fatal(e, err)
	}
	return e.hello()
}

// hello proves encryption capability: a zero plaintext boxed from the
// fresh ephemeral key to the remote's long-term key, sent beside the
// plaintext itself.
func (e *Endower) hello() error {
	plain := make([]byte, endowProofSize)
	cipher, nonce, err := e.remote.Privee.Encrypt(plain, e.remote.Pubber)
	if err != nil {
		return e.fatal(e, err)
	}
	pkt := wire.NewPacket(e.baseMeta(e.stack.Local.ID, e.remote.ID, e.remote.Host, e.remote.Port, wire.PkHello))
	pkt.Data.Set("plain", hex.EncodeToString(plain))
	pkt.Data.Set("shorthex", e.remote.Privee.PubHex())
	pkt.Data.Set("cipher", hex.EncodeToString(cipher))
	pkt.Data.Set("nonce", hex.EncodeToString(nonce))
	if err := wire.Pack(pkt, nil); err != nil {
		return e.fatal(e, err)
	}
	e.transmit(pkt)
	return nil
}

// Receive admits each reply kind only at its step in the exchange: a
// cookie while the hello is outstanding, an ack once the initiate has
// gone out. Anything else aborts the transaction.
func (e *Endower) Receive(pkt *wire.Packet) error {
	e.rxPacket = pkt
	switch {
	case pkt.Meta.Kind == wire.PkCookie && !e.initiated:
		return e.cookie(pkt)
	case pkt.Meta.Kind == wire.PkAck && e.initiated:
		return e.allow()
	}
	return e.fatal(e, fmt.Errorf("unexpected packet kind %d", pkt.Meta.Kind))
}

// cookie opens the remote's cookie, adopts its ephemeral key, and answers
// with the initiate.
func (e *Endower) cookie(pkt *wire.Packet) error {
	if err := wire.ParseInner(pkt, nil); err != nil {
		return e.fatal(e, err)
	}
	cipher, err := bodyBytes(pkt.Data, "cipher")
	if err != nil {
		return e.fatal(e, err)
	}
	nonce, err := bodyBytes(pkt.Data, "nonce")
	if err != nil {
		return e.fatal(e, err)
	}
	// Sealed by the remote's long-term key to our fresh ephemeral key.
	plain, err := e.remote.Privee.Decrypt(cipher, nonce, e.remote.Pubber)
	if err != nil {
		return e.fatal(e, err)
	}
	var stuff struct {
		Shorthex string `json:"shorthex"`
		Sdid     uint32 `json:"sdid"`
		Ddid     uint32 `json:"ddid"`
		Oreo     string `json:"oreo"`
	}
	if err := json.Unmarshal(plain, &stuff); err != nil {
		return e.fatal(e, fmt.Errorf("malformed cookie: %w", err))
	}
	if stuff.Sdid != e.remote.ID || stuff.Ddid != e.stack.Local.ID {
		return e.fatal(e, errors.New("cookie device ids do not match"))
	}
	publee, err := crypto.NewPublicanFromHex(stuff.Shorthex)
	if err != nil {
		return e.fatal(e, err)
	}
	e.remote.Publee = publee
	e.oreo = stuff.Oreo
	return e.initiate()
}

// initiate vouches for the ephemeral key under the long-term pair and
// echoes the cookie, all sealed to the remote's ephemeral key.
func (e *Endower) initiate() error {
	shorthex := e.remote.Privee.PubHex()
	vouch, vnonce, err := e.stack.Local.Priver.Encrypt([]byte(shorthex), e.remote.Pubber)
	if err != nil {
		return e.fatal(e, err)
	}
	stuff, err := json.Marshal(map[string]string{
		"shorthex": shorthex,
		"vouch":    hex.EncodeToString(vouch),
		"vnonce":   hex.EncodeToString(vnonce),
		"oreo":     e.oreo,
	})
	if err != nil {
		return e.fatal(e, err)
	}
	cipher, nonce, err := e.remote.Privee.Encrypt(stuff, e.remote.Publee)
	if err != nil {
		return e.fatal(e, err)
	}
	pkt := wire.NewPacket(e.baseMeta(e.stack.Local.ID, e.remote.ID, e.remote.Host, e.remote.Port, wire.PkInitiate))
	pkt.Data.Set("cipher", hex.EncodeToString(cipher))
	pkt.Data.Set("nonce", hex.EncodeToString(nonce))
	if err := wire.Pack(pkt, nil); err != nil {
		return e.fatal(e, err)
	}
	e.transmit(pkt)
	e.initiated = true
	return nil
}

// allow marks the session established once the remote acks the initiate.
func (e *Endower) allow() error {
	e.remote.Endowed = true
	e.stack.log.Info().Uint32("rdid", e.remote.ID).Msg("endow complete")
	e.finish(e, "done")
	return nil
}

func (e *Endower) Tick(now time.Time) { e.tick(e, now) }

// Endowent runs the correspondent side of an endow for an already
// accepted remote.
type Endowent struct {
	txn
	remote     *peer.Remote
	oreo       string
	graceUntil time.Time // nonzero once endowed; lets late initiates re-ack
}

func newEndowent(s *Stack, pkt *wire.Packet, remote *peer.Remote) *Endowent {
	e := &Endowent{
		txn: txn{
			stack: s,
			kind:  wire.TransEndow,
			rmt:   true,
			rdid:  remote.ID,
			bcst:  pkt.Meta.Broadcast,
			sid:   pkt.Meta.Sid,
			tid:   pkt.Meta.Tid,
		},
		remote: remote,
	}
	e.rxPacket = pkt
	e.deadline = s.now().Add(s.Timeout)
	return e
}

func (e *Endowent) Receive(pkt *wire.Packet) error {
	e.rxPacket = pkt
	switch pkt.Meta.Kind {
	case wire.PkHello:
		if !e.graceUntil.IsZero() {
			// A late hello must not rotate keys out from under an
			// established session.
			return nil
		}
		return e.hello(pkt)
	case wire.PkInitiate:
		if !e.graceUntil.IsZero() {
			// Our ack was lost; answer the retransmission again.
			e.ack()
			return nil
		}
		return e.initiate(pkt)
	}
	return e.fatal(e, fmt.Errorf("unexpected packet kind %d", pkt.Meta.Kind))
}

// hello verifies the encryption proof, rotates the local ephemeral pair,
// and answers with a cookie.
func (e *Endowent) hello(pkt *wire.Packet) error {
	if err := wire.ParseInner(pkt, nil); err != nil {
		return e.fatal(e, err)
	}
	plain, err := bodyBytes(pkt.Data, "plain")
	if err != nil {
		return e.fatal(e, err)
	}
	shorthex, err := bodyString(pkt.Data, "shorthex")
	if err != nil {
		return e.fatal(e, err)
	}
	cipher, err := bodyBytes(pkt.Data, "cipher")
	if err != nil {
		return e.fatal(e, err)
	}
	nonce, err := bodyBytes(pkt.Data, "nonce")
	if err != nil {
		return e.fatal(e, err)
	}
	publee, err := crypto.NewPublicanFromHex(shorthex)
	if err != nil {
		return e.fatal(e, err)
	}
	opened, err := e.stack.Local.Priver.Decrypt(cipher, nonce, publee)
	if err != nil {
		return e.fatal(e, err)
	}
	if len(plain) != endowProofSize || !bytes.Equal(opened, plain) {
		return e.fatal(e, errors.New("hello proof does not verify"))
	}
	if err := e.remote.Refresh(); err != nil {
		return e.fatal(e, err)
	}
	e.remote.Publee = publee
	return e.cookie(pkt)
}

// cookie seals the local ephemeral key, both device ids, and a one-shot
// oreo to the initiator's ephemeral key.
func (e *Endowent) cookie(rx *wire.Packet) error {
	e.oreo = uuid.NewString()
	stuff, err := json.Marshal(map[string]any{
		"shorthex": e.remote.Privee.PubHex(),
		"sdid":     e.stack.Local.ID,
		"ddid":     e.remote.ID,
		"oreo":     e.oreo,
	})
	if err != nil {
		return e.fatal(e, err)
	}
	cipher, nonce, err := e.stack.Local.Priver.Encrypt(stuff, e.remote.Publee)
	if err != nil {
		return e.fatal(e, err)
	}
	pkt := wire.NewPacket(e.baseMeta(rx.Meta.DstID, rx.Meta.SrcID, rx.Meta.SrcHost, rx.Meta.SrcPort, wire.PkCookie))
	pkt.Data.Set("cipher", hex.EncodeToString(cipher))
	pkt.Data.Set("nonce", hex.EncodeToString(nonce))
	if err := wire.Pack(pkt, nil); err != nil {
		return e.fatal(e, err)
	}
	e.transmit(pkt)
	return nil
}

// initiate opens the initiate under the session's ephemeral pair and
// checks the vouch and cookie echo before acking.
func (e *Endowent) initiate(pkt *wire.Packet) error {
	if err := wire.ParseInner(pkt, nil); err != nil {
		return e.fatal(e, err)
	}
	cipher, err := bodyBytes(pkt.Data, "cipher")
	if err != nil {
		return e.fatal(e, err)
	}
	nonce, err := bodyBytes(pkt.Data, "nonce")
	if err != nil {
		return e.fatal(e, err)
	}
	plain, err := e.remote.Privee.Decrypt(cipher, nonce, e.remote.Publee)
	if err != nil {
		return e.fatal(e, err)
	}
	var stuff struct {
		Shorthex string `json:"shorthex"`
		Vouch    string `json:"vouch"`
		Vnonce   string `json:"vnonce"`
		Oreo     string `json:"oreo"`
	}
	if err := json.Unmarshal(plain, &stuff); err != nil {
		return e.fatal(e, fmt.Errorf("malformed initiate: %w", err))
	}
	if stuff.Shorthex != e.remote.Publee.PubHex() {
		return e.fatal(e, errors.New("initiate ephemeral key mismatch"))
	}
	if stuff.Oreo != e.oreo {
		return e.fatal(e, errors.New("initiate cookie echo mismatch"))
	}
	vouch, err := hex.DecodeString(stuff.Vouch)
	if err != nil {
		return e.fatal(e, errors.New("malformed vouch field"))
	}
	vnonce, err := hex.DecodeString(stuff.Vnonce)
	if err != nil {
		return e.fatal(e, errors.New("malformed vnonce field"))
	}
	vouched, err := e.stack.Local.Priver.Decrypt(vouch, vnonce, e.remote.Pubber)
	if err != nil {
		return e.fatal(e, err)
	}
	if string(vouched) != stuff.Shorthex {
		return e.fatal(e, errors.New("vouch does not cover ephemeral key"))
	}

	e.ack()
	e.remote.Endowed = true
	e.graceUntil = e.stack.now().Add(endowGrace)
	e.stack.log.Info().Uint32("rdid", e.remote.ID).Msg("endow complete for remote")
	return nil
}

func (e *Endowent) ack() {
	rx := e.rxPacket
	pkt := wire.NewPacket(e.baseMeta(rx.Meta.DstID, rx.Meta.SrcID, rx.Meta.SrcHost, rx.Meta.SrcPort, wire.PkAck))
	if err := wire.Pack(pkt, nil); err != nil {
		e.stack.log.Error().Err(err).Msg("endow ack pack failed")
		return
	}
	e.transmit(pkt)
}

// Tick evicts an endowed correspondent once its grace window lapses and
// applies the usual deadline otherwise.
func (e *Endowent) Tick(now time.Time) {
	if !e.graceUntil.IsZero() {
		if now.After(e.graceUntil) {
			e.finish(e, "done")
		}
		return
	}
	e.tick(e, now)
}
