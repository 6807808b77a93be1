package road

import (
	"fmt"
	"time"

	"roadway/internal/peer"
	"roadway/internal/wire"
)

// Messenger runs the initiator side of a message: one sealed payload,
// complete on the remote's ack.
type Messenger struct {
	txn
	remote *peer.Remote
	body   *wire.Mapping
}

func newMessenger(s *Stack, remote *peer.Remote, body *wire.Mapping) *Messenger {
	m := &Messenger{
		txn: txn{
			stack: s,
			kind:  wire.TransMessage,
			rdid:  remote.ID,
			sid:   remote.Sid,
			tid:   remote.NextTid(),
		},
		remote: remote,
		body:   body,
	}
	m.deadline = s.now().Add(s.Timeout)
	return m
}

// start seals the payload under the session keys and transmits it.
func (m *Messenger) start() error {
	session, err := m.remote.Session()
	if err != nil {
		return m.fatal(m, err)
	}
	meta := m.baseMeta(m.stack.Local.ID, m.remote.ID, m.remote.Host, m.remote.Port, wire.PkMessage)
	meta.Tail = wire.TailNaCl
	pkt := wire.NewPacket(meta)
	pkt.Data = m.body
	if err := wire.Pack(pkt, session); err != nil {
		return m.fatal(m, err)
	}
	m.transmit(pkt)
	return nil
}

func (m *Messenger) Receive(pkt *wire.Packet) error {
	m.rxPacket = pkt
	if pkt.Meta.Kind == wire.PkAck {
		m.finish(m, "done")
		return nil
	}
	return m.fatal(m, fmt.Errorf("unexpected packet kind %d", pkt.Meta.Kind))
}

func (m *Messenger) Tick(now time.Time) { m.tick(m, now) }

// Messengent receives one sealed message from an endowed remote, delivers
// it to the stack's inbound queue, and acks.
type Messengent struct {
	txn
	remote *peer.Remote
}

func newMessengent(s *Stack, pkt *wire.Packet, remote *peer.Remote) *Messengent {
	m := &Messengent{
		txn: txn{
			stack: s,
			kind:  wire.TransMessage,
			rmt:   true,
			rdid:  remote.ID,
			bcst:  pkt.Meta.Broadcast,
			sid:   pkt.Meta.Sid,
			tid:   pkt.Meta.Tid,
		},
		remote: remote,
	}
	m.rxPacket = pkt
	m.deadline = s.now().Add(s.Timeout)
	return m
}

func (m *Messengent) Receive(pkt *wire.Packet) error {
	m.rxPacket = pkt
	if pkt.Meta.Kind == wire.PkMessage {
		return m.message(pkt)
	}
	return m.fatal(m, fmt.Errorf("unexpected packet kind %d", pkt.Meta.Kind))
}

// message opens the sealed body, delivers it, acks, and completes.
func (m *Messengent) message(pkt *wire.Packet) error {
	session, err := m.remote.Session()
	if err != nil {
		return m.fatal(m, err)
	}
	if err := wire.ParseInner(pkt, session); err != nil {
		return m.fatal(m, err)
	}
	m.stack.deliver(m.remote.ID, pkt.Data)
	m.ack()
	m.finish(m, "done")
	return nil
}

func (m *Messengent) ack() {
	rx := m.rxPacket
	pkt := wire.NewPacket(m.baseMeta(rx.Meta.DstID, rx.Meta.SrcID, rx.Meta.SrcHost, rx.Meta.SrcPort, wire.PkAck))
	if err := wire.Pack(pkt, nil); err != nil {
		m.stack.log.Error().Err(err).Msg("message ack pack failed")
		return
	}
	m.transmit(pkt)
}

func (m *Messengent) Tick(now time.Time) { m.tick(m, now) }
