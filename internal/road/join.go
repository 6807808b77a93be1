package road

import (
	"errors"
	"fmt"
	"time"

	"roadway/internal/peer"
	"roadway/internal/wire"
)

// Joiner runs the initiator side of a join: it introduces the local
// peer's identity keys to a remote and adopts the id the remote assigns.
type Joiner struct {
	txn
	remote *peer.Remote
}

func newJoiner(s *Stack, remote *peer.Remote) *Joiner {
	j := &Joiner{
		txn: txn{
			stack: s,
			kind:  wire.TransJoin,
			rdid:  remote.ID,
			sid:   remote.Sid,
			tid:   remote.NextTid(),
		},
		remote: remote,
	}
	j.deadline = s.now().Add(s.Timeout)
	return j
}

// start transmits the join request carrying the local identity keys.
func (j *Joiner) start() error {
	pkt := wire.NewPacket(j.baseMeta(j.stack.Local.ID, j.remote.ID, j.remote.Host, j.remote.Port, wire.PkRequest))
	pkt.Data.Set("verhex", j.stack.Local.Signer.VerHex())
	pkt.Data.Set("pubhex", j.stack.Local.Priver.PubHex())
	if err := wire.Pack(pkt, nil); err != nil {
		return j.fatal(j, err)
	}
	j.transmit(pkt)
	return nil
}

func (j *Joiner) Receive(pkt *wire.Packet) error {
	j.rxPacket = pkt
	switch pkt.Meta.Kind {
	case wire.PkAck:
		j.pend()
		return nil
	case wire.PkResponse:
		return j.accept(pkt)
	}
	return j.fatal(j, fmt.Errorf("unexpected packet kind %d", pkt.Meta.Kind))
}

// pend records that the remote has queued the request for acceptance.
// Bookkeeping only; the transaction keeps waiting for the response.
func (j *Joiner) pend() {
	j.stack.log.Debug().Uint32("rdid", j.rdid).Msg("join pending acceptance")
}

// accept consumes the response: adopt the assigned local id, rekey the
// remote under its real id, and record its identity keys.
func (j *Joiner) accept(pkt *wire.Packet) error {
	if err := wire.ParseInner(pkt, nil); err != nil {
		return j.fatal(j, err)
	}
	ldid, err := bodyUint32(pkt.Data, "ldid")
	if err != nil {
		return j.fatal(j, err)
	}
	rdid, err := bodyUint32(pkt.Data, "rdid")
	if err != nil {
		return j.fatal(j, err)
	}
	verhex, err := bodyString(pkt.Data, "verhex")
	if err != nil {
		return j.fatal(j, err)
	}
	pubhex, err := bodyString(pkt.Data, "pubhex")
	if err != nil {
		return j.fatal(j, err)
	}
	if ldid == 0 || rdid == 0 {
		return j.fatal(j, errors.New("zero device id assigned"))
	}

	if j.remote.ID != rdid {
		if err := j.stack.Remotes.Rekey(j.remote.ID, rdid); err != nil {
			return j.fatal(j, err)
		}
	}
	j.rdid = rdid
	j.stack.Local.ID = ldid
	j.stack.Local.Accepted = true

	if _, err := j.remote.SetVerhex(verhex); err != nil {
		return j.fatal(j, err)
	}
	if _, err := j.remote.SetPubhex(pubhex); err != nil {
		return j.fatal(j, err)
	}
	j.remote.Accepted = true
	j.remote.NextSid()

	j.stack.log.Info().
		Uint32("ldid", ldid).
		Uint32("rdid", rdid).
		Msg("join accepted")
	j.finish(j, "done")
	return nil
}

func (j *Joiner) Tick(now time.Time) { j.tick(j, now) }

// Joinent runs the correspondent side of a join: it provisions an entry
// for the requester, acknowledges, and on acceptance assigns an id and
// answers with its own identity keys.
type Joinent struct {
	txn
	remote   *peer.Remote
	accepted bool
}

func newJoinent(s *Stack, pkt *wire.Packet) *Joinent {
	j := &Joinent{
		txn: txn{
			stack: s,
			kind:  wire.TransJoin,
			rmt:   true,
			rdid:  pkt.Meta.SrcID,
			bcst:  pkt.Meta.Broadcast,
			sid:   pkt.Meta.Sid,
			tid:   pkt.Meta.Tid,
		},
	}
	j.rxPacket = pkt
	j.deadline = s.now().Add(s.Timeout)
	return j
}

// pend provisions the requester in the registry and acknowledges, leaving
// the transaction waiting for an Accept call.
func (j *Joinent) pend() error {
	pkt := j.rxPacket
	if err := wire.ParseInner(pkt, nil); err != nil {
		return j.fatal(j, err)
	}
	verhex, err := bodyString(pkt.Data, "verhex")
	if err != nil {
		return j.fatal(j, err)
	}
	pubhex, err := bodyString(pkt.Data, "pubhex")
	if err != nil {
		return j.fatal(j, err)
	}

	remote := peer.NewRemote(j.stack.Remotes.MintID(j.stack.Local.ID), pkt.Meta.SrcHost, pkt.Meta.SrcPort)
	j.rdid = remote.ID
	remote.Rsid = pkt.Meta.Sid
	remote.Rtid = pkt.Meta.Tid
	if _, err := remote.SetVerhex(verhex); err != nil {
		return j.fatal(j, err)
	}
	if _, err := remote.SetPubhex(pubhex); err != nil {
		return j.fatal(j, err)
	}
	if err := j.stack.Remotes.Add(remote); err != nil {
		return j.fatal(j, err)
	}
	j.remote = remote
	j.ack()
	return nil
}

// ack acknowledges the request, echoing the requester's addressing.
func (j *Joinent) ack() {
	rx := j.rxPacket
	pkt := wire.NewPacket(j.baseMeta(rx.Meta.DstID, rx.Meta.SrcID, rx.Meta.SrcHost, rx.Meta.SrcPort, wire.PkAck))
	if err := wire.Pack(pkt, nil); err != nil {
		j.stack.log.Error().Err(err).Msg("join ack pack failed")
		return
	}
	j.transmit(pkt)
}

// Accept assigns the minted id to the requester and responds with the
// local identity keys.
func (j *Joinent) Accept() error {
	if j.remote == nil {
		return j.fatal(j, errors.New("no provisioned remote"))
	}
	rx := j.rxPacket
	pkt := wire.NewPacket(j.baseMeta(rx.Meta.DstID, rx.Meta.SrcID, rx.Meta.SrcHost, rx.Meta.SrcPort, wire.PkResponse))
	pkt.Data.Set("ldid", j.remote.ID)
	pkt.Data.Set("rdid", j.stack.Local.ID)
	pkt.Data.Set("verhex", j.stack.Local.Signer.VerHex())
	pkt.Data.Set("pubhex", j.stack.Local.Priver.PubHex())
	if err := wire.Pack(pkt, nil); err != nil {
		return j.fatal(j, err)
	}
	j.transmit(pkt)
	j.remote.Accepted = true
	j.accepted = true
	j.stack.log.Info().
		Uint32("rdid", j.remote.ID).
		Msg("join accepted for remote")
	j.finish(j, "done")
	return nil
}

func (j *Joinent) Receive(pkt *wire.Packet) error {
	j.rxPacket = pkt
	if pkt.Meta.Kind == wire.PkRequest {
		// Retransmitted request; the earlier ack was lost.
		j.ack()
		return nil
	}
	return j.fatal(j, fmt.Errorf("unexpected packet kind %d", pkt.Meta.Kind))
}

func (j *Joinent) Tick(now time.Time) { j.tick(j, now) }
