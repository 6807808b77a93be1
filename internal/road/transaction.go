// Package road implements the roadway stack: the datagram service loop,
// the peer registry and transaction table it owns, and the join, endow,
// and message transaction state machines.
package road

import (
	"encoding/hex"
	"fmt"
	"time"

	"roadway/internal/metrics"
	"roadway/internal/wire"
)

// DefaultTimeout is the deadline applied to a transaction unless the
// caller overrides it.
const DefaultTimeout = 5 * time.Second

// Transaction is one live multi-step exchange in the stack's table.
type Transaction interface {
	Index() wire.Index
	Kind() wire.TransKind

	// Receive processes a packet routed to this transaction. Protocol
	// errors remove the transaction from the table and propagate.
	Receive(pkt *wire.Packet) error

	// Tick enforces the deadline: an expired transaction evicts itself
	// with a timeout classification. Called once per service cycle.
	Tick(now time.Time)

	setIndex(idx wire.Index)
	kindName() string
	sideName() string
}

// txn carries the state common to every transaction variant.
type txn struct {
	stack *Stack
	kind  wire.TransKind

	rdid uint32 // remote peer id
	rmt  bool   // correspondent side
	bcst bool

	sid uint32
	tid uint32

	deadline time.Time
	index    wire.Index // table key, fixed at registration

	txPacket *wire.Packet // last transmitted, kept for retransmission
	rxPacket *wire.Packet // last received

	done bool
}

func (t *txn) Index() wire.Index       { return t.index }
func (t *txn) Kind() wire.TransKind    { return t.kind }
func (t *txn) setIndex(idx wire.Index) { t.index = idx }

func (t *txn) kindName() string {
	switch t.kind {
	case wire.TransJoin:
		return "join"
	case wire.TransEndow:
		return "endow"
	case wire.TransMessage:
		return "message"
	}
	return "unknown"
}

func (t *txn) sideName() string {
	if t.rmt {
		return "correspondent"
	}
	return "initiator"
}

// transmit packs nothing; it queues an already-packed packet for the
// remote this transaction talks to.
func (t *txn) transmit(pkt *wire.Packet) {
	t.txPacket = pkt
	t.stack.transmit(pkt.Packed, pkt.Meta.DstHost, pkt.Meta.DstPort)
}

// finish marks the transaction terminal and removes it from the table.
func (t *txn) finish(self Transaction, outcome string) {
	if t.done {
		return
	}
	t.done = true
	t.stack.removeTransaction(self)
	metrics.TransactionOutcomesTotal.WithLabelValues(t.kindName(), outcome).Inc()
}

// fatal finishes with an error outcome and wraps the cause.
func (t *txn) fatal(self Transaction, err error) error {
	t.finish(self, "error")
	return fmt.Errorf("%s %s: %w", t.kindName(), t.sideName(), err)
}

// tick is the uniform deadline check shared by every variant.
func (t *txn) tick(self Transaction, now time.Time) {
	if t.done || now.Before(t.deadline) {
		return
	}
	t.stack.log.Warn().
		Str("kind", t.kindName()).
		Str("side", t.sideName()).
		Uint32("rdid", t.rdid).
		Msg("transaction timed out")
	t.finish(self, "timeout")
}

// baseMeta fills the routing fields every packet of this transaction
// shares: addresses, ids, kinds, and flags.
func (t *txn) baseMeta(srcID, dstID uint32, dstHost string, dstPort uint16, pk wire.PacketKind) wire.Meta {
	m := wire.DefaultMeta()
	m.Kind = pk
	m.Trans = t.kind
	m.SrcHost = t.stack.Local.Host
	m.SrcPort = t.stack.Local.Port
	m.DstHost = dstHost
	m.DstPort = dstPort
	m.SrcID = srcID
	m.DstID = dstID
	m.Sid = t.sid
	m.Tid = t.tid
	m.Correspondent = t.rmt
	m.Broadcast = t.bcst
	return m
}

// body field helpers; handshake bodies carry hex-encoded key material.

func bodyString(body *wire.Mapping, key string) (string, error) {
	s := body.GetString(key)
	if s == "" {
		return "", fmt.Errorf("missing %s field", key)
	}
	return s, nil
}

func bodyUint32(body *wire.Mapping, key string) (uint32, error) {
	v, ok := body.GetUint32(key)
	if !ok {
		return 0, fmt.Errorf("missing %s field", key)
	}
	return v, nil
}

func bodyBytes(body *wire.Mapping, key string) ([]byte, error) {
	s, err := bodyString(body, key)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed %s field", key)
	}
	return raw, nil
}
