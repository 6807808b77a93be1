package road

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"

	"roadway/internal/logging"
	"roadway/internal/metrics"
	"roadway/internal/network"
	"roadway/internal/peer"
	"roadway/internal/wire"
)

// DefaultReplyRate caps how many correspondent transactions one source
// host may open per second.
const DefaultReplyRate = 64

// Msg is one received message payload with its originating peer id.
type Msg struct {
	From uint32
	Body *wire.Mapping
}

// Config parameterizes a Stack.
type Config struct {
	Name    string
	Local   *peer.Local
	Carrier network.Carrier

	// Remotes seeds the registry, for identities restored from the keep.
	Remotes *peer.Registry

	// BootstrapHost and BootstrapPort locate the provisional channel
	// master when joining with an empty registry.
	BootstrapHost string
	BootstrapPort uint16

	Timeout   time.Duration // transaction deadline, DefaultTimeout when zero
	ReplyRate uint64        // per-host correspondent rate, DefaultReplyRate when zero

	// AutoAccept answers join requests immediately. Off, pending joinents
	// wait for an explicit Accept call by the application.
	AutoAccept bool
}

// outbound is one queued datagram.
type outbound struct {
	data []byte
	dst  string
}

// Stack is one roadway endpoint: it owns the local peer, the remote
// registry, and the transaction table, and advances them all from a
// single-caller service cycle. Nothing in it is safe for concurrent use;
// the carrier is the only boundary other goroutines touch.
type Stack struct {
	Name string
	UID  string

	Local   *peer.Local
	Remotes *peer.Registry

	Timeout    time.Duration
	AutoAccept bool

	// Now overrides the clock, for deterministic deadline tests.
	Now func() time.Time

	carrier       network.Carrier
	bootstrapHost string
	bootstrapPort uint16

	transactions map[wire.Index]Transaction
	rxes         []network.Datagram
	txes         []outbound
	msgs         []Msg

	limiter    limiter.Store
	log        zerolog.Logger
	warnedNeck bool
}

// NewStack builds a stack around an already-open carrier.
func NewStack(cfg Config) (*Stack, error) {
	if cfg.Local == nil {
		return nil, errors.New("stack: local peer required")
	}
	if cfg.Carrier == nil {
		return nil, errors.New("stack: carrier required")
	}
	metrics.Register()

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	rate := cfg.ReplyRate
	if rate == 0 {
		rate = DefaultReplyRate
	}
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   rate,
		Interval: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "roadway"
	}
	host := cfg.BootstrapHost
	if host == "" {
		host = wire.DefaultHost
	}
	port := cfg.BootstrapPort
	if port == 0 {
		port = wire.DefaultPort
	}

	remotes := cfg.Remotes
	if remotes == nil {
		remotes = peer.NewRegistry()
	}

	return &Stack{
		Name:          name,
		UID:           uuid.NewString(),
		Local:         cfg.Local,
		Remotes:       remotes,
		Timeout:       timeout,
		AutoAccept:    cfg.AutoAccept,
		carrier:       cfg.Carrier,
		bootstrapHost: host,
		bootstrapPort: port,
		transactions:  make(map[wire.Index]Transaction),
		limiter:       store,
		log:           logging.WithStack(name),
	}, nil
}

func (s *Stack) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Addr is the carrier's bound address.
func (s *Stack) Addr() string { return s.carrier.Addr() }

// Close releases the carrier. Live transactions are abandoned.
func (s *Stack) Close() error { return s.carrier.Close() }

// Transactions reports the number of live table entries.
func (s *Stack) Transactions() int { return len(s.transactions) }

// PendingJoins lists correspondent joins waiting for an explicit Accept.
// Only populated when AutoAccept is off.
func (s *Stack) PendingJoins() []*Joinent {
	var out []*Joinent
	for _, t := range s.transactions {
		if j, ok := t.(*Joinent); ok && !j.accepted {
			out = append(out, j)
		}
	}
	return out
}

// Rx pops one delivered message, oldest first.
func (s *Stack) Rx() (Msg, bool) {
	if len(s.msgs) == 0 {
		return Msg{}, false
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, true
}

func (s *Stack) deliver(from uint32, body *wire.Mapping) {
	s.msgs = append(s.msgs, Msg{From: from, Body: body})
}

// Join starts a join toward the lowest-id known remote, provisioning the
// bootstrap master first when the registry is empty.
func (s *Stack) Join() (*Joiner, error) {
	remote, ok := s.Remotes.First()
	if !ok {
		remote = peer.NewRemote(0, s.bootstrapHost, s.bootstrapPort)
		if err := s.Remotes.Add(remote); err != nil {
			return nil, err
		}
	}
	j := newJoiner(s, remote)
	idx := wire.Index{LocalID: s.Local.ID, RemoteID: j.rdid, Sid: j.sid, Tid: j.tid}
	if err := s.addTransaction(j, idx); err != nil {
		return nil, err
	}
	if err := j.start(); err != nil {
		return nil, err
	}
	return j, nil
}

// Endow starts the session-key handshake with an accepted remote.
func (s *Stack) Endow(rdid uint32) (*Endower, error) {
	remote, ok := s.Remotes.Get(rdid)
	if !ok {
		return nil, fmt.Errorf("stack: no remote %d", rdid)
	}
	if !remote.Accepted {
		return nil, fmt.Errorf("stack: remote %d not accepted", rdid)
	}
	e := newEndower(s, remote)
	idx := wire.Index{LocalID: s.Local.ID, RemoteID: e.rdid, Sid: e.sid, Tid: e.tid}
	if err := s.addTransaction(e, idx); err != nil {
		return nil, err
	}
	if err := e.start(); err != nil {
		return nil, err
	}
	return e, nil
}

// Message sends one sealed payload to an endowed remote.
func (s *Stack) Message(rdid uint32, body *wire.Mapping) (*Messenger, error) {
	remote, ok := s.Remotes.Get(rdid)
	if !ok {
		return nil, fmt.Errorf("stack: no remote %d", rdid)
	}
	if !remote.Endowed {
		return nil, fmt.Errorf("stack: remote %d not endowed", rdid)
	}
	m := newMessenger(s, remote, body)
	idx := wire.Index{LocalID: s.Local.ID, RemoteID: m.rdid, Sid: m.sid, Tid: m.tid}
	if err := s.addTransaction(m, idx); err != nil {
		return nil, err
	}
	if err := m.start(); err != nil {
		return nil, err
	}
	return m, nil
}

// ServiceAll runs one full service cycle: drain the carrier, process
// every buffered inbound packet, tick the transaction deadlines, and
// flush the outbound queue.
func (s *Stack) ServiceAll() {
	now := s.now()
	s.serviceReceive()
	for s.processInbound() {
	}
	s.tickTransactions(now)
	s.serviceTransmit()
	metrics.PeersKnown.Set(float64(s.Remotes.Len()))
}

// serviceReceive drains the carrier without blocking.
func (s *Stack) serviceReceive() {
	for {
		d, ok := s.carrier.Recv()
		if !ok {
			return
		}
		metrics.PacketsTotal.WithLabelValues("in").Inc()
		s.rxes = append(s.rxes, d)
	}
}

// serviceTransmit flushes queued datagrams onto the carrier.
func (s *Stack) serviceTransmit() {
	for _, out := range s.txes {
		if err := s.carrier.Send(out.dst, out.data); err != nil {
			s.log.Warn().Err(err).Str("dst", out.dst).Msg("send failed")
			continue
		}
		metrics.PacketsTotal.WithLabelValues("out").Inc()
	}
	s.txes = s.txes[:0]
}

func (s *Stack) transmit(data []byte, host string, port uint16) {
	s.txes = append(s.txes, outbound{data: data, dst: fmt.Sprintf("%s:%d", host, port)})
}

// processInbound consumes one buffered datagram: parse, screen, and
// route to the owning transaction or to a fresh correspondent.
func (s *Stack) processInbound() bool {
	if len(s.rxes) == 0 {
		return false
	}
	d := s.rxes[0]
	s.rxes = s.rxes[1:]

	pkt := wire.NewRxPacket(d.Data)
	wire.ParseOuter(pkt)
	if !pkt.Whole() {
		s.drop(pkt, "parse")
		return true
	}
	if pkt.Meta.Neck == wire.NeckNaCl && !s.warnedNeck {
		s.warnedNeck = true
		s.log.Warn().Msg("insecure: unauthenticated framing")
	}
	if !wire.VerifyNeck(pkt) {
		s.drop(pkt, "neck")
		return true
	}
	// Destination screening: 0 addresses whoever answers at this socket
	// (bootstrap); anything else must be us.
	if dd := pkt.Meta.DstID; dd != 0 && dd != s.Local.ID {
		s.drop(pkt, "misaddressed")
		return true
	}

	idx := pkt.Meta.RxIndex()
	if t, ok := s.transactions[idx]; ok {
		if err := t.Receive(pkt); err != nil {
			s.log.Warn().Err(err).Msg("transaction failed")
		}
		return true
	}
	if pkt.Meta.Correspondent {
		// Answer to a transaction we no longer track.
		s.drop(pkt, "stale")
		return true
	}
	s.reply(pkt)
	return true
}

func (s *Stack) drop(pkt *wire.Packet, reason string) {
	metrics.PacketDropsTotal.WithLabelValues(reason).Inc()
	s.log.Debug().Str("reason", reason).Str("err", pkt.Err).Msg("packet dropped")
}

// reply spawns the correspondent side of an exchange initiated by a
// remote. Spawning is rate limited per source host.
func (s *Stack) reply(pkt *wire.Packet) {
	_, _, _, ok, err := s.limiter.Take(context.Background(), pkt.Meta.SrcHost)
	if err != nil || !ok {
		s.drop(pkt, "limited")
		return
	}

	switch {
	case pkt.Meta.Trans == wire.TransJoin && pkt.Meta.Kind == wire.PkRequest:
		s.replyJoin(pkt)
	case pkt.Meta.Trans == wire.TransEndow && pkt.Meta.Kind == wire.PkHello:
		s.replyEndow(pkt)
	case pkt.Meta.Trans == wire.TransMessage && pkt.Meta.Kind == wire.PkMessage:
		s.replyMessage(pkt)
	default:
		s.drop(pkt, "unsolicited")
	}
}

func (s *Stack) replyJoin(pkt *wire.Packet) {
	j := newJoinent(s, pkt)
	if err := s.addTransaction(j, pkt.Meta.RxIndex()); err != nil {
		s.drop(pkt, "collision")
		return
	}
	if err := j.pend(); err != nil {
		s.log.Warn().Err(err).Msg("join rejected")
		return
	}
	if s.AutoAccept {
		if err := j.Accept(); err != nil {
			s.log.Warn().Err(err).Msg("join accept failed")
		}
	}
}

func (s *Stack) replyEndow(pkt *wire.Packet) {
	remote, ok := s.checkCorrespondent(pkt)
	if !ok {
		return
	}
	e := newEndowent(s, pkt, remote)
	if err := s.addTransaction(e, pkt.Meta.RxIndex()); err != nil {
		s.drop(pkt, "collision")
		return
	}
	if err := e.Receive(pkt); err != nil {
		s.log.Warn().Err(err).Msg("endow rejected")
	}
}

func (s *Stack) replyMessage(pkt *wire.Packet) {
	remote, ok := s.checkCorrespondent(pkt)
	if !ok {
		return
	}
	m := newMessengent(s, pkt, remote)
	if err := s.addTransaction(m, pkt.Meta.RxIndex()); err != nil {
		s.drop(pkt, "collision")
		return
	}
	if err := m.Receive(pkt); err != nil {
		s.log.Warn().Err(err).Msg("message rejected")
	}
}

// checkCorrespondent screens a correspondent-path packet: the source
// must be a known accepted remote and its session id must not regress.
func (s *Stack) checkCorrespondent(pkt *wire.Packet) (*peer.Remote, bool) {
	remote, ok := s.Remotes.Get(pkt.Meta.SrcID)
	if !ok || !remote.Accepted {
		s.drop(pkt, "unknown")
		return nil, false
	}
	if remote.Rsid != 0 && !peer.ValidSid(pkt.Meta.Sid, remote.Rsid) {
		s.drop(pkt, "stale")
		return nil, false
	}
	remote.Rsid = pkt.Meta.Sid
	remote.Rtid = pkt.Meta.Tid
	return remote, true
}

// addTransaction registers a transaction; index collisions are an error
// and leave the table unchanged.
func (s *Stack) addTransaction(t Transaction, idx wire.Index) error {
	if _, ok := s.transactions[idx]; ok {
		return fmt.Errorf("stack: transaction index in use: %+v", idx)
	}
	t.setIndex(idx)
	s.transactions[idx] = t
	metrics.TransactionsTotal.WithLabelValues(t.kindName(), t.sideName()).Inc()
	metrics.TransactionsLive.Inc()
	return nil
}

// removeTransaction deletes a transaction only if the table still maps
// its index to this same instance.
func (s *Stack) removeTransaction(t Transaction) {
	cur, ok := s.transactions[t.Index()]
	if !ok || cur != t {
		return
	}
	delete(s.transactions, t.Index())
	metrics.TransactionsLive.Dec()
}

// tickTransactions applies the deadline to every live transaction. Ticks
// may evict, so iterate over a snapshot.
func (s *Stack) tickTransactions(now time.Time) {
	live := make([]Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		live = append(live, t)
	}
	for _, t := range live {
		t.Tick(now)
	}
}
