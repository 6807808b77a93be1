package road

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roadway/internal/crypto"
	"roadway/internal/network"
	"roadway/internal/peer"
	"roadway/internal/wire"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	sw     *network.Switch
	clock  *fakeClock
	master *Stack
	minion *Stack
}

var (
	masterAddr = fmt.Sprintf("127.0.0.1:%d", wire.DefaultPort)
	minionAddr = fmt.Sprintf("127.0.0.1:%d", wire.TestPort)
)

func newHarness(t *testing.T, autoAccept bool) *harness {
	t.Helper()
	h := &harness{sw: network.NewSwitch(), clock: newFakeClock()}

	masterLocal, err := peer.NewLocal(1, "127.0.0.1", wire.DefaultPort, nil, nil)
	require.NoError(t, err)
	masterLocal.Accepted = true
	h.master, err = NewStack(Config{
		Name:       "master",
		Local:      masterLocal,
		Carrier:    h.sw.Attach(masterAddr),
		AutoAccept: autoAccept,
	})
	require.NoError(t, err)
	h.master.Now = h.clock.now

	minionLocal, err := peer.NewLocal(0, "127.0.0.1", wire.TestPort, nil, nil)
	require.NoError(t, err)
	h.minion, err = NewStack(Config{
		Name:          "minion",
		Local:         minionLocal,
		Carrier:       h.sw.Attach(minionAddr),
		BootstrapHost: "127.0.0.1",
		BootstrapPort: wire.DefaultPort,
	})
	require.NoError(t, err)
	h.minion.Now = h.clock.now
	return h
}

// cycle services both stacks enough times for any multi-step exchange on
// the loopback switch to settle.
func (h *harness) cycle() {
	for i := 0; i < 6; i++ {
		h.minion.ServiceAll()
		h.master.ServiceAll()
	}
}

func (h *harness) join(t *testing.T) {
	t.Helper()
	_, err := h.minion.Join()
	require.NoError(t, err)
	h.cycle()
	require.True(t, h.minion.Local.Accepted)
}

func (h *harness) endow(t *testing.T) {
	t.Helper()
	_, err := h.minion.Endow(1)
	require.NoError(t, err)
	h.cycle()
}

func TestJoinAssignsIdentity(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)

	require.Equal(t, uint32(2), h.minion.Local.ID)
	require.True(t, h.minion.Local.Accepted)

	masterPeer, ok := h.minion.Remotes.Get(1)
	require.True(t, ok, "master not rekeyed from provisional id 0")
	require.False(t, h.minion.Remotes.Has(0))
	require.True(t, masterPeer.Accepted)
	require.Equal(t, h.master.Local.Priver.PubHex(), masterPeer.Pubber.PubHex())
	require.Equal(t, h.master.Local.Signer.VerHex(), masterPeer.Verfer.VerHex())

	minionPeer, ok := h.master.Remotes.Get(2)
	require.True(t, ok, "minion not registered under minted id")
	require.True(t, minionPeer.Accepted)
	require.Equal(t, h.minion.Local.Priver.PubHex(), minionPeer.Pubber.PubHex())

	require.Zero(t, h.minion.Transactions())
	require.Zero(t, h.master.Transactions())
}

func TestJoinManualAccept(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.minion.Join()
	require.NoError(t, err)
	h.cycle()

	// Acknowledged but not accepted: the minion keeps waiting and the
	// master holds a pending correspondent.
	require.False(t, h.minion.Local.Accepted)
	pending := h.master.PendingJoins()
	require.Len(t, pending, 1)

	require.NoError(t, pending[0].Accept())
	h.cycle()
	require.True(t, h.minion.Local.Accepted)
	require.Equal(t, uint32(2), h.minion.Local.ID)
}

func TestEndowEstablishesSession(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)
	h.endow(t)

	masterPeer, _ := h.minion.Remotes.Get(1)
	require.True(t, masterPeer.Endowed)
	minionPeer, _ := h.master.Remotes.Get(2)
	require.True(t, minionPeer.Endowed)

	// Both sides must hold mirrored ephemeral keys.
	require.Equal(t, masterPeer.Privee.PubHex(), minionPeer.Publee.PubHex())
	require.Equal(t, minionPeer.Privee.PubHex(), masterPeer.Publee.PubHex())

	require.Zero(t, h.minion.Transactions())
	// The correspondent lingers for its grace window, then goes.
	require.Equal(t, 1, h.master.Transactions())
	h.clock.advance(2 * time.Second)
	h.cycle()
	require.Zero(t, h.master.Transactions())
}

func TestEndowRequiresAcceptedPeer(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.minion.Endow(1)
	require.Error(t, err)

	h.join(t)
	_, err = h.minion.Endow(99)
	require.Error(t, err)
}

func TestEndowRejectsWrongIdentityKey(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)

	// Poison the minion's record of the master's long-term key; the
	// master must refuse the resulting hello proof.
	wrong, err := crypto.NewPrivateer()
	require.NoError(t, err)
	masterPeer, _ := h.minion.Remotes.Get(1)
	masterPeer.Pubber = crypto.PublicanOf(wrong)

	_, err = h.minion.Endow(1)
	require.NoError(t, err)
	h.cycle()

	require.False(t, masterPeer.Endowed)
	minionPeer, _ := h.master.Remotes.Get(2)
	require.False(t, minionPeer.Endowed)
	require.Zero(t, h.master.Transactions())

	// The initiator never hears back and times out.
	h.clock.advance(DefaultTimeout + time.Second)
	h.cycle()
	require.Zero(t, h.minion.Transactions())
}

func TestEndowTamperedInitiateRejected(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)

	_, err := h.minion.Endow(1)
	require.NoError(t, err)
	h.minion.ServiceAll() // hello out
	h.master.ServiceAll() // cookie out
	h.minion.ServiceAll() // initiate out, queued at the master

	ok := h.sw.Mangle(masterAddr, func(data []byte) {
		// Flip one hex digit inside the sealed body.
		i := len(data) - 3
		if data[i] == 'a' {
			data[i] = 'b'
		} else {
			data[i] = 'a'
		}
	})
	require.True(t, ok)

	h.cycle()
	minionPeer, _ := h.master.Remotes.Get(2)
	require.False(t, minionPeer.Endowed)
	require.Zero(t, h.master.Transactions())

	masterPeer, _ := h.minion.Remotes.Get(1)
	require.False(t, masterPeer.Endowed)
	require.Equal(t, 1, h.minion.Transactions())
	h.clock.advance(DefaultTimeout + time.Second)
	h.cycle()
	require.Zero(t, h.minion.Transactions())
}

func TestMessageBothDirections(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)
	h.endow(t)

	body := wire.NewMapping()
	body.Set("route", "ping")
	body.Set("seq", 1)
	_, err := h.minion.Message(1, body)
	require.NoError(t, err)
	h.cycle()

	msg, ok := h.master.Rx()
	require.True(t, ok, "message not delivered")
	require.Equal(t, uint32(2), msg.From)
	require.Equal(t, "ping", msg.Body.GetString("route"))
	require.Zero(t, h.minion.Transactions())

	reply := wire.NewMapping()
	reply.Set("route", "pong")
	_, err = h.master.Message(2, reply)
	require.NoError(t, err)
	h.cycle()

	back, ok := h.minion.Rx()
	require.True(t, ok, "reply not delivered")
	require.Equal(t, uint32(1), back.From)
	require.Equal(t, "pong", back.Body.GetString("route"))
}

func TestMessageRequiresEndow(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)
	body := wire.NewMapping()
	body.Set("route", "ping")
	_, err := h.minion.Message(1, body)
	require.Error(t, err)
}

func TestMessageOrderPreserved(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)
	h.endow(t)

	for i := 0; i < 3; i++ {
		body := wire.NewMapping()
		body.Set("seq", i)
		_, err := h.minion.Message(1, body)
		require.NoError(t, err)
		h.cycle()
	}
	for i := 0; i < 3; i++ {
		msg, ok := h.master.Rx()
		require.True(t, ok)
		seq, ok := msg.Body.GetUint32("seq")
		require.True(t, ok)
		require.Equal(t, uint32(i), seq)
	}
	_, ok := h.master.Rx()
	require.False(t, ok)
}

func TestMisaddressedPacketDropped(t *testing.T) {
	h := newHarness(t, true)
	stray := h.sw.Attach("127.0.0.1:7533")

	meta := wire.DefaultMeta()
	meta.Kind = wire.PkRequest
	meta.Trans = wire.TransJoin
	meta.SrcHost = "127.0.0.1"
	meta.SrcPort = 7533
	meta.DstID = 9 // nobody here has id 9
	pkt := wire.NewPacket(meta)
	pkt.Data.Set("verhex", "aa")
	pkt.Data.Set("pubhex", "bb")
	require.NoError(t, wire.Pack(pkt, nil))
	require.NoError(t, stray.Send(masterAddr, pkt.Packed))

	h.master.ServiceAll()
	require.Zero(t, h.master.Transactions())
	require.Zero(t, h.master.Remotes.Len())
}

func TestStaleCorrespondentPacketDropped(t *testing.T) {
	h := newHarness(t, true)
	stray := h.sw.Attach("127.0.0.1:7533")

	// A correspondent-flagged packet with no live initiator transaction
	// must never spawn a reply.
	meta := wire.DefaultMeta()
	meta.Kind = wire.PkAck
	meta.Trans = wire.TransJoin
	meta.SrcHost = "127.0.0.1"
	meta.SrcPort = 7533
	meta.Correspondent = true
	meta.Sid = 4
	meta.Tid = 4
	pkt := wire.NewPacket(meta)
	require.NoError(t, wire.Pack(pkt, nil))
	require.NoError(t, stray.Send(masterAddr, pkt.Packed))

	h.master.ServiceAll()
	require.Zero(t, h.master.Transactions())
}

func TestEndowForgedEarlyAckRejected(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)
	h.sw.Drop(masterAddr) // master gone; the hello is never answered
	stray := h.sw.Attach("127.0.0.1:7533")

	_, err := h.minion.Endow(1)
	require.NoError(t, err)
	h.minion.ServiceAll() // hello leaves, undelivered

	masterPeer, ok := h.minion.Remotes.Get(1)
	require.True(t, ok)

	// An ack is only valid once the initiate has gone out. A forged ack
	// straight after the hello must abort, not promote the peer.
	meta := wire.DefaultMeta()
	meta.Kind = wire.PkAck
	meta.Trans = wire.TransEndow
	meta.SrcHost = "127.0.0.1"
	meta.SrcPort = 7533
	meta.SrcID = 1
	meta.DstID = h.minion.Local.ID
	meta.Sid = masterPeer.Sid
	meta.Tid = masterPeer.Tid
	meta.Correspondent = true
	pkt := wire.NewPacket(meta)
	require.NoError(t, wire.Pack(pkt, nil))
	require.NoError(t, stray.Send(minionAddr, pkt.Packed))

	h.minion.ServiceAll()
	require.False(t, masterPeer.Endowed)
	require.Zero(t, h.minion.Transactions())

	body := wire.NewMapping()
	body.Set("route", "ping")
	_, err = h.minion.Message(1, body)
	require.Error(t, err)
}

func TestJoinUnexpectedKindAborts(t *testing.T) {
	h := newHarness(t, true)
	h.sw.Drop(masterAddr)
	stray := h.sw.Attach("127.0.0.1:7533")

	_, err := h.minion.Join()
	require.NoError(t, err)
	h.minion.ServiceAll()

	// A cookie kind has no place in a join; the initiator must abort
	// rather than act on it.
	meta := wire.DefaultMeta()
	meta.Kind = wire.PkCookie
	meta.Trans = wire.TransJoin
	meta.SrcHost = "127.0.0.1"
	meta.SrcPort = 7533
	meta.Correspondent = true
	meta.Tid = 1
	pkt := wire.NewPacket(meta)
	require.NoError(t, wire.Pack(pkt, nil))
	require.NoError(t, stray.Send(minionAddr, pkt.Packed))

	h.minion.ServiceAll()
	require.Zero(t, h.minion.Transactions())
	require.False(t, h.minion.Local.Accepted)
}

func TestGarbageDatagramDropped(t *testing.T) {
	h := newHarness(t, true)
	stray := h.sw.Attach("127.0.0.1:7533")
	require.NoError(t, stray.Send(masterAddr, []byte("not a packet")))
	h.master.ServiceAll()
	require.Zero(t, h.master.Transactions())
}

func TestTransactionIndexCollision(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.minion.Join()
	require.NoError(t, err)

	// Force the next join onto the same (sid, tid) tuple.
	bootstrap, ok := h.minion.Remotes.First()
	require.True(t, ok)
	bootstrap.Tid--
	_, err = h.minion.Join()
	require.Error(t, err)
	require.Contains(t, err.Error(), "index in use")
}

func TestTransactionTimeout(t *testing.T) {
	h := newHarness(t, true)
	h.sw.Drop(masterAddr) // master gone; joins go nowhere

	_, err := h.minion.Join()
	require.NoError(t, err)
	require.Equal(t, 1, h.minion.Transactions())

	h.minion.ServiceAll()
	require.Equal(t, 1, h.minion.Transactions())

	h.clock.advance(DefaultTimeout + time.Second)
	h.minion.ServiceAll()
	require.Zero(t, h.minion.Transactions())
	require.False(t, h.minion.Local.Accepted)
}

func TestRepeatedMessagesDistinctTransactions(t *testing.T) {
	h := newHarness(t, true)
	h.join(t)
	h.endow(t)

	for i := 0; i < 5; i++ {
		body := wire.NewMapping()
		body.Set("n", fmt.Sprintf("%d", i))
		_, err := h.minion.Message(1, body)
		require.NoError(t, err)
	}
	require.Equal(t, 5, h.minion.Transactions())
	h.cycle()
	require.Zero(t, h.minion.Transactions())

	delivered := 0
	for {
		if _, ok := h.master.Rx(); !ok {
			break
		}
		delivered++
	}
	require.Equal(t, 5, delivered)
}
