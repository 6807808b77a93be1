package wire

// Meta holds the fixed-schema routing and framing fields of a packet.
// These are the fields carried in the head segment; body content never
// lives here.
type Meta struct {
	Version uint32

	Head HeadKind
	Neck NeckKind
	Body BodyKind
	Tail TailKind

	Kind  PacketKind // pk, step within the exchange
	Trans TransKind  // xk, transaction family

	SrcHost string
	SrcPort uint16
	DstHost string
	DstPort uint16

	SrcID uint32 // sd
	DstID uint32 // dd
	Sid   uint32 // si
	Tid   uint32 // ti

	Correspondent bool // cf
	Broadcast     bool // bf
	Pending       bool // pf
	All           bool // af
}

// DefaultMeta returns a Meta populated with the documented defaults; head
// parsing starts from these and overwrites whichever keys are present.
func DefaultMeta() Meta {
	return Meta{
		Version: Version,
		Head:    HeadJSON,
		Neck:    NeckNone,
		Body:    BodyJSON,
		Tail:    TailNone,
		Kind:    PkUnknown,
		Trans:   TransNone,
		SrcHost: "",
		SrcPort: DefaultPort,
		DstHost: DefaultHost,
		DstPort: DefaultPort,
	}
}

// Index is the composite transaction index. The tuple must be unique among
// live transactions on one stack.
type Index struct {
	Remote    bool // true on the correspondent side
	LocalID   uint32
	RemoteID  uint32
	Sid       uint32
	Tid       uint32
	Broadcast bool
}

// TxIndex is the index under which the sender tracks the exchange.
func (m *Meta) TxIndex() Index {
	return Index{
		Remote:    m.Correspondent,
		LocalID:   m.SrcID,
		RemoteID:  m.DstID,
		Sid:       m.Sid,
		Tid:       m.Tid,
		Broadcast: m.Broadcast,
	}
}

// RxIndex is the index a receiver uses to find the owning transaction:
// source and destination swap and the correspondent flag inverts.
func (m *Meta) RxIndex() Index {
	return Index{
		Remote:    !m.Correspondent,
		LocalID:   m.DstID,
		RemoteID:  m.SrcID,
		Sid:       m.Sid,
		Tid:       m.Tid,
		Broadcast: m.Broadcast,
	}
}

// packFlags packs the flag fields into one byte, msb first.
func (m *Meta) packFlags() uint8 {
	var b uint8
	if m.Correspondent {
		b |= 1 << 7
	}
	if m.Broadcast {
		b |= 1 << 6
	}
	if m.Pending {
		b |= 1 << 5
	}
	if m.All {
		b |= 1 << 4
	}
	return b
}

func (m *Meta) unpackFlags(b uint8) {
	m.Correspondent = b&(1<<7) != 0
	m.Broadcast = b&(1<<6) != 0
	m.Pending = b&(1<<5) != 0
	m.All = b&(1<<4) != 0
}

// Packet is one unit of transmission: either fully composed for transmit
// or fully parsed after receive. A packet that failed to parse records the
// failure in Err and must not be dispatched to a transaction.
type Packet struct {
	Meta Meta
	Data *Mapping // decoded body

	Packed []byte // full wire form
	Err    string // parse failure, empty when whole

	// segment views into Packed, set by ParseOuter
	neckSeg []byte
	bodySeg []byte
	tailSeg []byte
}

// NewPacket returns a packet with the given meta and an empty body.
func NewPacket(meta Meta) *Packet {
	return &Packet{Meta: meta, Data: NewMapping()}
}

// NewRxPacket wraps a received datagram for parsing.
func NewRxPacket(data []byte) *Packet {
	p := NewPacket(DefaultMeta())
	p.Packed = data
	return p
}

func (p *Packet) Size() int { return len(p.Packed) }

// Whole reports whether the packet parsed (or packed) without error.
func (p *Packet) Whole() bool { return p.Err == "" }

func (p *Packet) fail(msg string) {
	if p.Err == "" {
		p.Err = msg
	}
}
