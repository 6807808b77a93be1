// Package wire implements the roadway packet format: a JSON head with a
// self-referential length field, an authentication neck, a JSON body, and
// an encryption tail, concatenated into one datagram.
package wire

// HeadKind selects the framing format of the head segment.
type HeadKind uint8

const (
	HeadJSON    HeadKind = 1
	HeadUnknown HeadKind = 255
)

// NeckKind selects the authentication scheme of the neck segment.
type NeckKind uint8

const (
	NeckNone NeckKind = 0
	NeckNaCl NeckKind = 1

	// Signature-sized placeholder. Signing of the neck is not implemented;
	// see VerifyNeck.
	NeckSizeNaCl = 64
)

// BodyKind selects the payload encoding of the body segment.
type BodyKind uint8

const (
	BodyNone BodyKind = 0
	BodyJSON BodyKind = 1
)

// TailKind selects the confidentiality scheme applied to the body.
type TailKind uint8

const (
	TailNone TailKind = 0
	TailNaCl TailKind = 1

	// With TailNaCl the body segment carries the box ciphertext and the
	// tail segment carries the 24-byte nonce.
	TailSizeNaCl = 24
)

// PacketKind identifies one step within a transaction exchange.
type PacketKind uint8

const (
	PkUnknown  PacketKind = 0
	PkRequest  PacketKind = 1
	PkAck      PacketKind = 2
	PkResponse PacketKind = 3
	PkHello    PacketKind = 4
	PkCookie   PacketKind = 5
	PkInitiate PacketKind = 6
	PkMessage  PacketKind = 7
)

// TransKind identifies the transaction family a packet belongs to.
type TransKind uint8

const (
	TransNone    TransKind = 0
	TransJoin    TransKind = 1
	TransEndow   TransKind = 2
	TransMessage TransKind = 3
)

const (
	// Version is the only wire protocol version in existence.
	Version = 1

	// DefaultPort is the well-known roadway port used for bootstrap.
	DefaultPort = 7530

	// TestPort is the conventional second port used by paired test stacks.
	TestPort = 7531

	// DefaultHost is the bootstrap destination host.
	DefaultHost = "127.0.0.1"

	// MaxHeadLen bounds the head segment; the hl field is two hex digits.
	MaxHeadLen = 255

	// JSONEnd terminates a JSON head segment.
	JSONEnd = "\r\n\r\n"

	// headSignature is the leading byte sequence of every JSON head.
	headSignature = `{"hk":1,`
)
