// Package network provides datagram carriers for the roadway stack: plain
// UDP, QUIC datagrams, and an in-memory loopback switch for tests. A
// carrier never blocks the stack's service cycle; absence of inbound data
// is not an error.
package network

// Datagram is one raw packet tagged with its socket addresses.
type Datagram struct {
	Data []byte
	Src  string // host:port the packet arrived from
	Dst  string // host:port it was addressed to (the carrier's own address)
}

// Carrier moves raw datagrams. Recv must be non-blocking: it returns false
// immediately when nothing is pending.
type Carrier interface {
	Recv() (Datagram, bool)
	Send(dst string, data []byte) error
	Addr() string
	Close() error
}
