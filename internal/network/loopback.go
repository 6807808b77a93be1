package network

import (
	"fmt"
	"sync"
)

// Switch is an in-memory datagram fabric for tests: carriers attached to
// the same switch exchange packets by address with no sockets involved.
type Switch struct {
	mu     sync.Mutex
	queues map[string][]Datagram
}

func NewSwitch() *Switch {
	return &Switch{queues: make(map[string][]Datagram)}
}

// Attach creates a carrier bound to addr on this switch.
func (s *Switch) Attach(addr string) *LoopCarrier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[addr]; !ok {
		s.queues[addr] = nil
	}
	return &LoopCarrier{sw: s, addr: addr}
}

// Drop detaches addr from the switch, discarding anything queued for it;
// used to simulate a vanished peer.
func (s *Switch) Drop(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queues[addr])
	delete(s.queues, addr)
	return n
}

// Mangle rewrites the newest datagram queued for addr in place; tests use
// it to corrupt packets in flight.
func (s *Switch) Mangle(addr string, fn func(data []byte)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[addr]
	if len(q) == 0 {
		return false
	}
	fn(q[len(q)-1].Data)
	return true
}

// LoopCarrier is one endpoint on a Switch.
type LoopCarrier struct {
	sw   *Switch
	addr string
}

func (c *LoopCarrier) Addr() string { return c.addr }

func (c *LoopCarrier) Recv() (Datagram, bool) {
	c.sw.mu.Lock()
	defer c.sw.mu.Unlock()
	q := c.sw.queues[c.addr]
	if len(q) == 0 {
		return Datagram{}, false
	}
	d := q[0]
	c.sw.queues[c.addr] = q[1:]
	return d, true
}

func (c *LoopCarrier) Send(dst string, data []byte) error {
	c.sw.mu.Lock()
	defer c.sw.mu.Unlock()
	if _, ok := c.sw.queues[dst]; !ok {
		return fmt.Errorf("loopback: no carrier at %s", dst)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sw.queues[dst] = append(c.sw.queues[dst], Datagram{Data: buf, Src: c.addr, Dst: dst})
	return nil
}

func (c *LoopCarrier) Close() error { return nil }
