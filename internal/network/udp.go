package network

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// maxDatagram bounds one read; roadway packets are far smaller but the
// carrier should not truncate oversized garbage silently.
const maxDatagram = 65535

// UDPCarrier is a non-blocking wrapper around one UDP socket. Reads use a
// zero deadline so a service tick drains only what is already queued.
type UDPCarrier struct {
	conn *net.UDPConn
	addr string
	buf  []byte
}

func NewUDPCarrier(host string, port uint16) (*UDPCarrier, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(host), Port: int(port)}
	if host == "" {
		laddr.IP = nil
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp listen: %w", err)
	}
	return &UDPCarrier{
		conn: conn,
		addr: conn.LocalAddr().String(),
		buf:  make([]byte, maxDatagram),
	}, nil
}

func (c *UDPCarrier) Addr() string { return c.addr }

// Recv returns one pending datagram, or false when the socket is empty.
func (c *UDPCarrier) Recv() (Datagram, bool) {
	if err := c.conn.SetReadDeadline(time.Now()); err != nil {
		return Datagram{}, false
	}
	n, src, err := c.conn.ReadFromUDP(c.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Datagram{}, false
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Datagram{}, false
		}
		return Datagram{}, false
	}
	data := make([]byte, n)
	copy(data, c.buf[:n])
	return Datagram{Data: data, Src: src.String(), Dst: c.addr}, true
}

func (c *UDPCarrier) Send(dst string, data []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return fmt.Errorf("udp resolve %s: %w", dst, err)
	}
	if _, err := c.conn.WriteToUDP(data, raddr); err != nil {
		return fmt.Errorf("udp send %s: %w", dst, err)
	}
	return nil
}

func (c *UDPCarrier) Close() error { return c.conn.Close() }
