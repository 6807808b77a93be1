package network

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
)

const quicALPN = "roadway-quic"

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert builds a deterministic self-signed certificate. QUIC requires
// TLS; roadway's own join/endow handshakes provide the real authentication,
// so the carrier certificate only has to satisfy the QUIC stack.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("roadway-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
}

// QUICCarrier moves roadway packets as QUIC datagrams, one datagram per
// packet. Inbound datagrams from accepted and dialed connections funnel
// into a buffered channel that Recv drains without blocking, so the stack
// keeps its poll-driven model.
type QUICCarrier struct {
	listener *quic.Listener
	addr     string

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]*quic.Conn

	inbox chan Datagram
}

func NewQUICCarrier(host string, port uint16) (*QUICCarrier, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	listener, err := quic.ListenAddr(addr, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, fmt.Errorf("quic listen: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &QUICCarrier{
		listener: listener,
		addr:     listener.Addr().String(),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[string]*quic.Conn),
		inbox:    make(chan Datagram, 1024),
	}
	go c.acceptLoop()
	return c, nil
}

func (c *QUICCarrier) Addr() string { return c.addr }

func (c *QUICCarrier) acceptLoop() {
	for {
		conn, err := c.listener.Accept(c.ctx)
		if err != nil {
			return
		}
		c.adopt(conn)
	}
}

func (c *QUICCarrier) adopt(conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	c.mu.Lock()
	c.conns[remote] = conn
	c.mu.Unlock()
	go c.receiveLoop(remote, conn)
}

func (c *QUICCarrier) receiveLoop(remote string, conn *quic.Conn) {
	for {
		data, err := conn.ReceiveDatagram(c.ctx)
		if err != nil {
			c.mu.Lock()
			if c.conns[remote] == conn {
				delete(c.conns, remote)
			}
			c.mu.Unlock()
			return
		}
		select {
		case c.inbox <- Datagram{Data: data, Src: remote, Dst: c.addr}:
		default:
			// Inbox saturated; drop rather than stall the connection.
		}
	}
}

// Recv pops one buffered datagram without blocking.
func (c *QUICCarrier) Recv() (Datagram, bool) {
	select {
	case d := <-c.inbox:
		return d, true
	default:
		return Datagram{}, false
	}
}

func (c *QUICCarrier) Send(dst string, data []byte) error {
	conn, err := c.connTo(dst)
	if err != nil {
		return err
	}
	if err := conn.SendDatagram(data); err != nil {
		c.mu.Lock()
		if c.conns[dst] == conn {
			delete(c.conns, dst)
		}
		c.mu.Unlock()
		return fmt.Errorf("quic send %s: %w", dst, err)
	}
	return nil
}

func (c *QUICCarrier) connTo(dst string) (*quic.Conn, error) {
	c.mu.Lock()
	conn, ok := c.conns[dst]
	c.mu.Unlock()
	if ok {
		return conn, nil
	}
	ctx, cancel := context.WithTimeout(c.ctx, 8*time.Second)
	defer cancel()
	conn, err := quic.DialAddr(ctx, dst, clientTLSConfig(), &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", dst, err)
	}
	c.adopt(conn)
	return conn, nil
}

func (c *QUICCarrier) Close() error {
	c.cancel()
	c.mu.Lock()
	for _, conn := range c.conns {
		_ = conn.CloseWithError(0, "carrier closed")
	}
	c.conns = make(map[string]*quic.Conn)
	c.mu.Unlock()
	return c.listener.Close()
}
