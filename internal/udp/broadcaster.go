package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"soil-rover/internal/sim"
)

type udpConn interface {
	io.Writer
	io.Closer
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Broadcaster sends rover telemetry as one JSON datagram per state snapshot.
type Broadcaster struct {
	dest string
	conn udpConn
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{
		dest: dest,
		conn: conn,
	}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// SendState encodes st as JSON and sends it as a single datagram.
func (b *Broadcaster) SendState(st sim.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return b.Send(payload)
}

// Run sends a snapshot from src every interval until ctx is done. sent, if
// non-nil, is called after every successful datagram. Send errors are logged
// at most once per streak so a missing receiver does not flood the log.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, src func() sim.State, sent func()) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := b.SendState(src()); err != nil {
				if !failing {
					log.Printf("telemetry send to %s failed: %v", b.dest, err)
				}
				failing = true
				continue
			}
			if failing {
				log.Printf("telemetry send to %s recovered", b.dest)
			}
			failing = false
			if sent != nil {
				sent()
			}
		}
	}
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
