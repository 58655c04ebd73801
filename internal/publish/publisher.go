package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"soil-rover/internal/sim"
)

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher sends completed samples to a NATS subject as JSON. An unconnected
// Publisher drops samples silently, so callers can wire it unconditionally.
type Publisher struct {
	mu      sync.Mutex
	conn    conn
	subject string
}

func NewPublisher(subject string) *Publisher {
	return &Publisher{subject: subject}
}

// Connect dials url. The connection retries forever in the background once
// established.
func (p *Publisher) Connect(url string) error {
	opts := []nats.Option{
		nats.Name("soil-rover"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected url=%s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	p.mu.Lock()
	p.conn = nc
	p.mu.Unlock()
	log.Printf("nats connected url=%s subject=%s", url, p.subject)
	return nil
}

// Enabled reports whether a connection is established. A nil Publisher is
// never enabled.
func (p *Publisher) Enabled() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *Publisher) PublishSample(s sim.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
