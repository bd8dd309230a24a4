package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"dbw-twist-core/utils"
)

// NATSSink publishes samples as JSON on a NATS subject.
type NATSSink struct {
	mu      sync.Mutex
	conn    *nats.Conn
	subject string
	log     *utils.Logger
}

// NewNATSSink returns an unconnected sink; Publish is a no-op until
// Connect succeeds.
func NewNATSSink(subject string, log *utils.Logger) *NATSSink {
	return &NATSSink{subject: subject, log: log}
}

// Connect dials the NATS server with unlimited reconnects.
func (p *NATSSink) Connect(natsURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("dbw-twist-telemetry"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			p.log.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.log.Info("NATS reconnected: %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			p.log.Debug("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", natsURL, err)
	}
	p.conn = conn
	p.log.Info("NATS connected: %s subject=%s", natsURL, p.subject)
	return nil
}

func (p *NATSSink) Publish(s Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (p *NATSSink) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && p.conn.IsConnected()
}

func (p *NATSSink) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		_ = p.conn.FlushTimeout(time.Second)
		p.conn.Close()
		p.conn = nil
	}
}
