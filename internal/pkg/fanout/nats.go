package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsSubjectPrefix = "social.fanout."

// NATSConfig holds connection settings for the nats driver
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// ConnectNATS dials the broker and keeps reconnecting forever
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	nc, err := nats.Connect(cfg.URL, natsOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return nc, nil
}

// natsOptions disables the reconnect buffer so publishes fail while the
// broker is away instead of queueing for replay.
func natsOptions(cfg NATSConfig) []nats.Option {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	return []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
}

// SubjectFor maps a fan-out channel to its NATS subject
func SubjectFor(channel string) string {
	return natsSubjectPrefix + strings.ReplaceAll(channel, ".", "_")
}

// NATS forwards frames through core NATS subjects, one per channel
type NATS struct {
	nc         *nats.Conn
	local      LocalDeliverer
	instanceID string
}

// NewNATS creates nats fan-out adapter
func NewNATS(nc *nats.Conn, local LocalDeliverer, instanceID string) *NATS {
	return &NATS{nc: nc, local: local, instanceID: instanceID}
}

func (n *NATS) Publish(_ context.Context, channel string, payload []byte) error {
	n.local.DeliverLocal(channel, payload)

	msg, err := encodeWire(n.instanceID, channel, payload)
	if err != nil {
		return fmt.Errorf("fanout encode: %w", err)
	}
	if err := n.nc.Publish(SubjectFor(channel), msg); err != nil {
		publishFailuresTotal.WithLabelValues(DriverNATS).Inc()
		return fmt.Errorf("nats publish: %w", err)
	}
	publishedTotal.WithLabelValues(DriverNATS).Inc()
	return nil
}

// Run subscribes to every channel subject until ctx is done
func (n *NATS) Run(ctx context.Context) error {
	sub, err := n.nc.Subscribe(natsSubjectPrefix+"*", func(m *nats.Msg) {
		n.handle(m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := sub.SetPendingLimits(1_000_000, 64*1024*1024); err != nil {
		log.Warn().Err(err).Msg("Failed to raise fan-out pending limits")
	}
	log.Info().Str("subject", natsSubjectPrefix+"*").Msg("Fan-out subscriber started")

	<-ctx.Done()
	return sub.Drain()
}

func (n *NATS) handle(raw []byte) {
	msg, err := decodeWire(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed fan-out frame")
		return
	}
	if msg.Sender == n.instanceID {
		return
	}
	receivedTotal.WithLabelValues(DriverNATS).Inc()
	n.local.DeliverLocal(msg.Channel, msg.Payload)
}

// Close drains the connection
func (n *NATS) Close() error {
	if n.nc == nil || n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}
