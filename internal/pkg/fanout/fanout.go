// Package fanout carries encoded frames between service instances so that a
// publish on any instance reaches every connection bound to the channel.
package fanout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DriverLocal = "local"
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

var ErrClosed = errors.New("fanout adapter closed")

// LocalDeliverer hands a frame to the connections held by this instance.
// It returns how many connections accepted the frame.
type LocalDeliverer interface {
	DeliverLocal(channel string, payload []byte) int
}

// Adapter is the cross-instance delivery path. Delivery is at most once.
type Adapter interface {
	// Publish delivers locally, then forwards to the other instances.
	// A broker error is returned after local delivery has happened.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Run consumes frames from other instances until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_published_total",
		Help: "Frames handed to the fan-out broker.",
	}, []string{"driver"})

	publishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_publish_failures_total",
		Help: "Frames the fan-out broker rejected.",
	}, []string{"driver"})

	receivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_received_total",
		Help: "Frames received from other instances.",
	}, []string{"driver"})
)

// wireMessage is the broker payload shared by the redis and nats drivers
type wireMessage struct {
	Channel string          `json:"channel"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

func encodeWire(instanceID, channel string, payload []byte) ([]byte, error) {
	return json.Marshal(wireMessage{Channel: channel, Sender: instanceID, Payload: payload})
}

func decodeWire(raw []byte) (wireMessage, error) {
	var msg wireMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}

// Local is the single-instance adapter
type Local struct {
	local LocalDeliverer
}

// NewLocal creates an adapter that only delivers to this instance
func NewLocal(local LocalDeliverer) *Local {
	return &Local{local: local}
}

func (l *Local) Publish(_ context.Context, channel string, payload []byte) error {
	l.local.DeliverLocal(channel, payload)
	publishedTotal.WithLabelValues(DriverLocal).Inc()
	return nil
}

func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *Local) Close() error { return nil }
