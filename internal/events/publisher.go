// Package events publishes report outcomes to a message bus so downstream
// consumers can follow forwarding results without polling the device store.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"

	"gpsrelay/internal/core/model"
)

type Publisher interface {
	Publish(ctx context.Context, outcome *model.ReportOutcome) error
	Close()
}

// Encode is the wire form shared by every publisher.
func Encode(outcome *model.ReportOutcome) ([]byte, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("encode report outcome: %w", err)
	}
	return data, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *model.ReportOutcome) error { return nil }
func (nopPublisher) Close()                                             {}

// Nop discards every outcome.
func Nop() Publisher { return nopPublisher{} }

// Multi fans an outcome out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, outcome *model.ReportOutcome) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gpsrelay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Publish is buffered by the NATS client and does not wait for the server.
func (p *NATSPublisher) Publish(_ context.Context, outcome *model.ReportOutcome) error {
	data, err := Encode(outcome)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject+"."+outcome.UniqueID, data)
}

func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

func NewMQTTPublisher(broker, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("gpsrelay-" + fmt.Sprint(time.Now().UnixNano())).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect mqtt %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, err)
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

// Publish waits for the QoS 0 hand-off, bounded by ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, outcome *model.ReportOutcome) error {
	data, err := Encode(outcome)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic+"/"+outcome.UniqueID, 0, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
