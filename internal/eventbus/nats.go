/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus onto NATS so external
// collaborators (alert escalation, notification delivery) can react to
// schedule changes without polling.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/incidentworks/vigil/internal/events"
)

// SubjectPrefix is prepended to every published event type.
const SubjectPrefix = "vigil.events."

// natsMessage is the wire envelope for bridged events.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Bridge forwards selected in-process events to NATS subjects.
type Bridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string
	stop   chan struct{}
}

// NewBridge connects to NATS and returns a bridge. The caller decides which
// event types to forward via Forward.
func NewBridge(url string, bus *events.Bus, logger zerolog.Logger) (*Bridge, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger = logger.With().Str("component", "eventbus").Logger()
	logger.Info().Str("url", url).Msg("NATS event bridge connected")

	return &Bridge{
		conn:   conn,
		bus:    bus,
		logger: logger,
		nodeID: uuid.NewString(),
		stop:   make(chan struct{}),
	}, nil
}

// Forward subscribes to eventType on the in-process bus and republishes
// every payload to the matching NATS subject until Close is called.
func (b *Bridge) Forward(eventType events.EventType) {
	sub := b.bus.Subscribe(eventType)
	subject := SubjectPrefix + string(eventType)

	go func() {
		for {
			select {
			case <-b.stop:
				b.bus.Unsubscribe(eventType, sub)
				return
			case payload, ok := <-sub:
				if !ok {
					return
				}
				data, err := json.Marshal(natsMessage{
					EventType: eventType,
					Payload:   payload,
					Timestamp: time.Now().UTC(),
					NodeID:    b.nodeID,
					MessageID: uuid.NewString(),
				})
				if err != nil {
					b.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal event")
					continue
				}
				if err := b.conn.Publish(subject, data); err != nil {
					b.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
				}
			}
		}
	}()
}

// Close stops forwarding and drains the NATS connection.
func (b *Bridge) Close() error {
	close(b.stop)
	if err := b.conn.Drain(); err != nil {
		return err
	}
	return nil
}
