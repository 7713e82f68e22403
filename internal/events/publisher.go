// Package events publishes collection-lifecycle notifications over NATS.
// The heap is always the publisher here, never a subscriber, and
// publishing happens inline on the mutator goroutine right after a
// collection completes. No background goroutine is spawned, since the
// mutator is assumed single-threaded and a stray goroutine touching the
// heap's counters after Collect returns would race it.
package events

import (
	"encoding/json"
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

const defaultSubject = "heapgc.collected"

// Config configures the publisher's NATS connection.
type Config struct {
	Address       string
	Subject       string
	Username      string
	Password      string
	CredsFilePath string
}

// Publisher wraps a single NATS connection dedicated to lifecycle events.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// CollectedEvent is the JSON payload published after every collection.
type CollectedEvent struct {
	HeapID      string  `json:"heap_id"`
	Backend     string  `json:"backend"`
	Kind        string  `json:"kind"`
	Collections uint64  `json:"collections"`
	PauseMS     float64 `json:"pause_ms"`
	LiveBytes   uint64  `json:"live_bytes"`
}

// NewPublisher connects to cfg.Address. A missing address is treated as
// "events disabled" by the caller (pkg/heap.Open), not as an error here.
func NewPublisher(cfg Config) (*Publisher, error) {
	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			cclog.Warnf("[HEAPGC]> events: NATS disconnected: %s", err.Error())
		}
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: NATS connect failed: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}

	cclog.Infof("[HEAPGC]> events: connected to %s, publishing on %s", cfg.Address, subject)
	return &Publisher{conn: nc, subject: subject}, nil
}

// PublishCollected marshals and publishes a CollectedEvent for the
// collection cycle just completed. A publish failure is logged and
// swallowed: lifecycle events are diagnostic, not part of the mutator
// contract, and must never become a reason to fail a collection.
func (p *Publisher) PublishCollected(heapID, backend string, stats common.Stats) {
	ev := CollectedEvent{
		HeapID:      heapID,
		Backend:     backend,
		Kind:        "collect",
		Collections: stats.Collections,
		PauseMS:     stats.LastPauseMS,
		LiveBytes:   stats.CurrentBytes,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		cclog.Warnf("[HEAPGC]> events: failed to marshal event: %s", err.Error())
		return
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		cclog.Warnf("[HEAPGC]> events: publish failed: %s", err.Error())
	}
}

// Close flushes and closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Flush(); err != nil {
		cclog.Warnf("[HEAPGC]> events: flush on close failed: %s", err.Error())
	}
	p.conn.Close()
}
