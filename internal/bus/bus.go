// Package bus runs an embedded NATS server and publishes lifecycle events on
// it, so sidecar tooling (overlays, stream widgets) can subscribe without
// polling the admin API.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/mcwarden/warden/internal/domain"
)

const readyTimeout = 5 * time.Second

// SubjectPrefix is prepended to the event type to form the publish subject,
// e.g. warden.events.death.
const SubjectPrefix = "warden.events."

// Bus owns the embedded server and its local client connection.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
}

// Start launches the embedded server on localhost:port and connects to it.
func Start(port int) (*Bus, error) {
	srv, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring event bus server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("event bus server not ready after %v", readyTimeout)
	}

	conn, err := nats.Connect(srv.ClientURL(), nats.Name("warden"))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to event bus: %w", err)
	}
	log.Printf("[bus] event bus listening on %s", srv.ClientURL())
	return &Bus{srv: srv, conn: conn}, nil
}

// ClientURL returns the address subscribers should connect to.
func (b *Bus) ClientURL() string {
	return b.srv.ClientURL()
}

// Publish sends an event envelope on warden.events.<type>. Failures are
// logged, never surfaced: the bus is an observer, not a dependency.
func (b *Bus) Publish(eventType string, data interface{}) {
	payload, err := json.Marshal(domain.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		log.Printf("[bus] failed to encode %s event: %v", eventType, err)
		return
	}
	if err := b.conn.Publish(SubjectPrefix+eventType, payload); err != nil {
		log.Printf("[bus] failed to publish %s event: %v", eventType, err)
	}
}

// Close flushes the client and shuts the embedded server down.
func (b *Bus) Close() {
	if err := b.conn.Flush(); err != nil {
		log.Printf("[bus] flush on close: %v", err)
	}
	b.conn.Close()
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
}
